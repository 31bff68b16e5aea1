package server

import "github.com/gin-gonic/gin"

type errorBody struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorBody{Error: msg})
}

func respondRedirect(c *gin.Context, status int, msg, to string) {
	c.JSON(status, errorBody{Error: msg, Redirect: to})
}
