package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"growth-assessor/internal/logger"
	"growth-assessor/internal/proxy"
)

type proxyHandler struct {
	fwd Forwarder
	log *logger.Logger
}

func (h *proxyHandler) handle(model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, proxy.MaxBodyBytes))
		if err != nil {
			respondError(c, http.StatusBadRequest, "Request body is too large or unreadable")
			return
		}

		status, resp, err := h.fwd.Forward(c.Request.Context(), model, body)
		switch {
		case errors.Is(err, proxy.ErrBadRequest):
			respondError(c, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			h.log.Error("Gemini proxy request failed", "model", model, "error", err)
			respondError(c, http.StatusInternalServerError, "Failed to get response from Gemini")
			return
		}
		c.Data(status, "application/json", resp)
	}
}
