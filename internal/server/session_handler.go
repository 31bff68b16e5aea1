package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"growth-assessor/internal/assessment"
	"growth-assessor/internal/child"
	"growth-assessor/internal/logger"
	"growth-assessor/internal/workflow"
)

// SessionHeader carries the session identifier in both directions.
const SessionHeader = "X-Session-ID"

// IntakePath is where clients are sent when a session has no usable data.
const IntakePath = "/get-started"

const sessionKey = "session"

type sessionHandler struct {
	wf  *workflow.Workflow
	log *logger.Logger
}

// attach resolves the session from the header, issuing a new id when the
// client has none.
func (h *sessionHandler) attach(c *gin.Context) {
	id := c.GetHeader(SessionHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	c.Header(SessionHeader, id)
	c.Set(sessionKey, h.wf.Session(id))
	c.Next()
}

func session(c *gin.Context) *workflow.Session {
	return c.MustGet(sessionKey).(*workflow.Session)
}

// recordView is a record as returned to clients: the photo is replaced by
// a flag.
type recordView struct {
	child.Record
	Photo    string `json:"photo,omitempty"`
	HasPhoto bool   `json:"hasPhoto"`
}

func viewOf(rec child.Record) recordView {
	return recordView{Record: rec, HasPhoto: rec.HasPhoto()}
}

func (h *sessionHandler) status(c *gin.Context) {
	s := session(c)
	state, err := s.State(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to read session")
		return
	}
	resp := gin.H{"sessionId": s.ID(), "state": state.String()}
	if state != workflow.NoData {
		if rec, err := s.Record(c.Request.Context()); err == nil {
			resp["record"] = viewOf(rec)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *sessionHandler) intake(c *gin.Context) {
	var in child.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid intake data: "+err.Error())
		return
	}
	s := session(c)
	rec, defaulted, err := s.Submit(c.Request.Context(), in)
	if err != nil {
		h.log.Error("Failed to submit intake", "session", s.ID(), "error", err)
		respondError(c, http.StatusInternalServerError, "Failed to save child data")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": s.ID(),
		"record":    viewOf(rec),
		"defaulted": nonNil(defaulted),
	})
}

func (h *sessionHandler) assess(c *gin.Context) {
	s := session(c)
	rec, out, err := s.Assess(c.Request.Context())
	if h.redirected(c, err) {
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to assess child")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":   viewOf(rec),
		"result":   out.Result,
		"source":   out.Source,
		"fallback": out.Fallback(),
	})
}

func (h *sessionHandler) nutrition(c *gin.Context) {
	s := session(c)
	rec, out, err := s.Nutrition(c.Request.Context())
	if h.redirected(c, err) {
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to build nutrition plan")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":    viewOf(rec),
		"plan":      out.Plan,
		"source":    out.Source,
		"fallback":  out.Fallback(),
		"defaulted": nonNil(out.Defaulted),
	})
}

// redirected answers 409 with a pointer back to intake when the session
// has no usable record.
func (h *sessionHandler) redirected(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, workflow.ErrNoData):
		respondRedirect(c, http.StatusConflict, "No child data found, please enter measurements first", IntakePath)
	case errors.Is(err, assessment.ErrUnusableRecord):
		respondRedirect(c, http.StatusConflict, "Height and weight are required for an assessment", IntakePath)
	default:
		return false
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
