// Package server is the HTTP surface: the Gemini proxy routes, a health
// probe and a JSON API over the session workflow.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"growth-assessor/internal/logger"
	"growth-assessor/internal/workflow"
)

// Forwarder sends a raw generateContent body to a model.
type Forwarder interface {
	Forward(ctx context.Context, model string, body []byte) (int, []byte, error)
}

// Config wires the server's collaborators.
type Config struct {
	Log             *logger.Logger
	Forwarder       Forwarder
	AssessmentModel string
	NutritionModel  string
	// Workflow enables the session API when set.
	Workflow          *workflow.Workflow
	FrontendURL       string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	ServiceName       string
	Tracing           bool
}

// Server holds the gin engine.
type Server struct {
	Engine *gin.Engine
	log    *logger.Logger
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing {
		name := cfg.ServiceName
		if name == "" {
			name = "growth-server"
		}
		r.Use(otelgin.Middleware(name))
	}
	r.Use(RequestLogger(cfg.Log))
	r.Use(CORS(cfg.FrontendURL))

	r.GET("/health", health)

	api := r.Group("/api")
	api.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

	if cfg.Forwarder != nil {
		p := &proxyHandler{fwd: cfg.Forwarder, log: cfg.Log}
		api.POST("/gemini/assessment", p.handle(cfg.AssessmentModel))
		api.POST("/gemini/nutrition", p.handle(cfg.NutritionModel))
	}

	if cfg.Workflow != nil {
		s := &sessionHandler{wf: cfg.Workflow, log: cfg.Log}
		session := api.Group("/session")
		session.Use(s.attach)
		session.GET("", s.status)
		session.POST("/intake", s.intake)
		session.POST("/assessment", s.assess)
		session.POST("/nutrition", s.nutrition)
	}

	return &Server{Engine: r, log: cfg.Log}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"message": "Growth assessment proxy is running",
	})
}
