// Package app wires configuration, storage, AI clients and the workflow
// together for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"growth-assessor/internal/assessment"
	"growth-assessor/internal/config"
	"growth-assessor/internal/database"
	"growth-assessor/internal/llm"
	"growth-assessor/internal/logger"
	"growth-assessor/internal/metrics"
	"growth-assessor/internal/nutrition"
	"growth-assessor/internal/observability"
	"growth-assessor/internal/store"
	"growth-assessor/internal/workflow"
)

// Version is reported to the tracer provider.
const Version = "0.1.0"

// App holds the application's dependencies.
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	DB       *database.DB
	Store    store.KeyValueStore
	Metrics  *metrics.Store
	Workflow *workflow.Workflow

	closers  []io.Closer
	shutdown func(context.Context) error
}

// Option adjusts how New builds the app.
type Option func(*options)

type options struct {
	vision     llm.VisionGenerator
	text       llm.TextGenerator
	workflow   []workflow.Option
	serviceTag string
}

// WithGenerators replaces the configured AI clients.
func WithGenerators(vision llm.VisionGenerator, text llm.TextGenerator) Option {
	return func(o *options) {
		o.vision, o.text = vision, text
	}
}

// WithWorkflowOptions passes options through to workflow.New.
func WithWorkflowOptions(opts ...workflow.Option) Option {
	return func(o *options) {
		o.workflow = append(o.workflow, opts...)
	}
}

// WithServiceName names the binary in traces.
func WithServiceName(name string) Option {
	return func(o *options) {
		o.serviceTag = name
	}
}

// New opens the database and result store, builds the AI clients and
// returns a ready workflow. Close releases everything it opened.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	o := options{serviceTag: "growth-assessor"}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.NewNop()
	}

	a := &App{Config: cfg, Log: log}
	a.shutdown = observability.Init(ctx, log, observability.Config{
		Enabled:     cfg.OtelEnabled,
		ServiceName: o.serviceTag,
		Version:     Version,
	})

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db)
	a.Metrics = metrics.NewStore(db.SQL)

	kv, err := store.Open(ctx, store.Options{
		Backend:   cfg.StoreBackend,
		FilePath:  cfg.FileStorePath,
		RedisAddr: cfg.RedisAddr,
		Capacity:  cfg.CacheCapacity,
		TTL:       cfg.CacheTTL,
		DB:        db.SQL,
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to open %s result store: %w", cfg.StoreBackend, err)
	}
	a.Store = kv
	if c, ok := kv.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	vision, text := o.vision, o.text
	if vision == nil || text == nil {
		v, t, err := a.generators(ctx)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		if vision == nil {
			vision = v
		}
		if text == nil {
			text = t
		}
	}

	results := store.NewResults(kv, log)
	classifier := assessment.NewClassifier(results, vision,
		assessment.WithTimeout(cfg.AssessmentTimeout),
		assessment.WithMetrics(a.Metrics),
		assessment.WithLogger(log),
	)
	planner := nutrition.NewPlanner(results, text,
		nutrition.WithTimeout(cfg.PlannerTimeout),
		nutrition.WithMetrics(a.Metrics),
		nutrition.WithLogger(log),
	)
	a.Workflow = workflow.New(kv, classifier, planner, append([]workflow.Option{workflow.WithLogger(log)}, o.workflow...)...)

	log.Info("Application initialized",
		"store", cfg.StoreBackend,
		"nutrition_provider", cfg.NutritionProvider,
		"proxy", cfg.ProxyURL != "",
	)
	return a, nil
}

// generators builds the vision and text clients from configuration. With
// PROXY_URL set both go through the backend proxy; otherwise the Gemini
// SDK is used, with Groq optionally taking over nutrition.
func (a *App) generators(ctx context.Context) (llm.VisionGenerator, llm.TextGenerator, error) {
	cfg := a.Config
	if cfg.ProxyURL != "" {
		p := llm.NewProxyClient(cfg.ProxyURL)
		return p, p, nil
	}

	vision, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.AssessmentModel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	a.closers = append(a.closers, vision)

	if cfg.NutritionProvider == "groq" {
		return vision, llm.NewGroqClient(cfg.GroqAPIKey, cfg.GroqModel), nil
	}
	if cfg.NutritionModel == cfg.AssessmentModel {
		return vision, vision, nil
	}

	text, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.NutritionModel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	a.closers = append(a.closers, text)
	return vision, text, nil
}

// Close releases clients, stores and the database in reverse order and
// flushes pending spans.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
		a.shutdown = nil
	}
	return errors.Join(errs...)
}
