package nutrition

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"growth-assessor/internal/child"
	"growth-assessor/internal/llm"
	"growth-assessor/internal/logger"
	"growth-assessor/internal/shared"
	"growth-assessor/internal/store"
)

//go:embed nutrition_prompt.md
var nutritionPrompt string

var promptTmpl = template.Must(template.New("nutrition").Parse(nutritionPrompt))

// AgentName labels planning calls in execution metrics.
const AgentName = "Planner"

// DefaultTimeout is how long a plan request may run before the fallback
// wins the race.
const DefaultTimeout = 45 * time.Second

// MetricsRecorder persists per-call metadata.
type MetricsRecorder interface {
	RecordMeta(ctx context.Context, meta shared.AgentMeta) error
}

// Outcome is a plan plus how it was obtained.
type Outcome struct {
	Plan   Plan
	Source shared.Outcome
	// AIError is the suppressed failure behind a fallback plan, if any.
	AIError error
	// Defaulted lists input fields replaced by documented defaults.
	Defaulted []string
}

// CacheHit reports whether the plan came from the store.
func (o Outcome) CacheHit() bool { return o.Source == shared.OutcomeCache }

// Fallback reports whether the plan was synthesized locally.
func (o Outcome) Fallback() bool { return o.Plan.Fallback }

// Planner turns child data into a cached nutrition plan.
type Planner struct {
	results *store.Results
	text    llm.TextGenerator
	metrics MetricsRecorder
	log     *logger.Logger
	timeout time.Duration
	tracer  trace.Tracer
	flights singleflight.Group
}

// Option configures a Planner.
type Option func(*Planner)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMetrics records every AI attempt.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Planner) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPlanner creates a Planner backed by results and text.
func NewPlanner(results *store.Results, text llm.TextGenerator, opts ...Option) *Planner {
	p := &Planner{
		results: results,
		text:    text,
		log:     logger.NewNop(),
		timeout: DefaultTimeout,
		tracer:  otel.Tracer("growth-assessor/nutrition"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanRecord plans for an already canonical record.
func (p *Planner) PlanRecord(ctx context.Context, rec child.Record) (Outcome, error) {
	return p.Plan(ctx, child.InputFromRecord(rec))
}

// Cached returns the stored plan for rec without calling the AI.
func (p *Planner) Cached(ctx context.Context, rec child.Record) (Plan, bool) {
	return store.Load(ctx, p.results, store.NutritionKey(child.NutritionKey(rec)), Plan.Valid)
}

// Plan returns a nutrition plan for in. Missing or malformed fields are
// replaced with documented defaults first, so Plan produces a result
// unless ctx is done before the shared call finishes; AI problems surface
// only through Outcome.AIError.
func (p *Planner) Plan(ctx context.Context, in child.Input) (Outcome, error) {
	in, defaulted := child.WithNutritionDefaults(in)
	if len(defaulted) > 0 {
		p.log.Warn("Nutrition input defaulted", "fields", defaulted)
	}
	rec, _ := child.Normalize(in)
	identity := child.NutritionKey(rec)

	ctx, span := p.tracer.Start(ctx, "nutrition.Plan")
	defer span.End()

	if plan, ok := p.Cached(ctx, rec); ok {
		span.SetAttributes(attribute.String("nutrition.source", string(shared.OutcomeCache)))
		return Outcome{Plan: plan, Source: shared.OutcomeCache, Defaulted: defaulted}, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := p.flights.DoChan(identity, func() (any, error) {
		if plan, ok := p.Cached(flightCtx, rec); ok {
			return Outcome{Plan: plan, Source: shared.OutcomeCache}, nil
		}
		out := p.plan(flightCtx, rec)
		if err := store.Save(flightCtx, p.results, store.NutritionKey(identity), out.Plan); err != nil {
			p.log.Error("Failed to store nutrition plan", "key", identity, "error", err)
		}
		return out, nil
	})

	var out Outcome
	select {
	case r := <-ch:
		out = r.Val.(Outcome)
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return Outcome{Defaulted: defaulted}, ctx.Err()
	}
	out.Defaulted = defaulted

	span.SetAttributes(
		attribute.String("nutrition.source", string(out.Source)),
		attribute.Int("nutrition.daily_calories", out.Plan.DailyCalories),
	)
	return out, nil
}

func (p *Planner) plan(ctx context.Context, rec child.Record) Outcome {
	plan, err := p.callAI(ctx, rec)
	if err != nil {
		p.log.Warn("AI nutrition plan failed, using fallback plan", "key", child.NutritionKey(rec), "error", err)
		return Outcome{Plan: Fallback(rec), Source: shared.OutcomeFallback, AIError: err}
	}
	return Outcome{Plan: plan, Source: shared.OutcomeAI}
}

type generation struct {
	resp llm.ContentResponse
	err  error
}

// callAI races the model against the planner timeout. When the timeout
// wins, the call's context is cancelled.
func (p *Planner) callAI(ctx context.Context, rec child.Record) (Plan, error) {
	if p.text == nil {
		return Plan{}, errors.New("no text model configured")
	}
	prompt, err := buildPrompt(rec)
	if err != nil {
		return Plan{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan generation, 1)
	go func() {
		resp, err := p.text.GenerateContent(ctx, prompt)
		done <- generation{resp: resp, err: err}
	}()

	var g generation
	select {
	case g = <-done:
	case <-ctx.Done():
		g.err = fmt.Errorf("nutrition plan timed out after %s: %w", p.timeout, ctx.Err())
	}

	meta := shared.AgentMeta{AgentName: AgentName, Usage: g.resp.Usage, Latency: time.Since(start), Outcome: shared.OutcomeAI}
	var plan Plan
	if g.err == nil {
		plan, g.err = reshape(g.resp.Content)
	}
	if g.err != nil {
		meta.Outcome = shared.OutcomeFallback
	}
	p.record(ctx, meta)
	return plan, g.err
}

func (p *Planner) record(ctx context.Context, meta shared.AgentMeta) {
	if p.metrics == nil {
		return
	}
	if err := p.metrics.RecordMeta(context.WithoutCancel(ctx), meta); err != nil {
		p.log.Warn("Failed to record nutrition metric", "error", err)
	}
}

type promptData struct {
	Age         string
	Percentile  string
	ProfileJSON string
}

func buildPrompt(rec child.Record) (string, error) {
	profile := rec.Profile()
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal child profile: %w", err)
	}
	var buf bytes.Buffer
	err = promptTmpl.Execute(&buf, promptData{
		Age:         profile.Age,
		Percentile:  profile.Percentile,
		ProfileJSON: string(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render nutrition prompt: %w", err)
	}
	return buf.String(), nil
}
