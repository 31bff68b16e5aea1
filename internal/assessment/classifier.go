package assessment

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

//go:embed assessment_prompt.md
var assessmentPrompt string

var promptTmpl = template.Must(template.New("assessment").Parse(assessmentPrompt))

// AgentName labels assessment calls in execution metrics.
const AgentName = "Assessor"

// DefaultTimeout bounds one AI classification call.
const DefaultTimeout = 60 * time.Second

// ErrUnusableRecord means the record lacks the measurements any
// classification needs; callers should send the user back to intake.
var ErrUnusableRecord = errors.New("child record has no usable height and weight")

// MetricsRecorder persists per-call metadata.
type MetricsRecorder interface {
	RecordMeta(ctx context.Context, meta shared.AgentMeta) error
}

// Outcome is a classification plus how it was obtained.
type Outcome struct {
	Result Result
	Source shared.Outcome
	// AIError is the suppressed failure behind a fallback result, if any.
	AIError error
}

// CacheHit reports whether the result came from the store.
func (o Outcome) CacheHit() bool { return o.Source == shared.OutcomeCache }

// Fallback reports whether the result was synthesized locally.
func (o Outcome) Fallback() bool { return o.Result.Fallback }

// Classifier turns a canonical record into a cached classification.
type Classifier struct {
	results *store.Results
	vision  llm.VisionGenerator
	metrics MetricsRecorder
	log     *logger.Logger
	timeout time.Duration
	tracer  trace.Tracer
	flights singleflight.Group
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records every AI attempt.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Classifier) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClassifier creates a Classifier backed by results and vision.
func NewClassifier(results *store.Results, vision llm.VisionGenerator, opts ...Option) *Classifier {
	c := &Classifier{
		results: results,
		vision:  vision,
		log:     logger.NewNop(),
		timeout: DefaultTimeout,
		tracer:  otel.Tracer("growth-assessor/assessment"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cached returns the stored result for rec without calling the AI.
func (c *Classifier) Cached(ctx context.Context, rec child.Record) (Result, bool) {
	return store.Load(ctx, c.results, store.AssessmentKey(child.AssessmentKey(rec)), Result.Valid)
}

// Classify returns the classification for rec. Once rec has height and
// weight it fails only when ctx is done first: AI problems are reported
// through Outcome.AIError and replaced by a fallback. Concurrent calls for
// the same identity key share one AI call, which keeps running for the
// remaining callers when one of them leaves.
func (c *Classifier) Classify(ctx context.Context, rec child.Record) (Outcome, error) {
	if !rec.HasMeasurements() {
		return Outcome{}, ErrUnusableRecord
	}

	identity := child.AssessmentKey(rec)
	ctx, span := c.tracer.Start(ctx, "assessment.Classify",
		trace.WithAttributes(attribute.Bool("child.has_photo", rec.HasPhoto())))
	defer span.End()

	if res, ok := c.Cached(ctx, rec); ok {
		span.SetAttributes(attribute.String("assessment.source", string(shared.OutcomeCache)))
		return Outcome{Result: res, Source: shared.OutcomeCache}, nil
	}

	// the flight outlives any single caller's cancellation
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(identity, func() (any, error) {
		if res, ok := c.Cached(flightCtx, rec); ok {
			return Outcome{Result: res, Source: shared.OutcomeCache}, nil
		}
		out := c.classify(flightCtx, rec)
		if err := store.Save(flightCtx, c.results, store.AssessmentKey(identity), out.Result); err != nil {
			c.log.Error("Failed to store assessment result", "key", identity, "error", err)
		}
		return out, nil
	})

	var out Outcome
	select {
	case r := <-ch:
		out = r.Val.(Outcome)
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return Outcome{}, ctx.Err()
	}

	span.SetAttributes(
		attribute.String("assessment.source", string(out.Source)),
		attribute.String("assessment.classification", out.Result.Classification),
	)
	return out, nil
}

func (c *Classifier) classify(ctx context.Context, rec child.Record) Outcome {
	if !rec.HasPhoto() {
		c.log.Info("No photo supplied, using measurement-only assessment", "child", rec.Describe())
		return Outcome{Result: MeasurementFallback(rec), Source: shared.OutcomeFallback}
	}

	img, err := llm.ParseDataURI(rec.Photo)
	if err != nil {
		c.log.Warn("Photo is not a usable data URI, using percentile assessment", "child", rec.Describe(), "error", err)
		return Outcome{Result: PercentileFallback(rec), Source: shared.OutcomeFallback, AIError: err}
	}

	res, err := c.callAI(ctx, rec, img)
	if err != nil {
		c.log.Warn("AI assessment failed, using percentile assessment", "key", child.AssessmentKey(rec), "error", err)
		return Outcome{Result: PercentileFallback(rec), Source: shared.OutcomeFallback, AIError: err}
	}
	return Outcome{Result: res, Source: shared.OutcomeAI}
}

func (c *Classifier) callAI(ctx context.Context, rec child.Record, img llm.Image) (Result, error) {
	if c.vision == nil {
		return Result{}, errors.New("no vision model configured")
	}
	prompt, err := buildPrompt(rec)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.vision.GenerateWithImage(ctx, prompt, img)
	meta := shared.AgentMeta{AgentName: AgentName, Usage: resp.Usage, Latency: time.Since(start), Outcome: shared.OutcomeAI}

	var res Result
	if err == nil {
		res, err = parseResult(resp.Content)
	}
	if err != nil {
		meta.Outcome = shared.OutcomeFallback
	}
	c.record(ctx, meta)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (c *Classifier) record(ctx context.Context, meta shared.AgentMeta) {
	if c.metrics == nil {
		return
	}
	if err := c.metrics.RecordMeta(context.WithoutCancel(ctx), meta); err != nil {
		c.log.Warn("Failed to record assessment metric", "error", err)
	}
}

type promptData struct {
	Name           string
	AssessmentDate string
	ProfileJSON    string
}

func buildPrompt(rec child.Record) (string, error) {
	profile, err := json.MarshalIndent(rec.Profile(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal child profile: %w", err)
	}
	var buf bytes.Buffer
	err = promptTmpl.Execute(&buf, promptData{
		Name:           displayName(rec),
		AssessmentDate: rec.AssessmentDate,
		ProfileJSON:    string(profile),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render assessment prompt: %w", err)
	}
	return buf.String(), nil
}
