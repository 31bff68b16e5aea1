// Package workflow is the resumable Get Started flow: intake, then an
// assessment, then a nutrition plan, with every step recoverable from the
// store after a restart.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"growth-assessor/internal/assessment"
	"growth-assessor/internal/child"
	"growth-assessor/internal/logger"
	"growth-assessor/internal/nutrition"
	"growth-assessor/internal/store"
)

// DateLayout is how assessment dates are stamped on records.
const DateLayout = "January 2, 2006"

// ErrNoData means no child record has been submitted yet; callers should
// send the user to intake.
var ErrNoData = errors.New("no child data submitted")

// State is where a session stands.
type State int

const (
	NoData State = iota
	HasRecordNoResult
	HasRecordAndResult
)

func (s State) String() string {
	switch s {
	case NoData:
		return "NoData"
	case HasRecordNoResult:
		return "HasRecordNoResult"
	case HasRecordAndResult:
		return "HasRecordAndResult"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Workflow holds the collaborators shared by all sessions.
type Workflow struct {
	kv         store.KeyValueStore
	classifier *assessment.Classifier
	planner    *nutrition.Planner
	percentile child.PercentileFunc
	now        func() time.Time
	log        *logger.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithPercentile replaces the percentile assigned at intake.
func WithPercentile(f child.PercentileFunc) Option {
	return func(w *Workflow) {
		if f != nil {
			w.percentile = f
		}
	}
}

// WithClock replaces time.Now for assessment dates.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.log = l
		}
	}
}

// New creates a Workflow. kv holds each session's child record; the
// classifier and planner keep their own results keyed by child identity,
// so identical children share AI results across sessions.
func New(kv store.KeyValueStore, classifier *assessment.Classifier, planner *nutrition.Planner, opts ...Option) *Workflow {
	w := &Workflow{
		kv:         kv,
		classifier: classifier,
		planner:    planner,
		percentile: child.RandomPercentile,
		now:        time.Now,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Session returns the flow for one user. An empty id uses the unscoped
// store, which suits single-user tools like the CLI.
func (w *Workflow) Session(id string) *Session {
	return &Session{
		w:       w,
		id:      id,
		records: store.NewResults(store.WithPrefix(w.kv, id), w.log),
	}
}

// Session is one user's progress through the flow.
type Session struct {
	w       *Workflow
	id      string
	records *store.Results
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Submit normalizes and stores a new child record, replacing any earlier
// one. It returns the canonical record and the fields that had to be
// defaulted.
func (s *Session) Submit(ctx context.Context, in child.Input) (child.Record, []string, error) {
	rec, defaulted := child.Normalize(in)
	if len(defaulted) > 0 {
		s.w.log.Warn("Intake fields defaulted", "session", s.id, "fields", defaulted)
	}
	if rec.Percentile == "" {
		rec.Percentile = child.FormatPercentile(s.w.percentile(rec))
	}
	rec.BMI = child.ComputeBMI(rec.HeightCm, rec.WeightKg)
	rec.AssessmentDate = s.w.now().Format(DateLayout)

	if err := store.Save(ctx, s.records, store.ChildDataKey, rec); err != nil {
		return child.Record{}, defaulted, fmt.Errorf("failed to save child data: %w", err)
	}
	s.w.log.Info("Child data submitted", "session", s.id, "child", rec.Describe(), "photo", rec.Photo)
	return rec, defaulted, nil
}

// Record returns the stored child record or ErrNoData.
func (s *Session) Record(ctx context.Context) (child.Record, error) {
	rec, ok := store.Load[child.Record](ctx, s.records, store.ChildDataKey, nil)
	if !ok {
		return child.Record{}, ErrNoData
	}
	return rec, nil
}

// State derives the session state from what the store holds.
func (s *Session) State(ctx context.Context) (State, error) {
	rec, err := s.Record(ctx)
	if errors.Is(err, ErrNoData) {
		return NoData, nil
	}
	if err != nil {
		return NoData, err
	}
	if _, ok := s.w.classifier.Cached(ctx, rec); ok {
		return HasRecordAndResult, nil
	}
	return HasRecordNoResult, nil
}

// Assess classifies the stored record. It returns ErrNoData without a
// record and assessment.ErrUnusableRecord when the record lacks
// measurements; AI failures never surface as errors.
func (s *Session) Assess(ctx context.Context) (child.Record, assessment.Outcome, error) {
	rec, err := s.Record(ctx)
	if err != nil {
		return child.Record{}, assessment.Outcome{}, err
	}
	out, err := s.w.classifier.Classify(ctx, rec)
	if err != nil {
		return rec, assessment.Outcome{}, err
	}
	return rec, out, nil
}

// Nutrition plans for the stored record.
func (s *Session) Nutrition(ctx context.Context) (child.Record, nutrition.Outcome, error) {
	rec, err := s.Record(ctx)
	if err != nil {
		return child.Record{}, nutrition.Outcome{}, err
	}
	out, err := s.w.planner.PlanRecord(ctx, rec)
	if err != nil {
		return rec, nutrition.Outcome{}, err
	}
	return rec, out, nil
}
