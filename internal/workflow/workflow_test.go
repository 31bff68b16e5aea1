package workflow

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-assessor/internal/assessment"
	"growth-assessor/internal/child"
	"growth-assessor/internal/llm"
	"growth-assessor/internal/nutrition"
	"growth-assessor/internal/store"
)

const validPhoto = "data:image/png;base64,iVBORw0KGgo="

type mockAI struct {
	visionCalls atomic.Int32
	textCalls   atomic.Int32
}

func (m *mockAI) GenerateWithImage(ctx context.Context, prompt string, img llm.Image) (llm.ContentResponse, error) {
	m.visionCalls.Add(1)
	return llm.ContentResponse{Content: `{"classification":"Not Stunted","explanation":"Growth is on track."}`}, nil
}

func (m *mockAI) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	m.textCalls.Add(1)
	return llm.ContentResponse{Content: `{"dailyCalories": 1000}`}, nil
}

func newWorkflow(kv store.KeyValueStore, ai *mockAI) *Workflow {
	results := store.NewResults(kv, nil)
	return New(kv,
		assessment.NewClassifier(results, ai),
		nutrition.NewPlanner(results, ai),
		WithPercentile(func(child.Record) int { return 24 }),
		WithClock(func() time.Time { return time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC) }),
	)
}

func anaInput() child.Input {
	return child.Input{
		Name: "Ana", AgeYears: child.Num(2), AgeMonths: child.Num(3), Gender: "F",
		Height: child.Num(80), Weight: child.Num(10), Percentile: child.Str("40th"), Photo: validPhoto,
	}
}

func TestSession_StateMachine(t *testing.T) {
	ctx := context.Background()
	ai := &mockAI{}
	s := newWorkflow(store.NewMemoryStore(0, 0), ai).Session("")

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoData, state)

	_, _, err = s.Assess(ctx)
	assert.ErrorIs(t, err, ErrNoData)
	_, _, err = s.Nutrition(ctx)
	assert.ErrorIs(t, err, ErrNoData)

	_, _, err = s.Submit(ctx, anaInput())
	require.NoError(t, err)
	state, _ = s.State(ctx)
	assert.Equal(t, HasRecordNoResult, state)

	_, out, err := s.Assess(ctx)
	require.NoError(t, err)
	assert.Equal(t, assessment.NotStunted, out.Result.Classification)
	state, _ = s.State(ctx)
	assert.Equal(t, HasRecordAndResult, state)
	assert.Equal(t, "HasRecordAndResult", state.String())

	_, plan, err := s.Nutrition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000, plan.Plan.DailyCalories)
}

func TestSession_Submit(t *testing.T) {
	ctx := context.Background()
	s := newWorkflow(store.NewMemoryStore(0, 0), &mockAI{}).Session("")

	t.Run("KeepsGivenPercentile", func(t *testing.T) {
		rec, defaulted, err := s.Submit(ctx, anaInput())
		require.NoError(t, err)
		assert.Empty(t, defaulted)
		assert.Equal(t, "40th", rec.Percentile)
		assert.Equal(t, 15.6, rec.BMI)
		assert.Equal(t, "March 3, 2026", rec.AssessmentDate)
	})

	t.Run("AssignsPercentile", func(t *testing.T) {
		in := anaInput()
		in.Percentile = child.Loose{}
		rec, _, err := s.Submit(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "24th", rec.Percentile)

		stored, err := s.Record(ctx)
		require.NoError(t, err)
		assert.Equal(t, rec, stored)
	})

	t.Run("ReportsDefaults", func(t *testing.T) {
		_, defaulted, err := s.Submit(ctx, child.Input{Name: "X", Age: child.Str("soon"), Gender: "F", Height: child.Str("80 cm"), Weight: child.Str("10 kg")})
		require.NoError(t, err)
		assert.Equal(t, []string{"age"}, defaulted)
	})
}

func TestSession_HappyPathAndResume(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore(0, 0)
	ai := &mockAI{}

	s := newWorkflow(kv, ai).Session("")
	_, _, err := s.Submit(ctx, anaInput())
	require.NoError(t, err)
	_, first, err := s.Assess(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ai.visionCalls.Load())

	var aiEntries []string
	for _, k := range kv.Keys() {
		if strings.HasPrefix(k, "aiResponse-") {
			aiEntries = append(aiEntries, k)
		}
	}
	require.Len(t, aiEntries, 1)
	raw, _, _ := kv.Get(ctx, aiEntries[0])
	assert.JSONEq(t, `{"classification":"Not Stunted","explanation":"Growth is on track."}`, raw)

	// a restart builds everything anew over the same store
	resumed := newWorkflow(kv, ai).Session("")
	state, err := resumed.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, HasRecordAndResult, state)

	_, again, err := resumed.Assess(ctx)
	require.NoError(t, err)
	assert.True(t, again.CacheHit())
	assert.Equal(t, first.Result, again.Result)
	assert.Equal(t, int32(1), ai.visionCalls.Load(), "resumed session must not call the AI")
}

func TestSession_Isolation(t *testing.T) {
	ctx := context.Background()
	wf := newWorkflow(store.NewMemoryStore(0, 0), &mockAI{})

	a, b := wf.Session("a"), wf.Session("b")
	_, _, err := a.Submit(ctx, anaInput())
	require.NoError(t, err)

	state, err := b.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoData, state)
	assert.Equal(t, "b", b.ID())
}

func TestSession_CorruptRecordIsNoData(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore(0, 0)
	require.NoError(t, kv.Set(ctx, store.ChildDataKey, "{broken"))

	s := newWorkflow(kv, &mockAI{}).Session("")
	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoData, state)

	_, _, err = s.Assess(ctx)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSession_UnusableRecord(t *testing.T) {
	ctx := context.Background()
	ai := &mockAI{}
	s := newWorkflow(store.NewMemoryStore(0, 0), ai).Session("")

	_, _, err := s.Submit(ctx, child.Input{Name: "Ghost", Height: child.Str("tall")})
	require.NoError(t, err)

	_, _, err = s.Assess(ctx)
	assert.ErrorIs(t, err, assessment.ErrUnusableRecord)
	assert.Equal(t, int32(0), ai.visionCalls.Load())

	_, plan, err := s.Nutrition(ctx)
	require.NoError(t, err, "nutrition defaults missing measurements")
	assert.True(t, plan.Plan.Valid())
}
