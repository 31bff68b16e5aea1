package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-assessor/internal/child"
	"growth-assessor/internal/config"
	"growth-assessor/internal/llm"
	"growth-assessor/internal/shared"
	"growth-assessor/internal/workflow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		GeminiAPIKey:      "test-key",
		AssessmentModel:   "gemini-1.5-flash",
		NutritionModel:    "gemini-1.5-flash",
		NutritionProvider: "gemini",
		StoreBackend:      "sqlite",
		DatabasePath:      filepath.Join(dir, "growth.db"),
		FileStorePath:     filepath.Join(dir, "store"),
		PlannerTimeout:    time.Second,
		AssessmentTimeout: time.Second,
	}
}

// fakeGemini answers the proxy routes with a canned generateContent reply.
func fakeGemini(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		reply := `{"dailyCalories":1100}`
		if r.URL.Path == llm.AssessmentRoute {
			reply = `{"classification":"Not Stunted","explanation":"Proportions look typical."}`
		}
		resp := map[string]any{
			"candidates": []any{
				map[string]any{"content": llm.Content{Parts: []llm.Part{{Text: reply}}}},
			},
			"usageMetadata": map[string]int{"promptTokenCount": 120, "candidatesTokenCount": 30},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func anaInput() child.Input {
	return child.Input{
		Name: "Ana", Age: child.Str("2 years, 3 months"), Gender: "F",
		Height: child.Str("80 cm"), Weight: child.Str("10 kg"), Percentile: child.Str("40th"),
		Photo: "data:image/png;base64,iVBORw0KGgo=",
	}
}

func TestNew_ThroughProxy(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	cfg := testConfig(t)
	cfg.ProxyURL = fakeGemini(t, &calls).URL

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	s := a.Workflow.Session("")
	_, _, err = s.Submit(ctx, anaInput())
	require.NoError(t, err)

	_, out, err := s.Assess(ctx)
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeAI, out.Source)
	assert.Equal(t, "Not Stunted", out.Result.Classification)

	_, plan, err := s.Nutrition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1100, plan.Plan.DailyCalories)
	assert.EqualValues(t, 2, calls.Load())

	usage, err := a.Metrics.GetDailyUsage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 2, usage[0].TotalExecution)
	assert.Equal(t, 0, usage[0].Fallbacks)
}

func TestNew_ResumesAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	cfg := testConfig(t)
	cfg.ProxyURL = fakeGemini(t, &calls).URL

	first, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	_, _, err = first.Workflow.Session("abc").Submit(ctx, anaInput())
	require.NoError(t, err)
	_, _, err = first.Workflow.Session("abc").Assess(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer second.Close(ctx)

	state, err := second.Workflow.Session("abc").State(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.HasRecordAndResult, state)

	_, out, err := second.Workflow.Session("abc").Assess(ctx)
	require.NoError(t, err)
	assert.True(t, out.CacheHit())
	assert.EqualValues(t, 1, calls.Load())
}

type deadAI struct{}

func (deadAI) GenerateWithImage(context.Context, string, llm.Image) (llm.ContentResponse, error) {
	return llm.ContentResponse{}, &llm.StatusError{Service: "gemini", StatusCode: http.StatusServiceUnavailable}
}

func (deadAI) GenerateContent(context.Context, string) (llm.ContentResponse, error) {
	return llm.ContentResponse{}, &llm.StatusError{Service: "gemini", StatusCode: http.StatusServiceUnavailable}
}

func TestNew_WithGenerators(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.StoreBackend = "file"

	a, err := New(ctx, cfg, nil, WithGenerators(deadAI{}, deadAI{}),
		WithWorkflowOptions(workflow.WithPercentile(func(child.Record) int { return 10 })))
	require.NoError(t, err)
	defer a.Close(ctx)

	in := anaInput()
	in.Percentile = child.Loose{}
	s := a.Workflow.Session("")
	_, _, err = s.Submit(ctx, in)
	require.NoError(t, err)

	_, out, err := s.Assess(ctx)
	require.NoError(t, err)
	assert.True(t, out.Fallback())
	assert.Error(t, out.AIError)
	assert.Equal(t, "Stunted", out.Result.Classification)

	usage, err := a.Metrics.GetDailyUsage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 1, usage[0].Fallbacks)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = "etcd"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "etcd")
}

func TestClose_Twice(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil, WithGenerators(deadAI{}, deadAI{}))
	require.NoError(t, err)
	assert.NoError(t, a.Close(ctx))
	assert.NoError(t, a.Close(ctx))
}
