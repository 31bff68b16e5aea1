package assessment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"growth-assessor/internal/child"
	"growth-assessor/internal/llm"
	"growth-assessor/internal/shared"
	"growth-assessor/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const validPhoto = "data:image/png;base64,iVBORw0KGgo="

// mockVision answers every call with the same content or error.
type mockVision struct {
	content string
	err     error
	block   chan struct{}
	calls   atomic.Int32
	prompts []string
	mu      sync.Mutex
}

func (m *mockVision) GenerateWithImage(ctx context.Context, prompt string, img llm.Image) (llm.ContentResponse, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return llm.ContentResponse{}, ctx.Err()
		}
	}
	if m.err != nil {
		return llm.ContentResponse{}, m.err
	}
	return llm.ContentResponse{Content: m.content, Usage: shared.TokenUsage{PromptTokens: 10, CompletionTokens: 5, Model: "mock"}}, nil
}

type mockMetrics struct {
	mu    sync.Mutex
	metas []shared.AgentMeta
}

func (m *mockMetrics) RecordMeta(_ context.Context, meta shared.AgentMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas = append(m.metas, meta)
	return nil
}

func ana() child.Record {
	return child.Record{
		Name: "Ana", AgeYears: 2, AgeMonths: 3, Gender: child.Female,
		HeightCm: 80, WeightKg: 10, BMI: 15.6, Percentile: "40th", Photo: validPhoto,
		AssessmentDate: "March 3, 2026",
	}
}

func newClassifier(vision llm.VisionGenerator, opts ...Option) (*Classifier, *store.MemoryStore) {
	kv := store.NewMemoryStore(0, 0)
	return NewClassifier(store.NewResults(kv, nil), vision, opts...), kv
}

func aiKeys(kv *store.MemoryStore) []string {
	var keys []string
	for _, k := range kv.Keys() {
		if strings.HasPrefix(k, "aiResponse-") {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestClassify_HappyPath(t *testing.T) {
	ctx := context.Background()
	vision := &mockVision{content: "```json\n{\"classification\":\"Not Stunted\",\"explanation\":\"Ana is growing well.\"}\n```"}
	metrics := &mockMetrics{}
	c, kv := newClassifier(vision, WithMetrics(metrics))

	out, err := c.Classify(ctx, ana())
	require.NoError(t, err)
	assert.Equal(t, shared.OutcomeAI, out.Source)
	assert.False(t, out.Fallback())
	assert.NoError(t, out.AIError)
	assert.Equal(t, Result{Classification: NotStunted, Explanation: "Ana is growing well."}, out.Result)

	keys := aiKeys(kv)
	require.Len(t, keys, 1)
	raw, _, _ := kv.Get(ctx, keys[0])
	assert.JSONEq(t, `{"classification":"Not Stunted","explanation":"Ana is growing well."}`, raw)

	again, err := c.Classify(ctx, ana())
	require.NoError(t, err)
	assert.True(t, again.CacheHit())
	assert.Equal(t, out.Result, again.Result)
	assert.Equal(t, int32(1), vision.calls.Load(), "second run must not call the AI")

	require.Len(t, metrics.metas, 1)
	assert.Equal(t, AgentName, metrics.metas[0].AgentName)
	assert.Equal(t, shared.OutcomeAI, metrics.metas[0].Outcome)

	assert.Contains(t, vision.prompts[0], `"height": "80 cm"`)
	assert.Contains(t, vision.prompts[0], "March 3, 2026")
}

func TestClassify_CacheShortCircuit(t *testing.T) {
	ctx := context.Background()
	vision := &mockVision{err: errors.New("must not be called")}
	c, kv := newClassifier(vision)

	stored := `{"classification":"Stunted","explanation":"from an earlier visit"}`
	require.NoError(t, kv.Set(ctx, store.AssessmentKey(child.AssessmentKey(ana())), stored))

	out, err := c.Classify(ctx, ana())
	require.NoError(t, err)
	assert.True(t, out.CacheHit())
	assert.Equal(t, Result{Classification: Stunted, Explanation: "from an earlier visit"}, out.Result)
	assert.Equal(t, int32(0), vision.calls.Load())
}

func TestClassify_NoPhoto(t *testing.T) {
	vision := &mockVision{}
	c, kv := newClassifier(vision)
	rec := ana()
	rec.Photo = ""

	out, err := c.Classify(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, NotStunted, out.Result.Classification)
	assert.Contains(t, out.Result.Explanation, "provide a photo")
	assert.True(t, out.Fallback())
	assert.NoError(t, out.AIError)
	assert.Equal(t, int32(0), vision.calls.Load())
	assert.Equal(t, []string{"aiResponse-Ana-2-3-F-80-10-no-photo"}, aiKeys(kv))
}

func TestClassify_FallbackThreshold(t *testing.T) {
	cases := []struct {
		percentile string
		want       string
	}{
		{"24th", Stunted},
		{"25th", NotStunted},
	}
	for _, tc := range cases {
		t.Run(tc.percentile, func(t *testing.T) {
			c, _ := newClassifier(&mockVision{err: errors.New("network down")})
			rec := ana()
			rec.Percentile = tc.percentile

			out, err := c.Classify(context.Background(), rec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Result.Classification)
			assert.True(t, out.Fallback())
			assert.Error(t, out.AIError)
			assert.NotContains(t, out.Result.Explanation, "provide a photo")
		})
	}
}

func TestClassify_MalformedResponse(t *testing.T) {
	for name, content := range map[string]string{
		"NotJSON":               "I think the child looks fine.",
		"EmptyObject":           "{}",
		"UnknownClassification": `{"classification":"maybe","explanation":"unsure"}`,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			metrics := &mockMetrics{}
			c, kv := newClassifier(&mockVision{content: content}, WithMetrics(metrics))

			out, err := c.Classify(ctx, ana())
			require.NoError(t, err)
			assert.True(t, out.Fallback())
			assert.Error(t, out.AIError)

			keys := aiKeys(kv)
			require.Len(t, keys, 1)
			stored, ok := store.Load(ctx, store.NewResults(kv, nil), keys[0], Result.Valid)
			require.True(t, ok, "stored fallback must be a complete result")
			assert.Equal(t, out.Result, stored)

			require.Len(t, metrics.metas, 1)
			assert.Equal(t, shared.OutcomeFallback, metrics.metas[0].Outcome)
		})
	}
}

func TestClassify_InvalidPhoto(t *testing.T) {
	vision := &mockVision{}
	c, _ := newClassifier(vision)
	rec := ana()
	rec.Photo = "data:application/pdf;base64,JVBERi0="

	out, err := c.Classify(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, out.Fallback())
	assert.ErrorIs(t, out.AIError, llm.ErrInvalidDataURI)
	assert.NotContains(t, out.Result.Explanation, "provide a photo")
	assert.Equal(t, int32(0), vision.calls.Load())
}

func TestClassify_UnusableRecord(t *testing.T) {
	c, _ := newClassifier(&mockVision{})
	_, err := c.Classify(context.Background(), child.Record{Name: "Nobody"})
	assert.ErrorIs(t, err, ErrUnusableRecord)
}

func TestClassify_Timeout(t *testing.T) {
	vision := &mockVision{block: make(chan struct{})}
	c, _ := newClassifier(vision, WithTimeout(20*time.Millisecond))

	out, err := c.Classify(context.Background(), ana())
	require.NoError(t, err)
	assert.True(t, out.Fallback())
	assert.ErrorIs(t, out.AIError, context.DeadlineExceeded)
}

func TestClassify_CoalescesSameKey(t *testing.T) {
	vision := &mockVision{content: `{"classification":"Stunted","explanation":"x"}`, block: make(chan struct{})}
	c, _ := newClassifier(vision)

	var wg sync.WaitGroup
	results := make([]Outcome, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Classify(context.Background(), ana())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(vision.block)
	wg.Wait()

	assert.Equal(t, int32(1), vision.calls.Load())
	for _, r := range results {
		assert.Equal(t, Stunted, r.Result.Classification)
	}
}

func TestClassify_CallerLeavesSharedCall(t *testing.T) {
	vision := &mockVision{content: `{"classification":"Not Stunted","explanation":"x"}`, block: make(chan struct{})}
	c, kv := newClassifier(vision)

	stayed := make(chan Outcome, 1)
	go func() {
		out, _ := c.Classify(context.Background(), ana())
		stayed <- out
	}()
	require.Eventually(t, func() bool { return vision.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Classify(ctx, ana())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(vision.block)
	out := <-stayed
	assert.Equal(t, NotStunted, out.Result.Classification)
	assert.Equal(t, int32(1), vision.calls.Load())
	assert.Len(t, aiKeys(kv), 1)
}

func TestNormalizeClassification(t *testing.T) {
	for in, want := range map[string]string{
		"Stunted":      Stunted,
		" stunted ":    Stunted,
		"Not Stunted":  NotStunted,
		"not_stunted":  NotStunted,
		"NotStunted":   NotStunted,
		"NOT  STUNTED": NotStunted,
	} {
		got, ok := NormalizeClassification(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := NormalizeClassification("healthy")
	assert.False(t, ok)
}
