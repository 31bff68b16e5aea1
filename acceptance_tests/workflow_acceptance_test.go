package acceptance_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"growth-assessor/internal/app"
	"growth-assessor/internal/config"
	"growth-assessor/internal/proxy"
	"growth-assessor/internal/server"
)

const apiKey = "acceptance-key"

// --- Fake Gemini upstream ---
type fakeGemini struct {
	calls      atomic.Int32
	imageCalls atomic.Int32
	fail       atomic.Bool
}

func (g *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.calls.Add(1)
	if r.Header.Get("x-goog-api-key") != apiKey {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
		return
	}
	if g.fail.Load() {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
		return
	}

	body, _ := io.ReadAll(r.Body)
	reply := `{"dailyCalories": 1020, "macronutrients": {"protein": {"percentage": 20}}}`
	if strings.Contains(string(body), "inline_data") {
		g.imageCalls.Add(1)
		reply = `{"classification": "Not Stunted", "explanation": "Proportions look typical for her age."}`
	}
	resp := map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]string{"text": reply}}},
		}},
		"usageMetadata": map[string]int{"promptTokenCount": 200, "candidatesTokenCount": 40},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type harness struct {
	t       *testing.T
	url     string
	gemini  *fakeGemini
	app     *app.App
	session string
}

// newHarness runs the HTTP server with the workflow calling AI through the
// server's own proxy routes, which forward to the fake upstream.
func newHarness(t *testing.T, dbPath string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gemini := &fakeGemini{}
	upstream := httptest.NewServer(gemini)
	t.Cleanup(upstream.Close)

	var handler http.Handler = http.NotFoundHandler()
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(front.Close)

	cfg := &config.Config{
		GeminiAPIKey:      apiKey,
		AssessmentModel:   "gemini-1.5-flash",
		NutritionModel:    "gemini-1.5-flash",
		NutritionProvider: "gemini",
		ProxyURL:          front.URL,
		StoreBackend:      "sqlite",
		DatabasePath:      dbPath,
		PlannerTimeout:    5 * time.Second,
		AssessmentTimeout: 5 * time.Second,
	}
	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	handler = server.New(server.Config{
		Forwarder:         proxy.NewForwarder(apiKey, upstream.URL),
		AssessmentModel:   cfg.AssessmentModel,
		NutritionModel:    cfg.NutritionModel,
		Workflow:          a.Workflow,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	}).Engine

	return &harness{t: t, url: front.URL, gemini: gemini, app: a}
}

func (h *harness) do(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, h.url+path, r)
	req.Header.Set("Content-Type", "application/json")
	if h.session != "" {
		req.Header.Set(server.SessionHeader, h.session)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if id := resp.Header.Get(server.SessionHeader); id != "" {
		h.session = id
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

var ana = map[string]any{
	"name":       "Ana",
	"age":        "2 years, 3 months",
	"gender":     "F",
	"height":     "80 cm",
	"weight":     "10 kg",
	"percentile": "40th",
	"photo":      "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg==",
}

// --- Acceptance Tests ---
func TestFullWorkflow(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "growth.db"))

	// 1. A fresh session has nothing and is sent to intake
	code, body := h.do(http.MethodPost, "/api/session/assessment", nil)
	if code != http.StatusConflict || body["redirect"] != server.IntakePath {
		t.Fatalf("Expected 409 redirect to intake, got %d %v", code, body)
	}
	if h.session == "" {
		t.Fatal("Expected a session id to be issued")
	}

	// 2. Intake
	code, body = h.do(http.MethodPost, "/api/session/intake", ana)
	if code != http.StatusOK {
		t.Fatalf("Intake failed: %d %v", code, body)
	}
	rec := body["record"].(map[string]any)
	if rec["bmi"] != 15.6 || rec["hasPhoto"] != true {
		t.Errorf("Unexpected record %v", rec)
	}
	if _, leaked := rec["photo"]; leaked {
		t.Error("Expected the photo to be withheld from responses")
	}

	// 3. Assessment goes through the proxy to the upstream
	code, body = h.do(http.MethodPost, "/api/session/assessment", nil)
	if code != http.StatusOK {
		t.Fatalf("Assessment failed: %d %v", code, body)
	}
	result := body["result"].(map[string]any)
	if result["classification"] != "Not Stunted" || body["source"] != "ai" {
		t.Errorf("Expected AI classification, got %v", body)
	}
	if h.gemini.imageCalls.Load() != 1 {
		t.Errorf("Expected 1 image call upstream, got %d", h.gemini.imageCalls.Load())
	}

	// 4. Reloading the result does not call the AI again
	code, body = h.do(http.MethodPost, "/api/session/assessment", nil)
	if code != http.StatusOK || body["source"] != "cache" {
		t.Errorf("Expected cached assessment, got %d %v", code, body)
	}

	// 5. Nutrition, with grams derived from the percentage
	code, body = h.do(http.MethodPost, "/api/session/nutrition", nil)
	if code != http.StatusOK {
		t.Fatalf("Nutrition failed: %d %v", code, body)
	}
	plan := body["plan"].(map[string]any)
	protein := plan["macronutrients"].(map[string]any)["protein"].(map[string]any)
	if plan["dailyCalories"] != float64(1020) || protein["grams"] != float64(51) {
		t.Errorf("Unexpected plan %v", plan)
	}
	if calls := h.gemini.calls.Load(); calls != 2 {
		t.Errorf("Expected 2 upstream calls in total, got %d", calls)
	}

	// 6. Both AI calls were metered
	usage, err := h.app.Metrics.GetDailyUsage(context.Background(), 1)
	if err != nil || len(usage) != 1 || usage[0].TotalExecution != 2 || usage[0].TotalPrompt != 400 {
		t.Errorf("Unexpected usage %+v (err %v)", usage, err)
	}
}

func TestWorkflowSurvivesUpstreamOutage(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "growth.db"))
	h.gemini.fail.Store(true)

	h.do(http.MethodPost, "/api/session/intake", ana)

	code, body := h.do(http.MethodPost, "/api/session/assessment", nil)
	if code != http.StatusOK || body["fallback"] != true {
		t.Fatalf("Expected a fallback assessment, got %d %v", code, body)
	}

	code, body = h.do(http.MethodPost, "/api/session/nutrition", nil)
	if code != http.StatusOK || body["fallback"] != true {
		t.Fatalf("Expected a fallback plan, got %d %v", code, body)
	}
	plan := body["plan"].(map[string]any)
	if plan["dailyCalories"] == float64(0) {
		t.Errorf("Expected fallback calories, got %v", plan)
	}
}

func TestWorkflowResumesAfterRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "growth.db")

	first := newHarness(t, dbPath)
	first.do(http.MethodPost, "/api/session/intake", ana)
	first.do(http.MethodPost, "/api/session/assessment", nil)
	session := first.session
	_ = first.app.Close(context.Background())

	second := newHarness(t, dbPath)
	second.session = session
	code, body := second.do(http.MethodGet, "/api/session", nil)
	if code != http.StatusOK || body["state"] != "HasRecordAndResult" {
		t.Fatalf("Expected the session to resume with its result, got %d %v", code, body)
	}
	if second.gemini.calls.Load() != 0 {
		t.Errorf("Expected no upstream calls after restart, got %d", second.gemini.calls.Load())
	}
}
