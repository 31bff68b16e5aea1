package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"growth-assessor/internal/shared"
)

// Gemini REST request/response shapes, as accepted by the backend proxy.
type (
	GenerateRequest struct {
		Contents         []Content         `json:"contents"`
		GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
	}

	Content struct {
		Role  string `json:"role,omitempty"`
		Parts []Part `json:"parts"`
	}

	Part struct {
		Text       string      `json:"text,omitempty"`
		InlineData *InlineData `json:"inline_data,omitempty"`
	}

	InlineData struct {
		MIMEType string `json:"mime_type"`
		Data     string `json:"data"`
	}

	GenerationConfig struct {
		Temperature      float32 `json:"temperature,omitempty"`
		ResponseMIMEType string  `json:"responseMimeType,omitempty"`
	}

	GenerateResponse struct {
		Candidates []struct {
			Content Content `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
		ModelVersion string `json:"modelVersion"`
	}
)

// Text concatenates the text parts of the first candidate.
func (r GenerateResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Proxy routes.
const (
	AssessmentRoute = "/api/gemini/assessment"
	NutritionRoute  = "/api/gemini/nutrition"
)

// ProxyClient calls Gemini through the backend proxy instead of holding the
// API key itself. Image prompts go to the assessment route, text prompts to
// the nutrition route.
type ProxyClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewProxyClient creates a client for the proxy at baseURL.
func NewProxyClient(baseURL string) *ProxyClient {
	return &ProxyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// GenerateContent sends a text prompt through the nutrition route.
func (c *ProxyClient) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	return c.post(ctx, NutritionRoute, []Part{{Text: prompt}})
}

// GenerateWithImage sends a prompt and an inline image through the
// assessment route.
func (c *ProxyClient) GenerateWithImage(ctx context.Context, prompt string, img Image) (ContentResponse, error) {
	parts := []Part{
		{Text: prompt},
		{InlineData: &InlineData{MIMEType: img.MIMEType, Data: base64.StdEncoding.EncodeToString(img.Data)}},
	}
	return c.post(ctx, AssessmentRoute, parts)
}

func (c *ProxyClient) post(ctx context.Context, route string, parts []Part) (ContentResponse, error) {
	body, err := json.Marshal(GenerateRequest{
		Contents:         []Content{{Role: "user", Parts: parts}},
		GenerationConfig: &GenerationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(body))
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ContentResponse{}, &StatusError{Service: "proxy", StatusCode: resp.StatusCode, Body: string(b)}
	}

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ContentResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	text := out.Text()
	if text == "" {
		return ContentResponse{}, fmt.Errorf("no content generated")
	}

	return ContentResponse{
		Content: text,
		Usage: shared.TokenUsage{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      out.UsageMetadata.TotalTokenCount,
			Model:            out.ModelVersion,
		},
	}, nil
}
