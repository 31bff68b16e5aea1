// Package proxy forwards generateContent requests to Gemini with the
// server-held API key, so clients never see it.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"growth-assessor/internal/llm"
)

// ErrBadRequest wraps request bodies that cannot be forwarded.
var ErrBadRequest = errors.New("invalid request")

// MaxBodyBytes bounds request and response bodies; photos are inlined.
const MaxBodyBytes = 20 << 20

// Forwarder posts request bodies verbatim to a Gemini model.
type Forwarder struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewForwarder creates a Forwarder for the Gemini API at baseURL.
func NewForwarder(apiKey, baseURL string) *Forwarder {
	return &Forwarder{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Validate checks that body is a JSON object with a "contents" array.
func Validate(body []byte) error {
	var req struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: body is not a JSON object", ErrBadRequest)
	}
	var contents []json.RawMessage
	if len(req.Contents) == 0 || json.Unmarshal(req.Contents, &contents) != nil || contents == nil {
		return fmt.Errorf("%w: contents array is required", ErrBadRequest)
	}
	return nil
}

// Forward validates body and sends it to model. On success it returns the
// upstream status and body unchanged. Invalid bodies yield ErrBadRequest;
// upstream failures yield an *llm.StatusError or a transport error.
func (f *Forwarder) Forward(ctx context.Context, model string, body []byte) (int, []byte, error) {
	if err := Validate(body); err != nil {
		return 0, nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", f.baseURL, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to reach Gemini: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read Gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, nil, &llm.StatusError{Service: "gemini", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp.StatusCode, respBody, nil
}
