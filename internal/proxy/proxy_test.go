package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"growth-assessor/internal/llm"
)

func TestValidate(t *testing.T) {
	valid := []string{`{"contents":[]}`, `{"contents":[{"parts":[{"text":"hi"}]}],"generationConfig":{"temperature":0.2}}`}
	for _, body := range valid {
		if err := Validate([]byte(body)); err != nil {
			t.Errorf("Validate(%s): expected no error, got %v", body, err)
		}
	}

	invalid := []string{``, `[]`, `{}`, `{"contents":"hi"}`, `{"contents":{}}`, `{"contents":null}`, `not json`}
	for _, body := range invalid {
		if err := Validate([]byte(body)); !errors.Is(err, ErrBadRequest) {
			t.Errorf("Validate(%s): expected ErrBadRequest, got %v", body, err)
		}
	}
}

func TestForward(t *testing.T) {
	body := `{"contents":[{"parts":[{"text":"hi"}]}]}`

	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
				t.Errorf("Unexpected path '%s'", r.URL.Path)
			}
			if r.Header.Get("x-goog-api-key") != "secret" {
				t.Errorf("Expected API key header, got '%s'", r.Header.Get("x-goog-api-key"))
			}
			got, _ := io.ReadAll(r.Body)
			if string(got) != body {
				t.Errorf("Expected body forwarded verbatim, got '%s'", got)
			}
			fmt.Fprint(w, `{"candidates":[]}`)
		}))
		defer srv.Close()

		status, resp, err := NewForwarder("secret", srv.URL+"/").Forward(context.Background(), "gemini-1.5-flash", []byte(body))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if status != http.StatusOK || string(resp) != `{"candidates":[]}` {
			t.Errorf("Unexpected response %d %s", status, resp)
		}
	})

	t.Run("BadRequestNeverForwarded", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
		defer srv.Close()

		_, _, err := NewForwarder("secret", srv.URL).Forward(context.Background(), "m", []byte(`{}`))
		if !errors.Is(err, ErrBadRequest) {
			t.Errorf("Expected ErrBadRequest, got %v", err)
		}
		if called {
			t.Error("Expected invalid body not to reach upstream")
		}
	})

	t.Run("UpstreamError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"message":"API key not valid"}}`)
		}))
		defer srv.Close()

		_, _, err := NewForwarder("bad", srv.URL).Forward(context.Background(), "m", []byte(body))
		var se *llm.StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusForbidden {
			t.Errorf("Expected StatusError 403, got %v", err)
		}
	})
}
