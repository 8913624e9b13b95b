package genai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateDecodesResultEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected upstream call: %s %s", r.Method, r.URL.Path)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode upstream request: %v", err)
		}
		if req.Prompt != "a cat" || req.Mode != "image" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "media://img_abc.png"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.Generate(context.Background(), Request{Prompt: "a cat", Mode: "image"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(result) != `"media://img_abc.png"` {
		t.Fatalf("result = %s", result)
	}
}

func TestGenerateReturnsBodyWhenNoEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"text":"hello"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.Generate(context.Background(), Request{Prompt: "p", Mode: "text"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(result) != `{"text":"hello"}` {
		t.Fatalf("result = %s", result)
	}
}

func TestGenerateSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Generate(context.Background(), Request{Prompt: "p", Mode: "text"})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", upstream.StatusCode)
	}
	if upstream.Body != "model overloaded" {
		t.Fatalf("body = %q", upstream.Body)
	}
}

func TestGenerateTimeoutIsNotUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background connection read;
		// otherwise it never notices the client disconnect and r.Context() is
		// never canceled, hanging srv.Close().
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, Request{Prompt: "p", Mode: "text"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		t.Fatalf("timeout should not be an UpstreamError")
	}
}
