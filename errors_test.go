package mangarag

import (
	"errors"
	"testing"
)

func TestErrHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{429, "too many requests", "http 429: too many requests"},
		{500, "model failed to load", "http 500: model failed to load"},
	}
	for _, tt := range tests {
		e := &ErrHTTP{Status: tt.status, Body: tt.body}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrHTTP{%d, %q}.Error() = %q, want %q", tt.status, tt.body, got, tt.want)
		}
	}
}

func TestErrHTTPImplementsError(t *testing.T) {
	var _ error = (*ErrHTTP)(nil)
}

func TestErrEmbeddingError(t *testing.T) {
	e := &ErrEmbedding{Provider: "ollama", Message: "empty embeddings in response"}
	want := "ollama: empty embeddings in response"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrEmbeddingUnwrap(t *testing.T) {
	inner := &ErrHTTP{Status: 404, Body: "model not found"}
	e := &ErrEmbedding{Provider: "ollama", Message: "request failed", Cause: inner}

	var httpErr *ErrHTTP
	if !errors.As(e, &httpErr) {
		t.Fatal("errors.As should find the wrapped ErrHTTP")
	}
	if httpErr.Status != 404 {
		t.Errorf("Status = %d, want 404", httpErr.Status)
	}
	want := "ollama: request failed: http 404: model not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
