package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manganews/mangarag"
)

func TestEmbedOK(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	e := NewEmbedding(srv.URL, "e5-base", 2)
	vecs, err := e.Embed(context.Background(), []string{"passage: un", "passage: deux"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][1] != 0.4 {
		t.Errorf("vecs = %v", vecs)
	}

	if gotBody["model"] != "e5-base" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if _, ok := gotBody["input"].([]any); !ok {
		t.Errorf("input is not list-shaped: %T", gotBody["input"])
	}
}

func TestEmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewEmbedding(srv.URL, "missing", 768).Embed(context.Background(), []string{"x"})
	var embErr *mangarag.ErrEmbedding
	if !errors.As(err, &embErr) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	var httpErr *mangarag.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusNotFound {
		t.Fatalf("expected wrapped ErrHTTP 404, got %v", err)
	}
}

func TestEmbedErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model is loading"})
	}))
	defer srv.Close()

	_, err := NewEmbedding(srv.URL, "e5-base", 768).Embed(context.Background(), []string{"x"})
	var embErr *mangarag.ErrEmbedding
	if !errors.As(err, &embErr) || embErr.Message != "model is loading" {
		t.Fatalf("got %v", err)
	}
}

func TestEmbedMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"totals": 3})
	}))
	defer srv.Close()

	_, err := NewEmbedding(srv.URL, "e5-base", 768).Embed(context.Background(), []string{"x"})
	var embErr *mangarag.ErrEmbedding
	if !errors.As(err, &embErr) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1}}})
	}))
	defer srv.Close()

	_, err := NewEmbedding(srv.URL, "e5-base", 768).Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error on count mismatch")
	}
}

func TestEmbedNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>busy</html>"))
	}))
	defer srv.Close()

	_, err := NewEmbedding(srv.URL, "e5-base", 768).Embed(context.Background(), []string{"x"})
	var embErr *mangarag.ErrEmbedding
	if !errors.As(err, &embErr) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestEmbedNetworkError(t *testing.T) {
	e := NewEmbedding("http://127.0.0.1:1", "e5-base", 768)
	_, err := e.Embed(context.Background(), []string{"x"})
	var embErr *mangarag.ErrEmbedding
	if !errors.As(err, &embErr) || embErr.Unwrap() == nil {
		t.Fatalf("expected ErrEmbedding with cause, got %v", err)
	}
}
