package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veridoc/veridoc/internal/core/domain"
)

func TestRecognizePlainTextSkipsService(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil)
	doc := &domain.Document{ID: "doc-1", MediaType: "text/plain"}
	result, err := client.Recognize(context.Background(), doc, strings.NewReader("  Invoice Total: $15.00  "))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if called {
		t.Fatal("plain text must not hit the OCR service")
	}
	if result.Text != "Invoice Total: $15.00" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
}

func TestRecognizeRemoteReturnsCharConfidences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recognize" {
			http.NotFound(w, r)
			return
		}
		text := "abc"
		resp := map[string]any{
			"text":             text,
			"char_confidences": []float64{0.9, 0.8, 0.95},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil)
	doc := &domain.Document{ID: "doc-1", MediaType: "image/png"}
	result, err := client.Recognize(context.Background(), doc, strings.NewReader("\x89PNG..."))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if result.Text != "abc" || len(result.CharConfidence) != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRecognizeDropsMisalignedConfidences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"text":             "abcdef",
			"char_confidences": []float64{0.9},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil)
	doc := &domain.Document{ID: "doc-1", MediaType: "image/png"}
	result, err := client.Recognize(context.Background(), doc, strings.NewReader("raw"))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if result.CharConfidence != nil {
		t.Fatal("misaligned confidence vector must be discarded")
	}
}

func TestRecognizeSurfacesServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil)
	doc := &domain.Document{ID: "doc-1", MediaType: "image/png"}
	_, err := client.Recognize(context.Background(), doc, strings.NewReader("raw"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "engine crashed") {
		t.Fatalf("expected service body in error, got %v", err)
	}
}

func TestMalformedPDFFallsThroughToService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"text": "recognized by service"}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil)
	doc := &domain.Document{ID: "doc-1", MediaType: "application/pdf"}
	result, err := client.Recognize(context.Background(), doc, strings.NewReader("%PDF-1.7 garbage"))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if result.Text != "recognized by service" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
}
