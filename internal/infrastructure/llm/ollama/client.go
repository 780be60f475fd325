// Package ollama adapts a local Ollama instance as the classification and
// field-extraction collaborator.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/schema"
	"github.com/veridoc/veridoc/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	sem        chan struct{}
	exec       *resilience.Executor
}

type Options struct {
	// Timeout bounds one generate call end to end.
	Timeout time.Duration
	// RequestsPerSecond throttles outbound generate calls; zero disables
	// the limiter.
	RequestsPerSecond float64
	// MaxConcurrent caps in-flight generate calls across all workers.
	MaxConcurrent int
}

func New(baseURL, model string, opts Options, exec *resilience.Executor) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		sem:        make(chan struct{}, opts.MaxConcurrent),
		exec:       exec,
	}
}

// generateJSON runs one JSON-mode generate call through the concurrency
// gate, rate limiter, and resilience executor.
func (c *Client) generateJSON(ctx context.Context, operation, prompt string) (string, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, operation)
	}

	var err error
	if c.exec != nil {
		err = c.exec.Execute(ctx, operation, call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return strings.TrimSpace(response.Response), nil
}

// Classifier assigns one of the supported document types to recognized text.
type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

func (c *Classifier) Classify(ctx context.Context, text string) (domain.DocumentType, error) {
	respText, err := c.client.generateJSON(ctx, "classify", buildClassificationPrompt(text))
	if err != nil {
		return "", err
	}

	var result struct {
		DocType string `json:"doc_type"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return "", fmt.Errorf("parse classification json: %w", err)
	}
	docType := domain.DocumentType(strings.ToLower(strings.TrimSpace(result.DocType)))
	if !domain.KnownDocumentType(docType) {
		return "", fmt.Errorf("classifier returned unsupported type %q", result.DocType)
	}
	return docType, nil
}

// Extractor pulls schema-shaped fields out of recognized text. The raw
// model output is validated by schema.ParseDraft; the caller decides
// whether a violating draft warrants the one repair re-prompt.
type Extractor struct {
	client   *Client
	registry *schema.Registry
}

func NewExtractor(client *Client, registry *schema.Registry) *Extractor {
	return &Extractor{client: client, registry: registry}
}

func (e *Extractor) Extract(ctx context.Context, docType domain.DocumentType, text string) (*schema.ExtractionDraft, error) {
	sch, err := e.registry.Get(docType)
	if err != nil {
		return nil, err
	}
	respText, err := e.client.generateJSON(ctx, "extract", buildExtractionPrompt(sch, text))
	if err != nil {
		return nil, err
	}
	return schema.ParseDraft([]byte(extractJSONObject(respText)))
}

func (e *Extractor) Repair(ctx context.Context, docType domain.DocumentType, text string, violations []string) (*schema.ExtractionDraft, error) {
	sch, err := e.registry.Get(docType)
	if err != nil {
		return nil, err
	}
	respText, err := e.client.generateJSON(ctx, "extract_repair", buildRepairPrompt(sch, text, violations))
	if err != nil {
		return nil, err
	}
	return schema.ParseDraft([]byte(extractJSONObject(respText)))
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
