// Package ocr turns stored documents into recognized text. PDFs with an
// embedded text layer and plain-text uploads are handled locally; image
// scans go to the external OCR service.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/veridoc/veridoc/internal/core/domain"
	"github.com/veridoc/veridoc/internal/core/ports"
	"github.com/veridoc/veridoc/internal/infrastructure/resilience"
)

// minEmbeddedTextLen is how much text a PDF layer must yield before the
// local fast path is trusted over a real OCR run.
const minEmbeddedTextLen = 32

type Client struct {
	baseURL    string
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(baseURL string, timeout time.Duration, exec *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		exec:       exec,
	}
}

func (c *Client) Recognize(ctx context.Context, doc *domain.Document, data io.Reader) (*ports.OCRResult, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}

	if isPDF(doc.MediaType, raw) {
		if text, err := extractPDFText(raw); err == nil && len(strings.TrimSpace(text)) >= minEmbeddedTextLen {
			return &ports.OCRResult{Text: strings.TrimSpace(text)}, nil
		}
		// No usable text layer, fall through to the OCR service.
	} else if isPlainText(doc.MediaType, raw) {
		return &ports.OCRResult{Text: strings.TrimSpace(string(raw))}, nil
	}

	return c.recognizeRemote(ctx, doc, raw)
}

func (c *Client) recognizeRemote(ctx context.Context, doc *domain.Document, raw []byte) (*ports.OCRResult, error) {
	var response struct {
		Text            string    `json:"text"`
		CharConfidences []float64 `json:"char_confidences"`
	}
	call := func(ctx context.Context) error {
		return c.post(ctx, raw, doc.MediaType, &response)
	}

	var err error
	if c.exec != nil {
		err = c.exec.Execute(ctx, "ocr_recognize", call, classifyOCRError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(response.CharConfidences) != len(response.Text) {
		// A confidence vector that does not line up with the text is
		// worse than none at all.
		return &ports.OCRResult{Text: strings.TrimSpace(response.Text)}, nil
	}
	// Trimming would shift the text out from under its confidences.
	return &ports.OCRResult{
		Text:           response.Text,
		CharConfidence: response.CharConfidences,
	}, nil
}

func (c *Client) post(ctx context.Context, raw []byte, mediaType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/recognize", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create recognize request: %w", err)
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mediaType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ocr recognize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode recognize response: %w", err)
	}
	return nil
}

type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ocr recognize status: %s", e.Status)
	}
	return fmt.Sprintf("ocr recognize status: %s: %s", e.Status, strings.TrimSpace(e.Body))
}

func isPDF(mediaType string, raw []byte) bool {
	if strings.EqualFold(mediaType, "application/pdf") {
		return true
	}
	return bytes.HasPrefix(raw, []byte("%PDF"))
}

func isPlainText(mediaType string, raw []byte) bool {
	if strings.HasPrefix(strings.ToLower(mediaType), "text/") {
		return true
	}
	return mediaType == "" && utf8.Valid(raw) && !bytes.ContainsRune(raw, 0)
}
