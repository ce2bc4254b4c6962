package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEngine classifies images through an OCR HTTP service that accepts
// {"image": "<base64>"} and answers {"result": "<text>"}; a plain-text body
// is accepted as well, which covers the common ddddocr server wrappers.
type HTTPEngine struct {
	client   *http.Client
	endpoint string
}

func NewHTTPEngine(endpoint string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEngine{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}
}

type classifyRequest struct {
	Image string `json:"image"`
}

type classifyResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (e *HTTPEngine) Classify(ctx context.Context, png []byte) (string, error) {
	body, err := json.Marshal(classifyRequest{Image: base64.StdEncoding.EncodeToString(png)})
	if err != nil {
		return "", fmt.Errorf("failed to encode OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read OCR response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OCR service returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out classifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(bytes.TrimSpace(raw)), nil
	}
	if out.Error != "" {
		return "", fmt.Errorf("OCR service error: %s", out.Error)
	}
	return out.Result, nil
}
