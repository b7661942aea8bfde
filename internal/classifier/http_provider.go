package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"alertrelay/internal/domain"
)

// HTTPProvider classifies alerts through a generic JSON endpoint.
// Params: endpoint URL, static headers, and HTTP client.
// Returns: Provider implementation.
type HTTPProvider struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPProvider creates a generic HTTP provider.
func NewHTTPProvider(url string, headers map[string]string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{url: url, headers: headers, client: client}
}

// Name returns provider name.
func (p *HTTPProvider) Name() string {
	return "http"
}

// Classify posts the alert and decodes a ProviderResult JSON body.
// Params: ctx, alert, and per-call timeout.
// Returns: verdict or transport/status/decode error.
func (p *HTTPProvider) Classify(ctx context.Context, alert domain.Alert, timeout time.Duration) (ProviderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(newPromptPayload(alert))
	if err != nil {
		return ProviderResult{}, fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return ProviderResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ProviderResult{}, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return ProviderResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ProviderResult{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	return parseProviderAnswer(string(payload))
}
