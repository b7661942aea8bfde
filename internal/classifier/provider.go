package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alertrelay/internal/domain"
)

// ErrInvalidAnswer is returned when a provider answer cannot be used.
var ErrInvalidAnswer = errors.New("invalid classification answer")

// Provider classifies one alert through an external service.
// Params: ctx for cancellation, alert payload, and explicit per-call timeout.
// Returns: provider verdict or transport/answer error.
type Provider interface {
	Name() string
	Classify(ctx context.Context, alert domain.Alert, timeout time.Duration) (ProviderResult, error)
}

// ProviderResult is the raw provider verdict before normalization.
type ProviderResult struct {
	Severity        string   `json:"severity"`
	Category        string   `json:"category"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// parseProviderAnswer decodes a JSON verdict, tolerating markdown code fences.
// Params: raw provider text.
// Returns: validated verdict or ErrInvalidAnswer.
func parseProviderAnswer(raw string) (ProviderResult, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var result ProviderResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return ProviderResult{}, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}
	if strings.TrimSpace(result.Severity) == "" {
		return ProviderResult{}, fmt.Errorf("%w: severity is empty", ErrInvalidAnswer)
	}
	return result, nil
}

// toClassification normalizes a provider verdict.
// Params: verdict and classification time.
// Returns: classification with source=provider.
func (r ProviderResult) toClassification(now time.Time) domain.Classification {
	category := strings.ToLower(strings.TrimSpace(r.Category))
	if category == "" {
		category = defaultCategory
	}
	recommendations := make([]string, 0, len(r.Recommendations))
	for _, item := range r.Recommendations {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			recommendations = append(recommendations, trimmed)
		}
	}
	return domain.Classification{
		Severity:        domain.ParseSeverity(r.Severity),
		Category:        category,
		Confidence:      domain.ClampConfidence(r.Confidence),
		Source:          domain.SourceProvider,
		Recommendations: recommendations,
		ClassifiedAt:    now,
	}
}

// promptPayload is the alert view sent to providers.
type promptPayload struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	StartsAt     time.Time         `json:"startsAt"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

func newPromptPayload(alert domain.Alert) promptPayload {
	return promptPayload{
		Status:       string(alert.Status),
		Labels:       alert.Labels,
		Annotations:  alert.Annotations,
		StartsAt:     alert.StartsAt,
		GeneratorURL: alert.GeneratorURL,
	}
}
