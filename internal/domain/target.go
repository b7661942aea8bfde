package domain

import "time"

const (
	// TargetTypeSlack posts Slack incoming-webhook attachments.
	TargetTypeSlack = "slack"
	// TargetTypePagerDuty posts PagerDuty Events API v2 events.
	TargetTypePagerDuty = "pagerduty"
	// TargetTypeMattermost posts Mattermost API posts.
	TargetTypeMattermost = "mattermost"
	// TargetTypeTelegram sends Telegram bot messages.
	TargetTypeTelegram = "telegram"
	// TargetTypeWebhook posts a generic JSON envelope.
	TargetTypeWebhook = "webhook"
)

// TargetTypes lists supported target types in stable order.
func TargetTypes() []string {
	return []string{TargetTypeSlack, TargetTypePagerDuty, TargetTypeMattermost, TargetTypeTelegram, TargetTypeWebhook}
}

// IsSupportedTargetType reports whether a formatter exists for the type.
func IsSupportedTargetType(kind string) bool {
	for _, item := range TargetTypes() {
		if item == kind {
			return true
		}
	}
	return false
}

// Target is one downstream incident-management destination.
// Params: unique name, type, enabled flag, endpoint, secret, headers, template, and type options.
// Returns: publisher destination description.
type Target struct {
	Name     string            `json:"name" toml:"name"`
	Type     string            `json:"type" toml:"type"`
	Enabled  bool              `json:"enabled" toml:"enabled"`
	Endpoint string            `json:"endpoint" toml:"endpoint"`
	Secret   string            `json:"-" toml:"secret"`
	Headers  map[string]string `json:"headers,omitempty" toml:"headers"`
	Template string            `json:"template,omitempty" toml:"template"`
	Options  map[string]string `json:"options,omitempty" toml:"options"`
}

// Option returns one type-specific option or fallback.
func (t Target) Option(key, fallback string) string {
	if value, ok := t.Options[key]; ok && value != "" {
		return value
	}
	return fallback
}

// PublishResult is the outcome of delivering one alert to one target.
// Params: target identity, success flag, last status code, error classification, retries, and latency.
// Returns: per-target entry of alert results.
type PublishResult struct {
	TargetName string        `json:"target_name"`
	TargetType string        `json:"target_type"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
	Duration   time.Duration `json:"duration_ns"`
}
