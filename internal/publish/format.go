package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"alertrelay/internal/domain"
	"alertrelay/internal/permanent"
	"alertrelay/internal/templatefmt"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"

	defaultPagerDutyURL = "https://events.pagerduty.com/v2/enqueue"
)

// ErrUnsupportedType is returned for targets without a formatter.
var ErrUnsupportedType = errors.New("unsupported target type")

// Message is the template and formatter input for one delivery.
type Message struct {
	Alert          domain.Alert
	Classification domain.Classification
	Target         domain.Target
	Title          string
	Summary        string
}

// Payload is one target-specific outbound request.
// Params: destination URL, headers, content type, and encoded body.
// Returns: sender input; for telegram Body is message text.
type Payload struct {
	URL         string
	Headers     map[string]string
	ContentType string
	Body        []byte
}

// Formatter renders one alert for one target type. Formatters are pure.
type Formatter func(msg Message) (Payload, error)

// Formatters returns formatter set keyed by target type.
func Formatters() map[string]Formatter {
	return map[string]Formatter{
		domain.TargetTypeSlack:      formatSlack,
		domain.TargetTypePagerDuty:  formatPagerDuty,
		domain.TargetTypeMattermost: formatMattermost,
		domain.TargetTypeTelegram:   formatTelegram,
		domain.TargetTypeWebhook:    formatWebhook,
	}
}

// Format renders alert for target using formatters.
// Params: formatter set, target, alert, and classification.
// Returns: payload or permanent error (unsupported type or render failure).
func Format(formatters map[string]Formatter, target domain.Target, alert domain.Alert, cls domain.Classification) (Payload, error) {
	formatter, ok := formatters[target.Type]
	if !ok {
		return Payload{}, permanent.Errorf(permanent.ReasonUnsupportedType, "%w %q", ErrUnsupportedType, target.Type)
	}
	payload, err := formatter(newMessage(target, alert, cls))
	if err != nil {
		return Payload{}, permanent.Errorf(permanent.ReasonFormat, "format %s payload: %w", target.Type, err)
	}
	return payload, nil
}

func newMessage(target domain.Target, alert domain.Alert, cls domain.Classification) Message {
	title := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Status)), alert.Name())
	summary := alert.Annotations["summary"]
	if summary == "" {
		summary = alert.Annotations["description"]
	}
	return Message{Alert: alert, Classification: cls, Target: target, Title: title, Summary: summary}
}

// renderText returns the target template output or fallback text.
func renderText(msg Message, fallback func(Message) string) (string, error) {
	if strings.TrimSpace(msg.Target.Template) == "" {
		return fallback(msg), nil
	}
	tmpl, err := templatefmt.ParseTargetTemplate("target."+msg.Target.Name, msg.Target.Template)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	return execute(tmpl, msg)
}

func execute(tmpl *template.Template, msg Message) (string, error) {
	var out strings.Builder
	if err := tmpl.Execute(&out, msg); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out.String(), nil
}

// plainText is the default human-readable message body.
func plainText(msg Message) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	fmt.Fprintf(&b, "\nseverity: %s (%s, confidence %s)", msg.Classification.Severity, msg.Classification.Source, templatefmt.FormatPercent(msg.Classification.Confidence))
	if msg.Classification.Category != "" {
		fmt.Fprintf(&b, "\ncategory: %s", msg.Classification.Category)
	}
	if msg.Summary != "" {
		fmt.Fprintf(&b, "\n%s", msg.Summary)
	}
	fmt.Fprintf(&b, "\nlabels: %s", templatefmt.FormatLabels(msg.Alert.Labels))
	for _, item := range msg.Classification.Recommendations {
		fmt.Fprintf(&b, "\n- %s", item)
	}
	return b.String()
}

func jsonPayload(url string, target domain.Target, body any) (Payload, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return Payload{}, err
	}
	headers := make(map[string]string, len(target.Headers)+1)
	for key, value := range target.Headers {
		headers[key] = value
	}
	return Payload{URL: url, Headers: headers, ContentType: contentTypeJSON, Body: encoded}, nil
}

var severityColors = map[domain.Severity]string{
	domain.SeverityCritical: "#d40e0d",
	domain.SeverityWarning:  "#f2a51a",
	domain.SeverityInfo:     "#439fe0",
	domain.SeverityUnknown:  "#808080",
}

func colorFor(msg Message) string {
	if !msg.Alert.IsFiring() {
		return "#2eb886"
	}
	if color, ok := severityColors[msg.Classification.Severity]; ok {
		return color
	}
	return severityColors[domain.SeverityUnknown]
}

func formatSlack(msg Message) (Payload, error) {
	text, err := renderText(msg, plainText)
	if err != nil {
		return Payload{}, err
	}
	type field struct {
		Title string `json:"title"`
		Value string `json:"value"`
		Short bool   `json:"short"`
	}
	body := map[string]any{
		"attachments": []map[string]any{{
			"color":      colorFor(msg),
			"title":      msg.Title,
			"title_link": msg.Alert.GeneratorURL,
			"text":       text,
			"fields": []field{
				{Title: "Severity", Value: string(msg.Classification.Severity), Short: true},
				{Title: "Category", Value: msg.Classification.Category, Short: true},
			},
			"ts": msg.Alert.StartsAt.Unix(),
		}},
	}
	if channel := msg.Target.Option("channel", ""); channel != "" {
		body["channel"] = channel
	}
	return jsonPayload(msg.Target.Endpoint, msg.Target, body)
}

var pagerDutySeverity = map[domain.Severity]string{
	domain.SeverityCritical: "critical",
	domain.SeverityWarning:  "warning",
	domain.SeverityInfo:     "info",
	domain.SeverityUnknown:  "error",
}

func formatPagerDuty(msg Message) (Payload, error) {
	routingKey := strings.TrimSpace(msg.Target.Secret)
	if routingKey == "" {
		return Payload{}, errors.New("pagerduty routing key (target secret) is required")
	}
	action := "trigger"
	if !msg.Alert.IsFiring() {
		action = "resolve"
	}
	summary := msg.Title
	if msg.Summary != "" {
		summary += ": " + msg.Summary
	}
	event := map[string]any{
		"routing_key":  routingKey,
		"event_action": action,
		"dedup_key":    msg.Alert.Fingerprint,
	}
	if action == "trigger" {
		source, _ := msg.Alert.Label("instance")
		if source == "" {
			source = msg.Target.Option("source", "alertrelay")
		}
		event["payload"] = map[string]any{
			"summary":        truncate(summary, 1024),
			"source":         source,
			"severity":       pagerDutySeverity[msg.Classification.Severity],
			"timestamp":      msg.Alert.StartsAt.UTC().Format(time.RFC3339),
			"class":          msg.Classification.Category,
			"custom_details": map[string]any{"labels": msg.Alert.Labels, "annotations": msg.Alert.Annotations, "recommendations": msg.Classification.Recommendations},
		}
		if msg.Alert.GeneratorURL != "" {
			event["links"] = []map[string]string{{"href": msg.Alert.GeneratorURL, "text": "source"}}
		}
	}
	url := msg.Target.Endpoint
	if url == "" {
		url = defaultPagerDutyURL
	}
	return jsonPayload(url, msg.Target, event)
}

func formatMattermost(msg Message) (Payload, error) {
	channelID := msg.Target.Option("channel_id", "")
	if channelID == "" {
		return Payload{}, errors.New("mattermost channel_id option is required")
	}
	text, err := renderText(msg, func(m Message) string { return "#### " + plainText(m) })
	if err != nil {
		return Payload{}, err
	}
	payload, err := jsonPayload(strings.TrimRight(msg.Target.Endpoint, "/")+"/api/v4/posts", msg.Target, map[string]string{
		"channel_id": channelID,
		"message":    text,
	})
	if err != nil {
		return Payload{}, err
	}
	if token := strings.TrimSpace(msg.Target.Secret); token != "" {
		payload.Headers["Authorization"] = "Bearer " + token
	}
	return payload, nil
}

func formatTelegram(msg Message) (Payload, error) {
	text, err := renderText(msg, telegramHTML)
	if err != nil {
		return Payload{}, err
	}
	return Payload{URL: msg.Target.Endpoint, ContentType: contentTypeText, Body: []byte(text)}, nil
}

func telegramHTML(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(msg.Title))
	fmt.Fprintf(&b, "severity: <b>%s</b>", html.EscapeString(string(msg.Classification.Severity)))
	if msg.Classification.Category != "" {
		fmt.Fprintf(&b, " · %s", html.EscapeString(msg.Classification.Category))
	}
	if msg.Summary != "" {
		fmt.Fprintf(&b, "\n%s", html.EscapeString(msg.Summary))
	}
	fmt.Fprintf(&b, "\n<code>%s</code>", html.EscapeString(templatefmt.FormatLabels(msg.Alert.Labels)))
	return b.String()
}

func formatWebhook(msg Message) (Payload, error) {
	if strings.TrimSpace(msg.Target.Template) != "" {
		body, err := renderText(msg, nil)
		if err != nil {
			return Payload{}, err
		}
		contentType := msg.Target.Option("content_type", contentTypeJSON)
		return Payload{URL: msg.Target.Endpoint, Headers: domain.CloneLabels(msg.Target.Headers), ContentType: contentType, Body: []byte(body)}, nil
	}
	payload, err := jsonPayload(msg.Target.Endpoint, msg.Target, map[string]any{
		"alert":          msg.Alert,
		"classification": msg.Classification,
		"target":         msg.Target.Name,
	})
	if err != nil {
		return Payload{}, err
	}
	if token := strings.TrimSpace(msg.Target.Secret); token != "" {
		payload.Headers["Authorization"] = "Bearer " + token
	}
	return payload, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
