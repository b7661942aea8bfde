package templatefmt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"
)

// FuncMap returns shared target template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration": FormatDuration,
		"json":        MarshalJSON,
		"upper":       strings.ToUpper,
		"lower":       strings.ToLower,
		"join":        strings.Join,
		"default":     DefaultString,
		"labels":      FormatLabels,
		"percent":     FormatPercent,
	}
}

// ParseTargetTemplate parses one target message template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseTargetTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=zero").Parse(body)
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: template value expected as time.Duration or *time.Duration.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}

// DefaultString returns fallback when value is blank.
// Params: fallback first so it reads as `{{ .X | default "n/a" }}`.
// Returns: value or fallback.
func DefaultString(fallback, value string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// FormatLabels renders a label map as sorted key=value pairs.
func FormatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+labels[key])
	}
	return strings.Join(parts, ", ")
}

// FormatPercent renders a [0,1] ratio as an integer percentage.
func FormatPercent(value float64) string {
	return fmt.Sprintf("%.0f%%", value*100)
}
