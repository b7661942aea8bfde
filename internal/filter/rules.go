package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"alertrelay/internal/config"
	"alertrelay/internal/domain"
)

// rule is one compiled filter rule.
// Params: alert and its classification.
// Returns: deny flag with reason, or evaluation error.
type rule interface {
	Name() string
	Deny(alert domain.Alert, cls domain.Classification) (bool, string, error)
}

// scopedRule limits an inner rule to alerts with listed statuses.
type scopedRule struct {
	rule
	statuses []string
}

// Deny applies inner rule only for in-scope statuses.
func (r scopedRule) Deny(alert domain.Alert, cls domain.Classification) (bool, string, error) {
	if !containsStringInsensitive(r.statuses, string(alert.Status)) {
		return false, "", nil
	}
	return r.rule.Deny(alert, cls)
}

// severityRule denies listed severities or anything outside an allow list.
type severityRule struct {
	name  string
	deny  []string
	allow []string
}

func (r severityRule) Name() string { return r.name }

func (r severityRule) Deny(_ domain.Alert, cls domain.Classification) (bool, string, error) {
	severity := string(cls.Severity)
	if len(r.deny) > 0 && containsStringInsensitive(r.deny, severity) {
		return true, fmt.Sprintf("severity %s is denied", severity), nil
	}
	if len(r.allow) > 0 && !containsStringInsensitive(r.allow, severity) {
		return true, fmt.Sprintf("severity %s is not allowed", severity), nil
	}
	return false, "", nil
}

// labelRule denies alerts where every equality and regex predicate matches.
type labelRule struct {
	name   string
	equals map[string]string
	regex  map[string]*regexp.Regexp
	keys   []string
}

func (r labelRule) Name() string { return r.name }

func (r labelRule) Deny(alert domain.Alert, _ domain.Classification) (bool, string, error) {
	for key, expected := range r.equals {
		value, ok := alert.Labels[key]
		if !ok || value != expected {
			return false, "", nil
		}
	}
	for key, pattern := range r.regex {
		value, ok := alert.Labels[key]
		if !ok || !pattern.MatchString(value) {
			return false, "", nil
		}
	}
	return true, "labels matched " + strings.Join(r.keys, ","), nil
}

// namespaceRule denies namespaces outside include or inside exclude globs.
type namespaceRule struct {
	name    string
	label   string
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

func (r namespaceRule) Name() string { return r.name }

func (r namespaceRule) Deny(alert domain.Alert, _ domain.Classification) (bool, string, error) {
	namespace, ok := alert.Labels[r.label]
	if !ok {
		return false, "", nil
	}
	value := strings.ToLower(namespace)
	if len(r.include) > 0 && !matchAny(r.include, value) {
		return true, fmt.Sprintf("namespace %s is not included", namespace), nil
	}
	if matchAny(r.exclude, value) {
		return true, fmt.Sprintf("namespace %s is excluded", namespace), nil
	}
	return false, "", nil
}

// timeWindowRule denies non-exempt alerts starting outside a weekly window.
type timeWindowRule struct {
	name     string
	location *time.Location
	days     map[time.Weekday]struct{}
	start    int
	end      int
	exempt   []string
}

func (r timeWindowRule) Name() string { return r.name }

func (r timeWindowRule) Deny(alert domain.Alert, cls domain.Classification) (bool, string, error) {
	if containsStringInsensitive(r.exempt, string(cls.Severity)) {
		return false, "", nil
	}
	if alert.StartsAt.IsZero() {
		return false, "", fmt.Errorf("rule %s: alert has no startsAt", r.name)
	}
	if r.inside(alert.StartsAt.In(r.location)) {
		return false, "", nil
	}
	return true, "outside business hours", nil
}

// inside reports whether local time falls into the window.
// Windows with end before start wrap past midnight and belong to the start day.
func (r timeWindowRule) inside(local time.Time) bool {
	minute := local.Hour()*60 + local.Minute()
	if r.start < r.end {
		_, dayOK := r.days[local.Weekday()]
		return dayOK && minute >= r.start && minute < r.end
	}
	if minute >= r.start {
		_, dayOK := r.days[local.Weekday()]
		return dayOK
	}
	if minute < r.end {
		_, dayOK := r.days[local.AddDate(0, 0, -1).Weekday()]
		return dayOK
	}
	return false
}

// confidenceRule denies classifications below a floor.
type confidenceRule struct {
	name string
	min  float64
}

func (r confidenceRule) Name() string { return r.name }

func (r confidenceRule) Deny(_ domain.Alert, cls domain.Classification) (bool, string, error) {
	if cls.Confidence < r.min {
		return true, fmt.Sprintf("confidence %.2f below %.2f", cls.Confidence, r.min), nil
	}
	return false, "", nil
}

// compileRule converts one validated config rule.
// Params: rule config.
// Returns: compiled rule or compile error.
func compileRule(cfg config.FilterRuleConfig) (rule, error) {
	if err := config.ValidateFilterRule(cfg); err != nil {
		return nil, fmt.Errorf("rule %s: %w", cfg.Name, err)
	}
	compiled, err := compileKind(cfg)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", cfg.Name, err)
	}
	if len(cfg.Status) > 0 {
		return scopedRule{rule: compiled, statuses: cfg.Status}, nil
	}
	return compiled, nil
}

// compileKind dispatches by rule kind.
func compileKind(cfg config.FilterRuleConfig) (rule, error) {
	switch cfg.Kind {
	case config.FilterKindSeverity:
		return severityRule{name: cfg.Name, deny: cfg.Deny, allow: cfg.Allow}, nil
	case config.FilterKindLabel:
		compiled := labelRule{name: cfg.Name, equals: cfg.Equals, regex: make(map[string]*regexp.Regexp, len(cfg.Regex))}
		for key := range cfg.Equals {
			compiled.keys = append(compiled.keys, key)
		}
		for key, pattern := range cfg.Regex {
			re, err := regexp.Compile("^(?:" + pattern + ")$")
			if err != nil {
				return nil, err
			}
			compiled.regex[key] = re
			compiled.keys = append(compiled.keys, key)
		}
		sort.Strings(compiled.keys)
		return compiled, nil
	case config.FilterKindNamespace:
		include, err := compileWildcards(cfg.Include)
		if err != nil {
			return nil, err
		}
		exclude, err := compileWildcards(cfg.Exclude)
		if err != nil {
			return nil, err
		}
		label := cfg.Label
		if label == "" {
			label = domain.LabelNamespace
		}
		return namespaceRule{name: cfg.Name, label: label, include: include, exclude: exclude}, nil
	case config.FilterKindTimeWindow:
		location, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, err
		}
		days, err := config.ParseWeekdays(cfg.Days)
		if err != nil {
			return nil, err
		}
		start, err := config.ParseClock(cfg.Start)
		if err != nil {
			return nil, err
		}
		end, err := config.ParseClock(cfg.End)
		if err != nil {
			return nil, err
		}
		return timeWindowRule{
			name:     cfg.Name,
			location: location,
			days:     days,
			start:    start,
			end:      end,
			exempt:   cfg.ExemptSeverities,
		}, nil
	case config.FilterKindConfidence:
		return confidenceRule{name: cfg.Name, min: cfg.Min}, nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", cfg.Kind)
	}
}

// compileWildcards compiles glob patterns.
func compileWildcards(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := config.CompileWildcardPattern(pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// matchAny reports whether any pattern matches value.
func matchAny(patterns []*regexp.Regexp, value string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// containsStringInsensitive checks case-insensitive membership.
// Params: haystack string list and expected value.
// Returns: true when case-insensitive match exists.
func containsStringInsensitive(values []string, expected string) bool {
	for _, v := range values {
		if strings.EqualFold(v, expected) {
			return true
		}
	}
	return false
}
