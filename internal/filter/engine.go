package filter

import (
	"fmt"

	"alertrelay/internal/config"
	"alertrelay/internal/domain"
)

// ReasonFilterError is the deny reason used by fail-closed engines.
const ReasonFilterError = "filter_error"

// Engine evaluates ordered rules; the first deny wins.
// Params: compiled rules in configured order and fail mode.
// Returns: pure, deterministic decisions safe for concurrent use.
type Engine struct {
	rules    []rule
	failOpen bool
}

// Compile builds an engine from filter config.
// Params: filter section with ordered rules.
// Returns: engine or first rule compile error.
func Compile(cfg config.FilterConfig) (*Engine, error) {
	rules := make([]rule, 0, len(cfg.Rule))
	for _, ruleCfg := range cfg.Rule {
		compiled, err := compileRule(ruleCfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiled)
	}
	return &Engine{rules: rules, failOpen: cfg.FailOpen()}, nil
}

// RuleCount returns number of compiled rules.
func (e *Engine) RuleCount() int {
	return len(e.rules)
}

// Evaluate decides whether alert proceeds to publishing.
// Params: alert and its classification.
// Returns: decision and the evaluation error that forced the fail-mode decision, if any.
func (e *Engine) Evaluate(alert domain.Alert, cls domain.Classification) (domain.FilterDecision, error) {
	for _, r := range e.rules {
		denied, reason, err := evaluateRule(r, alert, cls)
		if err != nil {
			return e.failDecision(r.Name()), err
		}
		if denied {
			return domain.FilterDecision{Action: domain.FilterDeny, Reason: reason, Rule: r.Name()}, nil
		}
	}
	return domain.FilterDecision{Action: domain.FilterAllow}, nil
}

// failDecision maps an evaluation error onto the configured fail mode.
func (e *Engine) failDecision(ruleName string) domain.FilterDecision {
	if e.failOpen {
		return domain.FilterDecision{Action: domain.FilterAllow, Reason: ReasonFilterError, Rule: ruleName}
	}
	return domain.FilterDecision{Action: domain.FilterDeny, Reason: ReasonFilterError, Rule: ruleName}
}

// evaluateRule runs one rule and converts panics into errors.
func evaluateRule(r rule, alert domain.Alert, cls domain.Classification) (denied bool, reason string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			denied, reason = false, ""
			err = fmt.Errorf("rule %s panicked: %v", r.Name(), recovered)
		}
	}()
	return r.Deny(alert, cls)
}
