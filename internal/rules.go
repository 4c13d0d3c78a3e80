package internal

import (
	"log"

	"github.com/Knetic/govaluate"
)

// Rule routes accepted events to a notification topic. When is a
// govaluate expression over the canonical event fields plus the flattened
// delivery payload; Emit is the topic published on match.
type Rule struct {
	When string `yaml:"when"`
	Emit string `yaml:"emit"`
}

type compiledRule struct {
	emit string
	expr *govaluate.EvaluableExpression
}

// RuleEngine evaluates notify rules against accepted events.
type RuleEngine struct {
	rules  []compiledRule
	logger *log.Logger
}

func NewRuleEngine(rules []Rule, logger *log.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = log.Default()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{emit: rule.Emit, expr: expr})
	}

	return &RuleEngine{rules: compiled, logger: logger}, nil
}

// Evaluate returns the topics whose rules match the event. The payload is
// the flattened raw delivery body; canonical event fields take precedence
// on key collisions. A rule that fails to evaluate (for example a missing
// field) simply does not match.
func (r *RuleEngine) Evaluate(event Event, payload map[string]interface{}) []string {
	if len(r.rules) == 0 {
		return nil
	}

	params := make(map[string]interface{}, len(payload)+6)
	for key, value := range payload {
		params[key] = value
	}
	for key, value := range event.Flat() {
		params[key] = value
	}

	matches := make([]string, 0, 1)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			r.logger.Printf("rule eval failed: %v", err)
			continue
		}
		ok, _ := result.(bool)
		if ok {
			matches = append(matches, rule.emit)
		}
	}
	return matches
}
