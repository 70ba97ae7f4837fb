package tier

import (
	"fmt"

	"quote-engine/internal/pricing"
)

// Enforcement is the evaluator's verdict. An empty RequiredTier means no rule
// asked for more than the lowest tier.
type Enforcement struct {
	RequiredTier pricing.Tier `json:"requiredTier,omitempty"`
	Message      string       `json:"message,omitempty"`
}

// Required reports whether a tier above the lowest one is required.
func (e Enforcement) Required() bool {
	return e.RequiredTier != ""
}

// Evaluator checks a configuration against an ordered rule table. Tier ranks
// come from the rate table the deployment prices with.
type Evaluator struct {
	table pricing.RateTable
	rules []Rule
}

// NewEvaluator validates that every rule requires a tier the rate table knows.
func NewEvaluator(table pricing.RateTable, rules []Rule) (*Evaluator, error) {
	for i, rule := range rules {
		if pricing.Rank(table, rule.RequiredTier) < 0 {
			return nil, fmt.Errorf("tier rule %d requires tier %q unknown to scheme %s",
				i, rule.RequiredTier, table.Scheme())
		}
	}
	return &Evaluator{
		table: table,
		rules: append([]Rule(nil), rules...),
	}, nil
}

// Rules returns a copy of the rule table in evaluation order.
func (e *Evaluator) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate returns the highest tier any triggered rule requires. Rules are
// tested independently in table order; among triggered rules of the same rank
// the one evaluated last wins and supplies the message.
func (e *Evaluator) Evaluate(cfg pricing.ServiceConfiguration) Enforcement {
	const lowest = 0
	highest := lowest
	var out Enforcement

	for _, rule := range e.rules {
		if !rule.Condition.Holds(cfg) {
			continue
		}
		rank := pricing.Rank(e.table, rule.RequiredTier)
		if rank > lowest && rank >= highest {
			highest = rank
			out = Enforcement{RequiredTier: rule.RequiredTier, Message: rule.Message}
		}
	}
	return out
}

// Apply raises cfg's tier to the enforced one when it ranks below it. A tier
// chosen above the requirement is kept. The second return value reports
// whether an upgrade happened.
func (e *Evaluator) Apply(cfg pricing.ServiceConfiguration, enf Enforcement) (pricing.ServiceConfiguration, bool) {
	if !enf.Required() {
		return cfg, false
	}
	if pricing.Rank(e.table, cfg.Tier) >= pricing.Rank(e.table, enf.RequiredTier) {
		return cfg, false
	}
	cfg.Tier = enf.RequiredTier
	return cfg, true
}

// Enforce evaluates and applies in one step.
func (e *Evaluator) Enforce(cfg pricing.ServiceConfiguration) (pricing.ServiceConfiguration, Enforcement, bool) {
	enf := e.Evaluate(cfg)
	out, upgraded := e.Apply(cfg, enf)
	return out, enf, upgraded
}
