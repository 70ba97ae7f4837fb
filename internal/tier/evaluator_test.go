package tier

import (
	"testing"

	"quote-engine/internal/pricing"
)

func newTieredEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(pricing.TieredRates(), DefaultRules(pricing.SchemeTiered))
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	return e
}

func TestEvaluate_DefaultTieredRules(t *testing.T) {
	e := newTieredEvaluator(t)

	tests := []struct {
		name   string
		modify func(*pricing.ServiceConfiguration)
		want   pricing.Tier
	}{
		{name: "nothing triggered", modify: func(c *pricing.ServiceConfiguration) {}, want: ""},
		{name: "exactly at threshold", modify: func(c *pricing.ServiceConfiguration) { c.PropertySizeSqFt = 3000 }, want: ""},
		{name: "large home", modify: func(c *pricing.ServiceConfiguration) { c.PropertySizeSqFt = 3200 }, want: pricing.TierPremium},
		{name: "very large home", modify: func(c *pricing.ServiceConfiguration) { c.PropertySizeSqFt = 6000 }, want: pricing.TierElite},
		{name: "pets", modify: func(c *pricing.ServiceConfiguration) { c.HasPets = true }, want: pricing.TierPremium},
		{name: "rental", modify: func(c *pricing.ServiceConfiguration) { c.IsRentalProperty = true }, want: pricing.TierPremium},
		{name: "commercial", modify: func(c *pricing.ServiceConfiguration) { c.PropertyType = pricing.PropertyCommercial }, want: pricing.TierPremium},
		{name: "renovation", modify: func(c *pricing.ServiceConfiguration) { c.IsPostRenovation = true }, want: pricing.TierElite},
		{name: "mold", modify: func(c *pricing.ServiceConfiguration) { c.HasMoldWaterDamage = true }, want: pricing.TierElite},
		{name: "hazardous", modify: func(c *pricing.ServiceConfiguration) { c.CleanlinessLevel = pricing.CleanlinessHazardous }, want: pricing.TierElite},
		{
			name: "highest rank wins regardless of order",
			modify: func(c *pricing.ServiceConfiguration) {
				c.IsPostRenovation = true
				c.HasPets = true
			},
			want: pricing.TierElite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := pricing.DefaultConfiguration(pricing.TieredRates())
			tt.modify(&cfg)
			got := e.Evaluate(cfg)
			if got.RequiredTier != tt.want {
				t.Errorf("Incorrect required tier, got %q, want %q", got.RequiredTier, tt.want)
			}
			if got.Required() != (tt.want != "") {
				t.Errorf("Required() = %v with tier %q", got.Required(), got.RequiredTier)
			}
			if got.Required() && got.Message == "" {
				t.Error("Enforcement without a message")
			}
		})
	}
}

func TestEvaluate_LastEqualRankRuleWins(t *testing.T) {
	e := newTieredEvaluator(t)
	cfg := pricing.DefaultConfiguration(pricing.TieredRates())
	cfg.PropertySizeSqFt = 3500
	cfg.IsRentalProperty = true
	cfg.HasPets = true

	got := e.Evaluate(cfg)
	if got.RequiredTier != pricing.TierPremium {
		t.Fatalf("Expected premium, got %q", got.RequiredTier)
	}
	if want := "Homes with pets require Premium service."; got.Message != want {
		t.Errorf("Expected the last premium rule's message %q, got %q", want, got.Message)
	}
}

func TestEvaluate_LowerRankDoesNotOverwrite(t *testing.T) {
	rules := []Rule{
		{Condition: Condition{Kind: ConditionMoldWaterDamage}, RequiredTier: pricing.TierElite, Message: "elite"},
		{Condition: Condition{Kind: ConditionPets}, RequiredTier: pricing.TierPremium, Message: "premium"},
		{Condition: Condition{Kind: ConditionRental}, RequiredTier: pricing.TierStandard, Message: "standard"},
	}
	e, err := NewEvaluator(pricing.TieredRates(), rules)
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	cfg := pricing.DefaultConfiguration(pricing.TieredRates())
	cfg.HasMoldWaterDamage = true
	cfg.HasPets = true
	cfg.IsRentalProperty = true

	got := e.Evaluate(cfg)
	if got.RequiredTier != pricing.TierElite || got.Message != "elite" {
		t.Errorf("Expected elite to stick, got %+v", got)
	}

	cfg.HasMoldWaterDamage = false
	cfg.HasPets = false
	if got := e.Evaluate(cfg); got.Required() {
		t.Errorf("A rule requiring the lowest tier must not enforce anything, got %+v", got)
	}
}

func TestEvaluate_EscalationProperty(t *testing.T) {
	e := newTieredEvaluator(t)
	table := pricing.TieredRates()
	for sqft := 0; sqft <= 8000; sqft += 250 {
		cfg := pricing.DefaultConfiguration(table)
		cfg.PropertySizeSqFt = sqft
		got := e.Evaluate(cfg)
		for _, rule := range e.Rules() {
			if rule.Condition.Kind != ConditionSquareFootage || !rule.Condition.Holds(cfg) {
				continue
			}
			if pricing.Rank(table, got.RequiredTier) < pricing.Rank(table, rule.RequiredTier) {
				t.Errorf("%d sq ft: required %q ranks below triggered rule %q", sqft, got.RequiredTier, rule.RequiredTier)
			}
		}
	}
}

func TestApply_NeverDowngrades(t *testing.T) {
	e := newTieredEvaluator(t)

	cfg := pricing.DefaultConfiguration(pricing.TieredRates())
	cfg.HasPets = true

	upgraded, enf, changed := e.Enforce(cfg)
	if !changed || upgraded.Tier != pricing.TierPremium {
		t.Fatalf("Expected upgrade to premium, got %q (changed=%v, %+v)", upgraded.Tier, changed, enf)
	}

	cfg.Tier = pricing.TierElite
	kept, _, changed := e.Enforce(cfg)
	if changed || kept.Tier != pricing.TierElite {
		t.Errorf("Elite must be kept, got %q (changed=%v)", kept.Tier, changed)
	}
}

func TestNewEvaluator_RejectsForeignTier(t *testing.T) {
	_, err := NewEvaluator(pricing.ServiceTypeRates(), DefaultRules(pricing.SchemeTiered))
	if err == nil {
		t.Error("Expected error for tiered rules on the service-type scheme")
	}
	if _, err := NewEvaluator(pricing.ServiceTypeRates(), DefaultRules(pricing.SchemeServiceType)); err != nil {
		t.Errorf("Service-type rules rejected: %v", err)
	}
}
