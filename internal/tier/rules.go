// Package tier decides when property conditions require a higher service tier
// than the one the customer picked.
package tier

import (
	"quote-engine/internal/pricing"
)

// ConditionKind identifies which configuration attribute a rule inspects.
type ConditionKind string

const (
	ConditionSquareFootage   ConditionKind = "square_footage"
	ConditionPropertyType    ConditionKind = "property_type"
	ConditionPets            ConditionKind = "pets"
	ConditionPostRenovation  ConditionKind = "post_renovation"
	ConditionMoldWaterDamage ConditionKind = "mold_water_damage"
	ConditionHazardous       ConditionKind = "hazardous"
	ConditionRental          ConditionKind = "rental"
)

// Condition is a single test against a configuration's risk attributes.
type Condition struct {
	Kind ConditionKind `json:"kind"`
	// MinSqFt is exclusive: the rule fires for sizes strictly above it.
	MinSqFt       int                    `json:"minSqFt,omitempty"`
	PropertyTypes []pricing.PropertyType `json:"propertyTypes,omitempty"`
}

// Holds reports whether cfg satisfies the condition. Unknown kinds never hold.
func (c Condition) Holds(cfg pricing.ServiceConfiguration) bool {
	switch c.Kind {
	case ConditionSquareFootage:
		return cfg.PropertySizeSqFt > c.MinSqFt
	case ConditionPropertyType:
		for _, pt := range c.PropertyTypes {
			if cfg.PropertyType == pt {
				return true
			}
		}
		return false
	case ConditionPets:
		return cfg.HasPets
	case ConditionPostRenovation:
		return cfg.IsPostRenovation
	case ConditionMoldWaterDamage:
		return cfg.HasMoldWaterDamage
	case ConditionHazardous:
		return cfg.CleanlinessLevel == pricing.CleanlinessHazardous
	case ConditionRental:
		return cfg.IsRentalProperty
	default:
		return false
	}
}

// Rule requires RequiredTier whenever its condition holds.
type Rule struct {
	Condition    Condition    `json:"condition"`
	RequiredTier pricing.Tier `json:"requiredTier"`
	Message      string       `json:"message"`
}

// DefaultRules returns the rule table shipped for a pricing scheme, in
// evaluation order.
func DefaultRules(scheme pricing.Scheme) []Rule {
	switch scheme {
	case pricing.SchemeServiceType:
		return []Rule{
			{
				Condition:    Condition{Kind: ConditionSquareFootage, MinSqFt: 4000},
				RequiredTier: pricing.TierDetailing,
				Message:      "Properties over 4,000 sq ft are booked as a detailing service.",
			},
			{
				Condition:    Condition{Kind: ConditionPets},
				RequiredTier: pricing.TierDetailing,
				Message:      "Homes with pets need detailing to remove hair and dander.",
			},
			{
				Condition:    Condition{Kind: ConditionPostRenovation},
				RequiredTier: pricing.TierDetailing,
				Message:      "Post-renovation dust requires a detailing service.",
			},
			{
				Condition:    Condition{Kind: ConditionMoldWaterDamage},
				RequiredTier: pricing.TierDetailing,
				Message:      "Mold or water damage requires a detailing service.",
			},
			{
				Condition:    Condition{Kind: ConditionHazardous},
				RequiredTier: pricing.TierDetailing,
				Message:      "Hazardous conditions require a detailing service and a signed waiver.",
			},
		}
	case pricing.SchemeTiered:
		return []Rule{
			{
				Condition:    Condition{Kind: ConditionSquareFootage, MinSqFt: 3000},
				RequiredTier: pricing.TierPremium,
				Message:      "Homes over 3,000 sq ft require Premium service to finish in one visit.",
			},
			{
				Condition:    Condition{Kind: ConditionSquareFootage, MinSqFt: 5000},
				RequiredTier: pricing.TierElite,
				Message:      "Homes over 5,000 sq ft require Elite service.",
			},
			{
				Condition:    Condition{Kind: ConditionPropertyType, PropertyTypes: []pricing.PropertyType{pricing.PropertyCommercial}},
				RequiredTier: pricing.TierPremium,
				Message:      "Commercial properties require Premium service.",
			},
			{
				Condition:    Condition{Kind: ConditionRental},
				RequiredTier: pricing.TierPremium,
				Message:      "Rental turnovers require Premium service.",
			},
			{
				Condition:    Condition{Kind: ConditionPets},
				RequiredTier: pricing.TierPremium,
				Message:      "Homes with pets require Premium service.",
			},
			{
				Condition:    Condition{Kind: ConditionPostRenovation},
				RequiredTier: pricing.TierElite,
				Message:      "Post-renovation cleaning requires Elite service.",
			},
			{
				Condition:    Condition{Kind: ConditionMoldWaterDamage},
				RequiredTier: pricing.TierElite,
				Message:      "Mold or water damage requires Elite service.",
			},
			{
				Condition:    Condition{Kind: ConditionHazardous},
				RequiredTier: pricing.TierElite,
				Message:      "Hazardous conditions require Elite service and a signed waiver.",
			},
		}
	default:
		return nil
	}
}
