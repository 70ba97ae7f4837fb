package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Tier is a named service level. Which tiers exist depends on the rate table scheme.
type Tier string

const (
	TierStandard  Tier = "standard"
	TierDetailing Tier = "detailing"
	TierPremium   Tier = "premium"
	TierElite     Tier = "elite"
)

type Frequency string

const (
	FrequencyOneTime    Frequency = "one_time"
	FrequencyWeekly     Frequency = "weekly"
	FrequencyBiweekly   Frequency = "biweekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencySemiAnnual Frequency = "semi_annual"
	FrequencyAnnual     Frequency = "annual"
	FrequencyVIPDaily   Frequency = "vip_daily"
)

// Frequencies lists the recurrence options in the order a booking form shows them.
var Frequencies = []Frequency{
	FrequencyOneTime,
	FrequencyWeekly,
	FrequencyBiweekly,
	FrequencyMonthly,
	FrequencySemiAnnual,
	FrequencyAnnual,
	FrequencyVIPDaily,
}

func (f Frequency) Valid() bool {
	for _, known := range Frequencies {
		if f == known {
			return true
		}
	}
	return false
}

type PaymentFrequency string

const (
	PaymentPerService PaymentFrequency = "per_service"
	PaymentMonthly    PaymentFrequency = "monthly"
	PaymentYearly     PaymentFrequency = "yearly"
)

func (p PaymentFrequency) Valid() bool {
	switch p {
	case PaymentPerService, PaymentMonthly, PaymentYearly:
		return true
	}
	return false
}

type PropertyType string

const (
	PropertyApartment  PropertyType = "apartment"
	PropertyCondo      PropertyType = "condo"
	PropertyTownhouse  PropertyType = "townhouse"
	PropertyHouse      PropertyType = "house"
	PropertyCommercial PropertyType = "commercial"
)

// PropertyTypes lists every property type a configuration may carry.
var PropertyTypes = []PropertyType{
	PropertyApartment,
	PropertyCondo,
	PropertyTownhouse,
	PropertyHouse,
	PropertyCommercial,
}

// Valid reports whether p is a known property type.
func (p PropertyType) Valid() bool {
	for _, known := range PropertyTypes {
		if p == known {
			return true
		}
	}
	return false
}

// Cleanliness levels are ordinal; heavier soiling is higher.
const (
	CleanlinessLight     = 1
	CleanlinessModerate  = 2
	CleanlinessHeavy     = 3
	CleanlinessHazardous = 4
)

// PropertyAttributes are the risk attributes tier enforcement looks at.
type PropertyAttributes struct {
	PropertySizeSqFt   int          `json:"propertySizeSqFt"`
	PropertyType       PropertyType `json:"propertyType"`
	IsRentalProperty   bool         `json:"isRentalProperty"`
	HasPets            bool         `json:"hasPets"`
	IsPostRenovation   bool         `json:"isPostRenovation"`
	HasMoldWaterDamage bool         `json:"hasMoldWaterDamage"`
}

// ServiceConfiguration is the full set of customer selections a quote is computed from.
type ServiceConfiguration struct {
	Rooms                     map[string]int   `json:"rooms"`
	Tier                      Tier             `json:"serviceTier"`
	CleanlinessLevel          int              `json:"cleanlinessLevel"`
	Frequency                 Frequency        `json:"frequency"`
	PaymentFrequency          PaymentFrequency `json:"paymentFrequency"`
	SelectedAddOns            []string         `json:"selectedAddOns"`
	SelectedExclusiveServices []string         `json:"selectedExclusiveServices"`
	WaiverSigned              bool             `json:"waiverSigned"`
	VideoRecording            bool             `json:"videoRecording"`

	PropertyAttributes
}

// DefaultConfiguration returns a configuration with every field populated,
// starting at the lowest tier of the given rate table.
func DefaultConfiguration(table RateTable) ServiceConfiguration {
	tier := TierStandard
	if tiers := table.Tiers(); len(tiers) > 0 {
		tier = tiers[0]
	}
	return ServiceConfiguration{
		Rooms:                     map[string]int{},
		Tier:                      tier,
		CleanlinessLevel:          CleanlinessLight,
		Frequency:                 FrequencyOneTime,
		PaymentFrequency:          PaymentPerService,
		SelectedAddOns:            []string{},
		SelectedExclusiveServices: []string{},
		PropertyAttributes: PropertyAttributes{
			PropertyType: PropertyHouse,
		},
	}
}

// Clone returns a deep copy so callers can hand the configuration across
// goroutines without sharing the underlying map and slices.
func (c ServiceConfiguration) Clone() ServiceConfiguration {
	out := c
	out.Rooms = make(map[string]int, len(c.Rooms))
	for room, count := range c.Rooms {
		out.Rooms[room] = count
	}
	out.SelectedAddOns = append([]string{}, c.SelectedAddOns...)
	out.SelectedExclusiveServices = append([]string{}, c.SelectedExclusiveServices...)
	return out
}

// HasRooms reports whether any room has a non-zero count.
func (c ServiceConfiguration) HasRooms() bool {
	for _, count := range c.Rooms {
		if count > 0 {
			return true
		}
	}
	return false
}

type Category string

const (
	CategoryRoom             Category = "room"
	CategoryTier             Category = "tier"
	CategoryCleanliness      Category = "cleanliness"
	CategoryFrequency        Category = "frequency"
	CategoryAddOn            Category = "addon"
	CategoryExclusiveService Category = "exclusiveService"
	CategoryDiscount         Category = "discount"
	CategoryAdjustment       Category = "adjustment"
)

// BreakdownItem is one line of an itemized quote. Additions are positive,
// discounts negative.
type BreakdownItem struct {
	Label    string          `json:"label"`
	Value    decimal.Decimal `json:"value"`
	Category Category        `json:"category"`
}

// PriceResult is the outcome of a calculation. Total is rounded to two decimal
// places; the breakdown values are not.
type PriceResult struct {
	Total     decimal.Decimal `json:"total"`
	Breakdown []BreakdownItem `json:"breakdown"`
}

// Subtotal sums the breakdown in order, which reconstructs the unrounded total.
func (r PriceResult) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.Breakdown {
		sum = sum.Add(item.Value)
	}
	return sum
}

// Equal compares two results value by value, ignoring decimal exponent differences.
func (r PriceResult) Equal(other PriceResult) bool {
	if !r.Total.Equal(other.Total) || len(r.Breakdown) != len(other.Breakdown) {
		return false
	}
	for i, item := range r.Breakdown {
		o := other.Breakdown[i]
		if item.Label != o.Label || item.Category != o.Category || !item.Value.Equal(o.Value) {
			return false
		}
	}
	return true
}

// ByCategory returns the breakdown lines of one category, in evaluation order.
func (r PriceResult) ByCategory(category Category) []BreakdownItem {
	var items []BreakdownItem
	for _, item := range r.Breakdown {
		if item.Category == category {
			items = append(items, item)
		}
	}
	return items
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
