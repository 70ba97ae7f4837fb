package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scheme names a rate table variant. A deployment prices with exactly one scheme.
type Scheme string

const (
	// SchemeServiceType prices rooms per service type (standard/detailing) and
	// scales by a service-type multiplier.
	SchemeServiceType Scheme = "service_type"
	// SchemeTiered prices rooms from one table, scales by a standard/premium/elite
	// multiplier and enforces minimum job values per property type.
	SchemeTiered Scheme = "tiered"
)

// FrequencyAdjustment is applied as running x (1 + Surcharge) x (1 - Discount).
type FrequencyAdjustment struct {
	Surcharge decimal.Decimal `json:"surcharge"`
	Discount  decimal.Decimal `json:"discount"`
}

// RateTable is read-only lookup data consumed by Calculate. Misses never fail:
// prices and discounts fall back to zero and multipliers to one.
type RateTable interface {
	Scheme() Scheme
	Version() string
	// Tiers lists the scheme's tiers in ascending rank.
	Tiers() []Tier
	RoomPrice(tier Tier, room string) decimal.Decimal
	TierMultiplier(tier Tier) decimal.Decimal
	CleanlinessMultiplier(level int) decimal.Decimal
	FrequencyAdjustment(f Frequency) FrequencyAdjustment
	PaymentDiscount(p PaymentFrequency) decimal.Decimal
	AddOnPrice(id string) (decimal.Decimal, bool)
	ExclusiveServicePrice(id string) (decimal.Decimal, bool)
	WaiverDiscountRate() decimal.Decimal
	VideoDiscount() decimal.Decimal
	ServiceFee() decimal.Decimal
	MinimumJobValue(propertyType PropertyType, tier Tier) (decimal.Decimal, bool)
}

// Rank returns the position of tier in the table's tier order, or -1.
func Rank(table RateTable, tier Tier) int {
	for i, t := range table.Tiers() {
		if t == tier {
			return i
		}
	}
	return -1
}

// TopTier is the highest ranked tier; exclusive services require it.
func TopTier(table RateTable) Tier {
	tiers := table.Tiers()
	if len(tiers) == 0 {
		return ""
	}
	return tiers[len(tiers)-1]
}

// Schedule holds the lookup data both schemes share.
type Schedule struct {
	Name                   Scheme                                    `json:"scheme"`
	Revision               string                                    `json:"version"`
	TierOrder              []Tier                                    `json:"tiers"`
	TierMultipliers        map[Tier]decimal.Decimal                  `json:"tierMultipliers"`
	CleanlinessMultipliers []decimal.Decimal                         `json:"cleanlinessMultipliers"`
	Frequencies            map[Frequency]FrequencyAdjustment         `json:"frequencies"`
	PaymentDiscounts       map[PaymentFrequency]decimal.Decimal      `json:"paymentDiscounts"`
	AddOns                 map[string]decimal.Decimal                `json:"addOns"`
	ExclusiveServices      map[string]decimal.Decimal                `json:"exclusiveServices"`
	WaiverDiscount         decimal.Decimal                           `json:"waiverDiscount"`
	VideoRecordingDiscount decimal.Decimal                           `json:"videoDiscount"`
	FlatServiceFee         decimal.Decimal                           `json:"serviceFee"`
	Minimums               map[PropertyType]map[Tier]decimal.Decimal `json:"minimumJobValues,omitempty"`
}

func (s *Schedule) Scheme() Scheme  { return s.Name }
func (s *Schedule) Version() string { return s.Revision }
func (s *Schedule) Tiers() []Tier   { return append([]Tier(nil), s.TierOrder...) }

func (s *Schedule) TierMultiplier(tier Tier) decimal.Decimal {
	if m, ok := s.TierMultipliers[tier]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

func (s *Schedule) CleanlinessMultiplier(level int) decimal.Decimal {
	if level < 1 || level > len(s.CleanlinessMultipliers) {
		return decimal.NewFromInt(1)
	}
	return s.CleanlinessMultipliers[level-1]
}

func (s *Schedule) FrequencyAdjustment(f Frequency) FrequencyAdjustment {
	return s.Frequencies[f]
}

func (s *Schedule) PaymentDiscount(p PaymentFrequency) decimal.Decimal {
	return s.PaymentDiscounts[p]
}

func (s *Schedule) AddOnPrice(id string) (decimal.Decimal, bool) {
	price, ok := s.AddOns[id]
	return price, ok
}

func (s *Schedule) ExclusiveServicePrice(id string) (decimal.Decimal, bool) {
	price, ok := s.ExclusiveServices[id]
	return price, ok
}

func (s *Schedule) WaiverDiscountRate() decimal.Decimal { return s.WaiverDiscount }
func (s *Schedule) VideoDiscount() decimal.Decimal      { return s.VideoRecordingDiscount }
func (s *Schedule) ServiceFee() decimal.Decimal         { return s.FlatServiceFee }

func (s *Schedule) MinimumJobValue(propertyType PropertyType, tier Tier) (decimal.Decimal, bool) {
	byTier, ok := s.Minimums[propertyType]
	if !ok {
		return decimal.Zero, false
	}
	minimum, ok := byTier[tier]
	return minimum, ok
}

// Validate checks what the calculator relies on: rates within
// [0, 1], non-negative prices and multipliers, a known tier order.
func (s *Schedule) Validate() error {
	one := decimal.NewFromInt(1)
	if len(s.TierOrder) == 0 {
		return fmt.Errorf("rate table %s/%s: no tiers", s.Name, s.Revision)
	}
	for _, tier := range s.TierOrder {
		if m, ok := s.TierMultipliers[tier]; ok && m.IsNegative() {
			return fmt.Errorf("rate table %s/%s: negative multiplier for tier %s", s.Name, s.Revision, tier)
		}
	}
	for i, m := range s.CleanlinessMultipliers {
		if m.IsNegative() {
			return fmt.Errorf("rate table %s/%s: negative cleanliness multiplier at level %d", s.Name, s.Revision, i+1)
		}
	}
	for f, adj := range s.Frequencies {
		if adj.Surcharge.IsNegative() || adj.Discount.IsNegative() || adj.Discount.GreaterThan(one) {
			return fmt.Errorf("rate table %s/%s: frequency %s out of range", s.Name, s.Revision, f)
		}
	}
	for p, d := range s.PaymentDiscounts {
		if d.IsNegative() || d.GreaterThan(one) {
			return fmt.Errorf("rate table %s/%s: payment discount %s out of range", s.Name, s.Revision, p)
		}
	}
	if s.WaiverDiscount.IsNegative() || s.WaiverDiscount.GreaterThan(one) {
		return fmt.Errorf("rate table %s/%s: waiver discount out of range", s.Name, s.Revision)
	}
	for id, price := range s.AddOns {
		if price.IsNegative() {
			return fmt.Errorf("rate table %s/%s: negative add-on price %s", s.Name, s.Revision, id)
		}
	}
	for id, price := range s.ExclusiveServices {
		if price.IsNegative() {
			return fmt.Errorf("rate table %s/%s: negative exclusive service price %s", s.Name, s.Revision, id)
		}
	}
	if s.VideoRecordingDiscount.IsNegative() || s.FlatServiceFee.IsNegative() {
		return fmt.Errorf("rate table %s/%s: negative flat amount", s.Name, s.Revision)
	}
	return nil
}

// ServiceTypeTable keeps a separate room price list for every service type.
type ServiceTypeTable struct {
	Schedule
	RoomPrices map[Tier]map[string]decimal.Decimal `json:"roomPrices"`
}

func (t *ServiceTypeTable) RoomPrice(tier Tier, room string) decimal.Decimal {
	return t.RoomPrices[tier][room]
}

func (t *ServiceTypeTable) Validate() error {
	if err := t.Schedule.Validate(); err != nil {
		return err
	}
	for tier, prices := range t.RoomPrices {
		for room, price := range prices {
			if price.IsNegative() {
				return fmt.Errorf("rate table %s/%s: negative %s price for %s", t.Name, t.Revision, tier, room)
			}
		}
	}
	return nil
}

// TieredTable prices rooms from one list regardless of tier.
type TieredTable struct {
	Schedule
	RoomPrices map[string]decimal.Decimal `json:"roomPrices"`
}

func (t *TieredTable) RoomPrice(_ Tier, room string) decimal.Decimal {
	return t.RoomPrices[room]
}

func (t *TieredTable) Validate() error {
	if err := t.Schedule.Validate(); err != nil {
		return err
	}
	for room, price := range t.RoomPrices {
		if price.IsNegative() {
			return fmt.Errorf("rate table %s/%s: negative price for %s", t.Name, t.Revision, room)
		}
	}
	return nil
}

var (
	_ RateTable = (*ServiceTypeTable)(nil)
	_ RateTable = (*TieredTable)(nil)
)

// DecodeRateTable reads a JSON rate table document and returns the variant its
// "scheme" field names, validated.
func DecodeRateTable(data []byte) (RateTable, error) {
	var head struct {
		Scheme Scheme `json:"scheme"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode rate table: %w", err)
	}

	switch head.Scheme {
	case SchemeServiceType:
		var t ServiceTypeTable
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode %s rate table: %w", head.Scheme, err)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return &t, nil
	case SchemeTiered:
		var t TieredTable
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode %s rate table: %w", head.Scheme, err)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("decode rate table: unknown scheme %q", head.Scheme)
	}
}
