package pricing

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Calculate prices a configuration against a rate table. It is a pure function:
// no I/O, no clock, and the same input always yields the same result.
//
// The steps run in a fixed order and must not be reordered, since the
// multiplicative and flat adjustments do not commute:
// rooms, tier, cleanliness, frequency, payment cadence, add-ons, exclusive
// services, waiver, video discount, minimum job value, service fee, rounding.
//
// Every step that applies records one breakdown line, including a zero delta
// (a 1.0 tier multiplier, a one-time frequency, per-service billing). The
// waiver and video steps apply only when selected, the minimum top-up only
// below the minimum, and the fee only when non-zero.
//
// Input is assumed to be validated; unknown keys contribute nothing.
func Calculate(table RateTable, cfg ServiceConfiguration) PriceResult {
	one := decimal.NewFromInt(1)
	b := &breakdown{running: decimal.Zero}

	// Rooms, in key order so the breakdown is reproducible.
	for _, room := range sortedKeys(cfg.Rooms) {
		count := cfg.Rooms[room]
		if count <= 0 {
			continue
		}
		line := table.RoomPrice(cfg.Tier, room).Mul(decimal.NewFromInt(int64(count)))
		b.add(fmt.Sprintf("%s x%d", humanize(room), count), line, CategoryRoom)
	}

	b.scale(fmt.Sprintf("%s service", humanize(string(cfg.Tier))),
		table.TierMultiplier(cfg.Tier), CategoryTier)

	b.scale(fmt.Sprintf("Cleanliness level %d", cfg.CleanlinessLevel),
		table.CleanlinessMultiplier(cfg.CleanlinessLevel), CategoryCleanliness)

	adj := table.FrequencyAdjustment(cfg.Frequency)
	next := b.running.Mul(one.Add(adj.Surcharge)).Mul(one.Sub(adj.Discount))
	freqCategory := CategoryFrequency
	if next.LessThan(b.running) {
		freqCategory = CategoryDiscount
	}
	b.add(fmt.Sprintf("%s frequency", humanize(string(cfg.Frequency))), next.Sub(b.running), freqCategory)

	b.scale(fmt.Sprintf("%s payment discount", humanize(string(cfg.PaymentFrequency))),
		one.Sub(table.PaymentDiscount(cfg.PaymentFrequency)), CategoryDiscount)

	for _, id := range uniqueSorted(cfg.SelectedAddOns) {
		if price, ok := table.AddOnPrice(id); ok {
			b.add(humanize(id), price, CategoryAddOn)
		}
	}

	for _, id := range uniqueSorted(cfg.SelectedExclusiveServices) {
		if price, ok := table.ExclusiveServicePrice(id); ok {
			b.add(humanize(id), price, CategoryExclusiveService)
		}
	}

	if cfg.WaiverSigned {
		b.scale("Signed waiver discount", one.Sub(table.WaiverDiscountRate()), CategoryDiscount)
	}

	// Flat, never multiplicative, and never below zero.
	if cfg.VideoRecording {
		next := b.running.Sub(table.VideoDiscount())
		if next.IsNegative() {
			next = decimal.Zero
		}
		b.add("Video recording discount", next.Sub(b.running), CategoryDiscount)
	}

	if minimum, ok := table.MinimumJobValue(cfg.PropertyType, cfg.Tier); ok && b.running.LessThan(minimum) {
		b.add(fmt.Sprintf("Minimum job value (%s, %s)", cfg.PropertyType, cfg.Tier),
			minimum.Sub(b.running), CategoryAdjustment)
	}

	// The fee lands after the minimum so it is never absorbed by it.
	if fee := table.ServiceFee(); !fee.IsZero() {
		b.add("Service fee", fee, CategoryAdjustment)
	}

	if b.running.IsNegative() {
		b.add("Floor at zero", b.running.Neg(), CategoryAdjustment)
	}

	return PriceResult{
		Total:     b.running.Round(2),
		Breakdown: b.items,
	}
}

type breakdown struct {
	running decimal.Decimal
	items   []BreakdownItem
}

func (b *breakdown) add(label string, value decimal.Decimal, category Category) {
	b.running = b.running.Add(value)
	b.items = append(b.items, BreakdownItem{Label: label, Value: value, Category: category})
}

// scale multiplies the running total and records the delta.
func (b *breakdown) scale(label string, factor decimal.Decimal, category Category) {
	b.add(label, b.running.Mul(factor).Sub(b.running), category)
}

func humanize(key string) string {
	if key == "" {
		return "Unspecified"
	}
	s := strings.ReplaceAll(key, "_", " ")
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + s[size:]
}
