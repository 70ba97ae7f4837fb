package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func scenarioA() ServiceConfiguration {
	cfg := DefaultConfiguration(ServiceTypeRates())
	cfg.Rooms = map[string]int{"bedroom": 2, "bathroom": 1}
	cfg.Tier = TierStandard
	cfg.CleanlinessLevel = CleanlinessModerate
	cfg.Frequency = FrequencyWeekly
	cfg.PaymentFrequency = PaymentMonthly
	return cfg
}

func TestCalculate_Scenarios(t *testing.T) {
	scenarioB := scenarioA()
	scenarioB.VideoRecording = true

	scenarioC := DefaultConfiguration(ServiceTypeRates())
	scenarioC.Rooms = map[string]int{"kitchen": 1, "living_room": 1}
	scenarioC.Tier = TierDetailing
	scenarioC.CleanlinessLevel = CleanlinessHeavy

	tests := []struct {
		name     string
		cfg      ServiceConfiguration
		want     string
		subtotal string
	}{
		{name: "standard weekly monthly billing", cfg: scenarioA(), want: "106.29", subtotal: "106.2912"},
		{name: "video recording discount", cfg: scenarioB, want: "81.29", subtotal: "81.2912"},
		{name: "detailing one time", cfg: scenarioC, want: "428.10", subtotal: "428.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(ServiceTypeRates(), tt.cfg)
			if !got.Total.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Incorrect total, got %s, want %s", got.Total.StringFixed(2), tt.want)
			}
			if !got.Subtotal().Equal(decimal.RequireFromString(tt.subtotal)) {
				t.Errorf("Breakdown does not reconstruct the unrounded total, got %s, want %s",
					got.Subtotal(), tt.subtotal)
			}
		})
	}
}

func TestCalculate_StepOrder(t *testing.T) {
	got := Calculate(ServiceTypeRates(), scenarioA())

	want := []struct {
		category Category
		value    string
	}{
		{CategoryRoom, "30"},      // bathroom x1
		{CategoryRoom, "50"},      // bedroom x2
		{CategoryTier, "0"},       // standard x1.0
		{CategoryCleanliness, "24"},
		{CategoryDiscount, "-7.904"},
		{CategoryDiscount, "-4.8048"},
		{CategoryAdjustment, "15"},
	}
	if len(got.Breakdown) != len(want) {
		t.Fatalf("Unexpected breakdown length, got %d, want %d: %+v", len(got.Breakdown), len(want), got.Breakdown)
	}
	for i, w := range want {
		item := got.Breakdown[i]
		if item.Category != w.category || !item.Value.Equal(decimal.RequireFromString(w.value)) {
			t.Errorf("Line %d: got %s %s (%s), want %s %s", i, item.Category, item.Value, item.Label, w.category, w.value)
		}
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	cfg := scenarioA()
	cfg.SelectedAddOns = []string{"inside_oven", "baseboards", "inside_oven"}
	first := Calculate(TieredRates(), cfg)
	for i := 0; i < 50; i++ {
		if next := Calculate(TieredRates(), cfg); !next.Equal(first) {
			t.Fatalf("Calculation %d differs: %+v vs %+v", i, next, first)
		}
	}
}

func TestCalculate_DoesNotMutateInput(t *testing.T) {
	cfg := scenarioA()
	cfg.SelectedAddOns = []string{"laundry", "baseboards"}
	Calculate(ServiceTypeRates(), cfg)
	if cfg.SelectedAddOns[0] != "laundry" {
		t.Errorf("Add-on order was mutated: %v", cfg.SelectedAddOns)
	}
}

func TestCalculate_MonotonicInRoomCount(t *testing.T) {
	table := TieredRates()
	for _, room := range []string{"bedroom", "bathroom", "kitchen", "garage"} {
		prev := decimal.Zero
		for count := 0; count <= 6; count++ {
			cfg := scenarioA()
			cfg.PropertyType = PropertyCommercial
			cfg.Rooms = map[string]int{room: count, "hallway": 1}
			got := Calculate(table, cfg).Subtotal()
			if got.LessThan(prev) {
				t.Fatalf("%s: total decreased from %s to %s at count %d", room, prev, got, count)
			}
			prev = got
		}
	}
}

func TestCalculate_TierOrdering(t *testing.T) {
	for _, table := range []RateTable{ServiceTypeRates(), TieredRates()} {
		prev := decimal.Zero
		for _, tier := range table.Tiers() {
			cfg := scenarioA()
			cfg.Tier = tier
			got := Calculate(table, cfg).Total
			if got.LessThan(prev) {
				t.Errorf("%s: tier %s priced %s below lower tier %s", table.Scheme(), tier, got, prev)
			}
			prev = got
		}
	}
}

func TestCalculate_MinimumJobValue(t *testing.T) {
	table := TieredRates()
	fee := table.ServiceFee()

	for _, pt := range PropertyTypes {
		for _, tier := range table.Tiers() {
			cfg := DefaultConfiguration(table)
			cfg.Rooms = map[string]int{"hallway": 1}
			cfg.PropertyType = pt
			cfg.Tier = tier

			got := Calculate(table, cfg)
			minimum, ok := table.MinimumJobValue(pt, tier)
			if !ok {
				t.Fatalf("Missing minimum for %s/%s", pt, tier)
			}
			if preFee := got.Subtotal().Sub(fee); preFee.LessThan(minimum) {
				t.Errorf("%s/%s: pre-fee total %s below minimum %s", pt, tier, preFee, minimum)
			}
			adjustments := got.ByCategory(CategoryAdjustment)
			if len(adjustments) != 2 {
				t.Fatalf("%s/%s: expected top-up and fee lines, got %+v", pt, tier, adjustments)
			}
			if last := got.Breakdown[len(got.Breakdown)-1]; last.Label != "Service fee" {
				t.Errorf("%s/%s: service fee must be the last line, got %q", pt, tier, last.Label)
			}
		}
	}
}

func TestCalculate_NoTopUpAboveMinimum(t *testing.T) {
	cfg := DefaultConfiguration(TieredRates())
	cfg.Rooms = map[string]int{"bedroom": 4, "bathroom": 3, "kitchen": 1}
	cfg.PropertyType = PropertyApartment

	got := Calculate(TieredRates(), cfg)
	if n := len(got.ByCategory(CategoryAdjustment)); n != 1 {
		t.Errorf("Expected only the service fee adjustment, got %d lines", n)
	}
}

func TestCalculate_VideoDiscountFloorsAtZero(t *testing.T) {
	cfg := DefaultConfiguration(ServiceTypeRates())
	cfg.Rooms = map[string]int{"hallway": 1}
	cfg.VideoRecording = true

	got := Calculate(ServiceTypeRates(), cfg)
	if !got.Total.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected only the service fee to remain, got %s", got.Total)
	}
	var video []BreakdownItem
	for _, item := range got.ByCategory(CategoryDiscount) {
		if item.Label == "Video recording discount" {
			video = append(video, item)
		}
	}
	if len(video) != 1 || !video[0].Value.Equal(decimal.NewFromInt(-15)) {
		t.Errorf("Video discount should be capped at the running total, got %+v", video)
	}
}

func TestCalculate_WaiverAndExtras(t *testing.T) {
	table := TieredRates()
	cfg := DefaultConfiguration(table)
	cfg.Rooms = map[string]int{"bedroom": 3, "bathroom": 2, "kitchen": 1}
	cfg.Tier = TierElite
	cfg.CleanlinessLevel = CleanlinessHazardous
	cfg.WaiverSigned = true
	cfg.SelectedAddOns = []string{"inside_fridge", "inside_oven"}
	cfg.SelectedExclusiveServices = []string{"white_glove_inspection"}

	got := Calculate(table, cfg)

	// 225 x1.75 = 393.75; x2.2 = 866.25; +30 +35 = 931.25; +75 = 1006.25; x0.95 = 955.9375; +15
	if want := decimal.RequireFromString("970.94"); !got.Total.Equal(want) {
		t.Errorf("Incorrect total, got %s, want %s", got.Total, want)
	}
	if n := len(got.ByCategory(CategoryAddOn)); n != 2 {
		t.Errorf("Expected 2 add-on lines, got %d", n)
	}
	if n := len(got.ByCategory(CategoryExclusiveService)); n != 1 {
		t.Errorf("Expected 1 exclusive service line, got %d", n)
	}
}

func TestCalculate_UnknownKeysContributeNothing(t *testing.T) {
	cfg := scenarioA()
	base := Calculate(ServiceTypeRates(), cfg)

	cfg.Rooms["ballroom"] = 3
	cfg.SelectedAddOns = []string{"moon_polish"}
	got := Calculate(ServiceTypeRates(), cfg)
	if !got.Total.Equal(base.Total) {
		t.Errorf("Unknown room/add-on changed the total: %s vs %s", got.Total, base.Total)
	}

	cfg = scenarioA()
	cfg.Frequency = "fortnightly"
	cfg.PaymentFrequency = "quarterly"
	cfg.Tier = "platinum"
	got = Calculate(ServiceTypeRates(), cfg)
	// unknown tier has no room prices either: only the fee remains
	if !got.Total.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Unknown keys should degrade to zero contribution, got %s", got.Total)
	}
}

func TestCalculate_RoundsToCents(t *testing.T) {
	table := TieredRates()
	for level := CleanlinessLight; level <= CleanlinessHazardous; level++ {
		for _, f := range []Frequency{FrequencyWeekly, FrequencyBiweekly, FrequencyVIPDaily} {
			cfg := DefaultConfiguration(table)
			cfg.Rooms = map[string]int{"bedroom": 3, "office": 1}
			cfg.Tier = TierPremium
			cfg.CleanlinessLevel = level
			cfg.Frequency = f
			cfg.PaymentFrequency = PaymentYearly

			got := Calculate(table, cfg)
			if got.Total.Exponent() < -2 {
				t.Errorf("Total %s has more than two decimals", got.Total)
			}
			if got.Total.IsNegative() {
				t.Errorf("Negative total %s", got.Total)
			}
		}
	}
}

func TestCalculate_RecordsNeutralSteps(t *testing.T) {
	cfg := DefaultConfiguration(ServiceTypeRates())
	cfg.Rooms = map[string]int{"kitchen": 1, "living_room": 1}
	cfg.Tier = TierDetailing
	cfg.CleanlinessLevel = CleanlinessHeavy
	cfg.Frequency = FrequencyOneTime
	cfg.PaymentFrequency = PaymentPerService

	got := Calculate(ServiceTypeRates(), cfg)

	labels := map[string]BreakdownItem{}
	for _, item := range got.Breakdown {
		labels[item.Label] = item
	}
	for _, label := range []string{"One time frequency", "Per service payment discount"} {
		item, ok := labels[label]
		if !ok {
			t.Errorf("Missing %q line in %+v", label, got.Breakdown)
			continue
		}
		if !item.Value.IsZero() {
			t.Errorf("%q should be zero, got %s", label, item.Value)
		}
	}
	if item := labels["One time frequency"]; item.Category != CategoryFrequency {
		t.Errorf("Zero frequency delta should stay a frequency line, got %s", item.Category)
	}
	if _, ok := labels["Video recording discount"]; ok {
		t.Error("Unselected video recording should leave no line")
	}
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"living_room", "Living room"},
		{"étage", "Étage"},
		{"", "Unspecified"},
		{"_attic", " attic"},
	}
	for _, tt := range tests {
		if got := humanize(tt.in); got != tt.want {
			t.Errorf("humanize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
