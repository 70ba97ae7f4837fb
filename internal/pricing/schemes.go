package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BuiltinVersion is the revision of the rate tables compiled into the binary.
const BuiltinVersion = "builtin-2024.09"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Builtin returns the compiled-in rate table for a scheme.
func Builtin(scheme Scheme) (RateTable, error) {
	switch scheme {
	case SchemeServiceType:
		return ServiceTypeRates(), nil
	case SchemeTiered:
		return TieredRates(), nil
	default:
		return nil, fmt.Errorf("no builtin rate table for scheme %q", scheme)
	}
}

// ServiceTypeRates is the standard/detailing price list.
func ServiceTypeRates() *ServiceTypeTable {
	return &ServiceTypeTable{
		Schedule: sharedSchedule(SchemeServiceType,
			[]Tier{TierStandard, TierDetailing},
			map[Tier]decimal.Decimal{
				TierStandard:  d("1.0"),
				TierDetailing: d("1.8"),
			},
			map[string]decimal.Decimal{
				"upholstery_steam":     d("120"),
				"grout_restoration":    d("150"),
				"chandelier_detailing": d("90"),
			},
			nil,
		),
		RoomPrices: map[Tier]map[string]decimal.Decimal{
			TierStandard: {
				"bedroom":      d("25"),
				"bathroom":     d("30"),
				"kitchen":      d("40"),
				"living_room":  d("35"),
				"dining_room":  d("25"),
				"office":       d("25"),
				"laundry_room": d("20"),
				"hallway":      d("15"),
				"basement":     d("45"),
				"garage":       d("40"),
			},
			TierDetailing: {
				"bedroom":      d("45"),
				"bathroom":     d("55"),
				"kitchen":      d("75"),
				"living_room":  d("60"),
				"dining_room":  d("45"),
				"office":       d("45"),
				"laundry_room": d("35"),
				"hallway":      d("25"),
				"basement":     d("80"),
				"garage":       d("70"),
			},
		},
	}
}

// TieredRates is the standard/premium/elite price list with minimum job values.
func TieredRates() *TieredTable {
	return &TieredTable{
		Schedule: sharedSchedule(SchemeTiered,
			[]Tier{TierStandard, TierPremium, TierElite},
			map[Tier]decimal.Decimal{
				TierStandard: d("1.0"),
				TierPremium:  d("1.35"),
				TierElite:    d("1.75"),
			},
			map[string]decimal.Decimal{
				"upholstery_steam":       d("120"),
				"grout_restoration":      d("150"),
				"chandelier_detailing":   d("90"),
				"white_glove_inspection": d("75"),
			},
			map[PropertyType]map[Tier]decimal.Decimal{
				PropertyApartment:  {TierStandard: d("120"), TierPremium: d("160"), TierElite: d("220")},
				PropertyCondo:      {TierStandard: d("130"), TierPremium: d("175"), TierElite: d("240")},
				PropertyTownhouse:  {TierStandard: d("150"), TierPremium: d("200"), TierElite: d("275")},
				PropertyHouse:      {TierStandard: d("175"), TierPremium: d("235"), TierElite: d("320")},
				PropertyCommercial: {TierStandard: d("300"), TierPremium: d("400"), TierElite: d("550")},
			},
		),
		RoomPrices: map[string]decimal.Decimal{
			"bedroom":      d("30"),
			"bathroom":     d("40"),
			"kitchen":      d("55"),
			"living_room":  d("45"),
			"dining_room":  d("30"),
			"office":       d("30"),
			"laundry_room": d("25"),
			"hallway":      d("20"),
			"basement":     d("60"),
			"garage":       d("50"),
		},
	}
}

func sharedSchedule(
	scheme Scheme,
	tiers []Tier,
	multipliers map[Tier]decimal.Decimal,
	exclusive map[string]decimal.Decimal,
	minimums map[PropertyType]map[Tier]decimal.Decimal,
) Schedule {
	return Schedule{
		Name:            scheme,
		Revision:        BuiltinVersion,
		TierOrder:       tiers,
		TierMultipliers: multipliers,
		CleanlinessMultipliers: []decimal.Decimal{
			d("1.0"), // light
			d("1.3"), // moderate
			d("1.7"), // heavy
			d("2.2"), // hazardous
		},
		Frequencies: map[Frequency]FrequencyAdjustment{
			FrequencyOneTime:    {Surcharge: d("0"), Discount: d("0")},
			FrequencyWeekly:     {Surcharge: d("0.05"), Discount: d("0.12")},
			FrequencyBiweekly:   {Surcharge: d("0.03"), Discount: d("0.08")},
			FrequencyMonthly:    {Surcharge: d("0.02"), Discount: d("0.05")},
			FrequencySemiAnnual: {Surcharge: d("0"), Discount: d("0.02")},
			FrequencyAnnual:     {Surcharge: d("0"), Discount: d("0.01")},
			FrequencyVIPDaily:   {Surcharge: d("0.15"), Discount: d("0.25")},
		},
		PaymentDiscounts: map[PaymentFrequency]decimal.Decimal{
			PaymentPerService: d("0"),
			PaymentMonthly:    d("0.05"),
			PaymentYearly:     d("0.10"),
		},
		AddOns: map[string]decimal.Decimal{
			"inside_oven":        d("35"),
			"inside_fridge":      d("30"),
			"interior_windows":   d("40"),
			"cabinet_interiors":  d("45"),
			"baseboards":         d("25"),
			"laundry":            d("20"),
			"wall_spot_cleaning": d("30"),
		},
		ExclusiveServices:      exclusive,
		WaiverDiscount:         d("0.05"),
		VideoRecordingDiscount: d("25"),
		FlatServiceFee:         d("15"),
		Minimums:               minimums,
	}
}
