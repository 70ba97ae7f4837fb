package quote

import (
	"fmt"
	"sort"
	"strings"

	"quote-engine/internal/pricing"
)

func validateRoomCount(room string, count int) error {
	if strings.TrimSpace(room) == "" {
		return fmt.Errorf("%w: empty room type", ErrInvalidInput)
	}
	if count < 0 {
		return fmt.Errorf("%w: negative count %d for %s", ErrInvalidInput, count, room)
	}
	return nil
}

func validateTier(table pricing.RateTable, t pricing.Tier) error {
	if pricing.Rank(table, t) < 0 {
		return fmt.Errorf("%w: tier %q is not offered by scheme %s", ErrInvalidInput, t, table.Scheme())
	}
	return nil
}

func validateCleanliness(level int) error {
	if level < pricing.CleanlinessLight || level > pricing.CleanlinessHazardous {
		return fmt.Errorf("%w: cleanliness level %d outside %d..%d",
			ErrInvalidInput, level, pricing.CleanlinessLight, pricing.CleanlinessHazardous)
	}
	return nil
}

func validateFrequency(f pricing.Frequency) error {
	if !f.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidInput, f)
	}
	return nil
}

func validatePaymentFrequency(p pricing.PaymentFrequency) error {
	if !p.Valid() {
		return fmt.Errorf("%w: unknown payment frequency %q", ErrInvalidInput, p)
	}
	return nil
}

func validateAddOns(table pricing.RateTable, ids []string) error {
	for _, id := range ids {
		if _, ok := table.AddOnPrice(id); !ok {
			return fmt.Errorf("%w: unknown add-on %q", ErrInvalidInput, id)
		}
	}
	return nil
}

func validateExclusiveServices(table pricing.RateTable, t pricing.Tier, ids []string) error {
	for _, id := range ids {
		if _, ok := table.ExclusiveServicePrice(id); !ok {
			return fmt.Errorf("%w: unknown exclusive service %q", ErrInvalidInput, id)
		}
	}
	if len(ids) > 0 && t != pricing.TopTier(table) {
		return fmt.Errorf("%w: exclusive services require the %s tier, configuration is %s",
			ErrInvalidInput, pricing.TopTier(table), t)
	}
	return nil
}

func validateWaiver(signed bool, level int) error {
	if signed && level != pricing.CleanlinessHazardous {
		return fmt.Errorf("%w: a waiver only applies to hazardous conditions", ErrInvalidInput)
	}
	return nil
}

func validateAttributes(attrs pricing.PropertyAttributes) error {
	if attrs.PropertySizeSqFt < 0 {
		return fmt.Errorf("%w: negative property size %d", ErrInvalidInput, attrs.PropertySizeSqFt)
	}
	if !attrs.PropertyType.Valid() {
		return fmt.Errorf("%w: unknown property type %q", ErrInvalidInput, attrs.PropertyType)
	}
	return nil
}

// validateConfiguration checks a whole configuration, e.g. one restored from
// a session snapshot.
func validateConfiguration(table pricing.RateTable, cfg pricing.ServiceConfiguration) error {
	for _, room := range roomNames(cfg.Rooms) {
		if err := validateRoomCount(room, cfg.Rooms[room]); err != nil {
			return err
		}
	}
	checks := []error{
		validateTier(table, cfg.Tier),
		validateCleanliness(cfg.CleanlinessLevel),
		validateFrequency(cfg.Frequency),
		validatePaymentFrequency(cfg.PaymentFrequency),
		validateAddOns(table, cfg.SelectedAddOns),
		validateExclusiveServices(table, cfg.Tier, cfg.SelectedExclusiveServices),
		validateWaiver(cfg.WaiverSigned, cfg.CleanlinessLevel),
		validateAttributes(cfg.PropertyAttributes),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func roomNames(rooms map[string]int) []string {
	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
