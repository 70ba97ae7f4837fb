// Package quote holds a customer's in-progress service configuration and
// keeps its price current as the configuration changes.
package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"quote-engine/internal/dispatch"
	"quote-engine/internal/pricing"
	"quote-engine/internal/tier"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNoConfiguration = errors.New("no configuration")
	ErrStaleResult     = errors.New("stale result")
)

// Snapshot is a consistent view of the store: the configuration after tier
// enforcement and the result computed from exactly that configuration.
type Snapshot struct {
	Configuration pricing.ServiceConfiguration `json:"configuration"`
	Result        pricing.PriceResult          `json:"result"`
	Enforcement   tier.Enforcement             `json:"enforcement"`
	// TierUpgraded is set when the latest change raised the tier.
	TierUpgraded bool   `json:"tierUpgraded"`
	Generation   uint64 `json:"generation"`
}

// Calculator is implemented by *dispatch.Dispatcher.
type Calculator interface {
	CalculatePrice(ctx context.Context, cfg pricing.ServiceConfiguration) dispatch.Outcome
}

// Store owns one configuration. Every mutation bumps the generation, then the
// store's recompute subscriber enforces the tier rules and prices the result
// before the lock is released, so readers never see a configuration without
// its matching result.
type Store struct {
	table     pricing.RateTable
	evaluator *tier.Evaluator
	logger    *zap.Logger

	mu          sync.Mutex
	cfg         *pricing.ServiceConfiguration
	result      pricing.PriceResult
	enforcement tier.Enforcement
	upgraded    bool
	generation  uint64

	changes *bus
	events  *bus
	outbox  []Event
	// queue holds events in generation order until drain delivers them.
	queue    []Event
	draining bool
}

func NewStore(table pricing.RateTable, evaluator *tier.Evaluator, logger *zap.Logger) *Store {
	s := &Store{
		table:     table,
		evaluator: evaluator,
		logger:    logger,
		changes:   newBus(),
		events:    newBus(),
	}
	s.changes.subscribe(EventConfigurationChanged, s.recompute)
	return s
}

// Subscribe registers fn for events of the given kind. Listeners run after
// the store lock is released and may read from or mutate the store. Events
// reach listeners one at a time in generation order, possibly on the
// goroutine of a later mutation.
func (s *Store) Subscribe(kind EventKind, fn Listener) (cancel func()) {
	return s.events.subscribe(kind, fn)
}

// Snapshot returns the current state, or false before the first room is set.
func (s *Store) Snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return Snapshot{}, false
	}
	return s.snapshotLocked(), true
}

func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// SetRoomCount sets one room's count. The first non-zero count creates the
// configuration with defaults; a zero count removes the room.
func (s *Store) SetRoomCount(room string, count int) error {
	if err := validateRoomCount(room, count); err != nil {
		return fmt.Errorf("SetRoomCount: %w", err)
	}
	err := s.mutate("SetRoomCount", count > 0, func(cfg *pricing.ServiceConfiguration) error {
		if count == 0 {
			delete(cfg.Rooms, room)
			return nil
		}
		cfg.Rooms[room] = count
		return nil
	})
	if count == 0 && errors.Is(err, ErrNoConfiguration) {
		return nil
	}
	return err
}

func (s *Store) SetTier(t pricing.Tier) error {
	if err := validateTier(s.table, t); err != nil {
		return fmt.Errorf("SetTier: %w", err)
	}
	return s.mutate("SetTier", false, func(cfg *pricing.ServiceConfiguration) error {
		cfg.Tier = t
		return nil
	})
}

// SetCleanliness clears a signed waiver when the level is no longer hazardous.
func (s *Store) SetCleanliness(level int) error {
	if err := validateCleanliness(level); err != nil {
		return fmt.Errorf("SetCleanliness: %w", err)
	}
	return s.mutate("SetCleanliness", false, func(cfg *pricing.ServiceConfiguration) error {
		cfg.CleanlinessLevel = level
		return nil
	})
}

func (s *Store) SetFrequency(f pricing.Frequency) error {
	if err := validateFrequency(f); err != nil {
		return fmt.Errorf("SetFrequency: %w", err)
	}
	return s.mutate("SetFrequency", false, func(cfg *pricing.ServiceConfiguration) error {
		cfg.Frequency = f
		return nil
	})
}

func (s *Store) SetPaymentFrequency(p pricing.PaymentFrequency) error {
	if err := validatePaymentFrequency(p); err != nil {
		return fmt.Errorf("SetPaymentFrequency: %w", err)
	}
	return s.mutate("SetPaymentFrequency", false, func(cfg *pricing.ServiceConfiguration) error {
		cfg.PaymentFrequency = p
		return nil
	})
}

// SetAddOns replaces the add-on selection. Duplicates collapse.
func (s *Store) SetAddOns(ids []string) error {
	ids = normalizeIDs(ids)
	if err := validateAddOns(s.table, ids); err != nil {
		return fmt.Errorf("SetAddOns: %w", err)
	}
	return s.mutate("SetAddOns", false, func(cfg *pricing.ServiceConfiguration) error {
		cfg.SelectedAddOns = ids
		return nil
	})
}

// SetExclusiveServices replaces the exclusive service selection. A non-empty
// selection needs the top tier, whether chosen or enforced.
func (s *Store) SetExclusiveServices(ids []string) error {
	ids = normalizeIDs(ids)
	return s.mutate("SetExclusiveServices", false, func(cfg *pricing.ServiceConfiguration) error {
		if err := validateExclusiveServices(s.table, cfg.Tier, ids); err != nil {
			return err
		}
		cfg.SelectedExclusiveServices = ids
		return nil
	})
}

func (s *Store) SetWaiverSigned(signed bool) error {
	return s.mutate("SetWaiverSigned", false, func(cfg *pricing.ServiceConfiguration) error {
		if err := validateWaiver(signed, cfg.CleanlinessLevel); err != nil {
			return err
		}
		cfg.WaiverSigned = signed
		return nil
	})
}

func (s *Store) SetVideoRecording(enabled bool) error {
	return s.mutate("SetVideoRecording", false, func(cfg *pricing.ServiceConfiguration) error {
		cfg.VideoRecording = enabled
		return nil
	})
}

func (s *Store) SetPropertyAttributes(attrs pricing.PropertyAttributes) error {
	if err := validateAttributes(attrs); err != nil {
		return fmt.Errorf("SetPropertyAttributes: %w", err)
	}
	return s.mutate("SetPropertyAttributes", false, func(cfg *pricing.ServiceConfiguration) error {
		cfg.PropertyAttributes = attrs
		return nil
	})
}

// Restore replaces the whole configuration after validating it. Like
// SetRoomCount, it only creates a configuration that has a room; on an empty
// store a roomless configuration yields ErrNoConfiguration.
func (s *Store) Restore(cfg pricing.ServiceConfiguration) error {
	cfg = cfg.Clone()
	cfg.SelectedAddOns = normalizeIDs(cfg.SelectedAddOns)
	cfg.SelectedExclusiveServices = normalizeIDs(cfg.SelectedExclusiveServices)
	if err := validateConfiguration(s.table, cfg); err != nil {
		return fmt.Errorf("Restore: %w", err)
	}
	return s.mutate("Restore", cfg.HasRooms(), func(next *pricing.ServiceConfiguration) error {
		*next = cfg
		return nil
	})
}

// Fork returns an independent store holding a copy of this one's state.
// Listeners are not carried over.
func (s *Store) Fork() *Store {
	f := NewStore(s.table, s.evaluator, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		cfg := s.cfg.Clone()
		f.cfg = &cfg
		f.result = s.result
		f.enforcement = s.enforcement
		f.upgraded = s.upgraded
	}
	f.generation = s.generation
	return f
}

// Checkout hands the final snapshot off and discards the configuration.
// Results still in flight for it become stale.
func (s *Store) Checkout() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return Snapshot{}, fmt.Errorf("Checkout: %w", ErrNoConfiguration)
	}
	snap := s.snapshotLocked()
	s.cfg = nil
	s.result = pricing.PriceResult{}
	s.enforcement = tier.Enforcement{}
	s.upgraded = false
	s.generation++
	return snap, nil
}

// Pending returns a copy of the configuration to price elsewhere, stamped
// with the generation Accept will check.
func (s *Store) Pending() (pricing.ServiceConfiguration, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return pricing.ServiceConfiguration{}, 0, ErrNoConfiguration
	}
	return s.cfg.Clone(), s.generation, nil
}

// Accept installs a result computed for generation. Results for older
// generations are rejected with ErrStaleResult.
func (s *Store) Accept(generation uint64, result pricing.PriceResult) (Snapshot, error) {
	s.mu.Lock()
	if s.cfg == nil {
		s.mu.Unlock()
		return Snapshot{}, ErrNoConfiguration
	}
	if generation != s.generation {
		current := s.generation
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: result for generation %d, store is at %d",
			ErrStaleResult, generation, current)
	}
	s.result = result
	snap := s.snapshotLocked()
	s.queue = append(s.queue, Event{Kind: EventResultChanged, Snapshot: snap})
	s.mu.Unlock()

	s.drain()
	return snap, nil
}

// Refresh prices the current configuration through calc and installs the
// outcome unless the configuration changed while it was computed. The
// returned flag reports whether the work was offloaded.
func (s *Store) Refresh(ctx context.Context, calc Calculator) (Snapshot, bool, error) {
	cfg, generation, err := s.Pending()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("Refresh: %w", err)
	}

	out := calc.CalculatePrice(ctx, cfg)
	if out.Err != nil {
		s.logger.Debug("Calculated without offload", zap.Error(out.Err))
	}

	snap, err := s.Accept(generation, out.Result)
	if err != nil {
		return Snapshot{}, out.Offloaded, fmt.Errorf("Refresh: %w", err)
	}
	return snap, out.Offloaded, nil
}

func (s *Store) mutate(operation string, create bool, apply func(cfg *pricing.ServiceConfiguration) error) error {
	s.mu.Lock()

	var next pricing.ServiceConfiguration
	switch {
	case s.cfg != nil:
		next = s.cfg.Clone()
	case create:
		next = pricing.DefaultConfiguration(s.table)
	default:
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", operation, ErrNoConfiguration)
	}

	if err := apply(&next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", operation, err)
	}

	s.generation++
	s.cfg = &next
	s.changes.publish(Event{Kind: EventConfigurationChanged})

	s.queue = append(s.queue, Event{Kind: EventConfigurationChanged, Snapshot: s.snapshotLocked()})
	s.queue = append(s.queue, s.outbox...)
	s.outbox = nil
	s.mu.Unlock()

	s.drain()
	return nil
}

// drain delivers queued events. One goroutine drains at a time; events queued
// meanwhile, including by listeners, are delivered by that goroutine.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	defer func() {
		s.draining = false
		s.mu.Unlock()
	}()

	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.events.publish(ev)
		s.mu.Lock()
	}
}

// recompute is the only subscriber to configuration changes. It runs with
// s.mu held.
func (s *Store) recompute(Event) {
	enforced, enf, upgraded := s.evaluator.Enforce(*s.cfg)

	if enforced.Tier != pricing.TopTier(s.table) && len(enforced.SelectedExclusiveServices) > 0 {
		s.logger.Debug("Dropping exclusive services below top tier",
			zap.Strings("services", enforced.SelectedExclusiveServices),
			zap.String("tier", string(enforced.Tier)),
		)
		enforced.SelectedExclusiveServices = []string{}
	}
	if enforced.CleanlinessLevel != pricing.CleanlinessHazardous {
		enforced.WaiverSigned = false
	}
	if upgraded {
		s.logger.Info("Service tier upgraded",
			zap.String("from", string(s.cfg.Tier)),
			zap.String("to", string(enforced.Tier)),
			zap.String("reason", enf.Message),
		)
	}

	s.cfg = &enforced
	s.enforcement = enf
	s.upgraded = upgraded
	s.result = pricing.Calculate(s.table, enforced)

	s.outbox = append(s.outbox, Event{Kind: EventResultChanged, Snapshot: s.snapshotLocked()})
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Configuration: s.cfg.Clone(),
		Result:        s.result,
		Enforcement:   s.enforcement,
		TierUpgraded:  s.upgraded,
		Generation:    s.generation,
	}
}
