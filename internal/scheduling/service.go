package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/uzlex/consult-platform/pkg/logging"
)

// ReservationStore is the persistence surface the service drives.
type ReservationStore interface {
	Reserve(ctx context.Context, consultationID uuid.UUID, slotStart time.Time) error
	Move(ctx context.Context, consultationID uuid.UUID, newStart time.Time) error
	Release(ctx context.Context, consultationID uuid.UUID) error
	ReservedStarts(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// Service computes bookable slots and guarantees at most one active booking
// per slot. Availability reads may hit the cache; reservations always go to
// the store.
type Service struct {
	store  ReservationStore
	cache  *SlotCache
	week   Workweek
	logger *logging.Logger

	// Clock is overridable in tests.
	Clock func() time.Time
}

// NewService creates the slot scheduler.
func NewService(store ReservationStore, cache *SlotCache, week Workweek, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:  store,
		cache:  cache,
		week:   week,
		logger: logger,
		Clock:  time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Workweek exposes the calendar configuration.
func (s *Service) Workweek() Workweek { return s.week }

// AvailableSlots returns the free slot starts for the date, cheapest path
// first. A stale cache can at worst show a just-taken slot; the reservation
// step rejects it anyway.
func (s *Service) AvailableSlots(ctx context.Context, date time.Time) ([]time.Time, error) {
	if cached, ok := s.cache.Get(ctx, date); ok {
		return s.dropPast(cached), nil
	}

	slots := s.week.SlotsFor(date, s.now())
	if len(slots) == 0 {
		return nil, nil
	}

	local := slots[0].In(s.week.Location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.week.Location)
	dayEnd := dayStart.Add(24 * time.Hour)
	reserved, err := s.store.ReservedStarts(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	taken := make(map[int64]bool, len(reserved))
	for _, r := range reserved {
		taken[r.Unix()] = true
	}

	free := slots[:0]
	for _, slot := range slots {
		if !taken[slot.Unix()] {
			free = append(free, slot)
		}
	}

	if err := s.cache.Set(ctx, date, free); err != nil {
		s.logger.Warn("slot cache write failed", "error", err)
	}
	return free, nil
}

// Reserve claims the slot for the consultation. Returns ErrSlotInvalid for
// starts outside the calendar and ErrSlotTaken when the slot is held.
func (s *Service) Reserve(ctx context.Context, consultationID uuid.UUID, slotStart time.Time) error {
	if !slotStart.After(s.now()) || !s.week.Contains(slotStart) {
		return ErrSlotInvalid
	}
	if err := s.store.Reserve(ctx, consultationID, slotStart); err != nil {
		return err
	}
	s.invalidate(ctx, slotStart)
	return nil
}

// Move reschedules the consultation's reservation onto newStart. The store
// performs the swap as one conditional write, so a lost race leaves the old
// reservation in place.
func (s *Service) Move(ctx context.Context, consultationID uuid.UUID, oldStart, newStart time.Time) error {
	if !newStart.After(s.now()) || !s.week.Contains(newStart) {
		return ErrSlotInvalid
	}
	if err := s.store.Move(ctx, consultationID, newStart); err != nil {
		return err
	}
	s.invalidate(ctx, oldStart)
	s.invalidate(ctx, newStart)
	return nil
}

// Release frees the consultation's slot; releasing twice is a no-op.
func (s *Service) Release(ctx context.Context, consultationID uuid.UUID, slotStart *time.Time) error {
	if err := s.store.Release(ctx, consultationID); err != nil {
		return err
	}
	if slotStart != nil {
		s.invalidate(ctx, *slotStart)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, slotStart time.Time) {
	if err := s.cache.Invalidate(ctx, slotStart.In(s.week.Location)); err != nil {
		s.logger.Warn("slot cache invalidation failed", "error", err)
	}
}

func (s *Service) dropPast(slots []time.Time) []time.Time {
	now := s.now()
	out := slots[:0]
	for _, slot := range slots {
		if slot.After(now) {
			out = append(out, slot)
		}
	}
	return out
}
