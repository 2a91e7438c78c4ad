package scheduling

import (
	"errors"
	"time"
)

var (
	// ErrSlotTaken is returned when a reservation loses the race for a slot.
	ErrSlotTaken = errors.New("scheduling: slot already taken")
	// ErrSlotInvalid is returned for slot starts outside the working calendar.
	ErrSlotInvalid = errors.New("scheduling: slot outside working hours")
)

// Workweek describes the bookable calendar: fixed-width slots between the
// working hours on working days.
type Workweek struct {
	StartHour    int
	EndHour      int
	SlotDuration time.Duration
	Days         map[time.Weekday]bool
	Location     *time.Location
}

// NewWorkweek builds the calendar configuration.
func NewWorkweek(startHour, endHour int, slotDuration time.Duration, days []time.Weekday, loc *time.Location) Workweek {
	if loc == nil {
		loc = time.UTC
	}
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return Workweek{
		StartHour:    startHour,
		EndHour:      endHour,
		SlotDuration: slotDuration,
		Days:         set,
		Location:     loc,
	}
}

// SlotsFor generates every slot start on the given date that has not passed
// yet. It does not know about reservations; the service subtracts those.
func (w Workweek) SlotsFor(date time.Time, now time.Time) []time.Time {
	date = date.In(w.Location)
	if !w.Days[date.Weekday()] {
		return nil
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), w.StartHour, 0, 0, 0, w.Location)
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), w.EndHour, 0, 0, 0, w.Location)

	var slots []time.Time
	for cur := dayStart; cur.Before(dayEnd); cur = cur.Add(w.SlotDuration) {
		if cur.After(now) {
			slots = append(slots, cur)
		}
	}
	return slots
}

// Contains reports whether the given instant is a valid slot start: on a
// working day, aligned to the slot grid, inside working hours.
func (w Workweek) Contains(slotStart time.Time) bool {
	local := slotStart.In(w.Location)
	if !w.Days[local.Weekday()] {
		return false
	}
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), w.StartHour, 0, 0, 0, w.Location)
	dayEnd := time.Date(local.Year(), local.Month(), local.Day(), w.EndHour, 0, 0, 0, w.Location)
	if local.Before(dayStart) || !local.Before(dayEnd) {
		return false
	}
	return local.Sub(dayStart)%w.SlotDuration == 0
}
