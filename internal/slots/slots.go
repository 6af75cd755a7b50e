// Package slots allocates scheduled events on a fixed half-hour daily grid.
//
// Slots are "HH:MM" strings. Because the grid is zero padded and fixed width,
// plain string comparison orders them chronologically.
package slots

import (
	"fmt"
	"time"

	"agendahub/store"
)

const (
	SlotCount = 28
	FirstSlot = "08:00"
	LastSlot  = "21:30"

	// DayLayout is the accepted format for days.
	DayLayout = "2006-01-02"
)

// Grid holds every slot of a day in chronological order.
var Grid = buildGrid()

func buildGrid() []string {
	g := make([]string, 0, SlotCount)
	for i := 0; i < SlotCount; i++ {
		minutes := 8*60 + i*30
		g = append(g, fmt.Sprintf("%02d:%02d", minutes/60, minutes%60))
	}
	return g
}

// Booking is the calendar position of one scheduled record.
type Booking struct {
	ID   string `json:"id"`
	Day  string `json:"day"`
	Slot string `json:"slot"`
}

func IsValidSlot(slot string) bool {
	for _, s := range Grid {
		if s == slot {
			return true
		}
	}
	return false
}

func IsValidDay(day string) bool {
	_, err := time.Parse(DayLayout, day)
	return err == nil
}

// NextAvailable scans the grid in chronological order and returns the first
// slot not booked on day. Bookings for other days are ignored. When the whole
// grid is taken it returns LastSlot: a day may run over capacity.
func NextAvailable(day string, bookings []Booking) string {
	taken := occupied(day, bookings)
	for _, s := range Grid {
		if _, ok := taken[s]; !ok {
			return s
		}
	}
	return LastSlot
}

// Conflicts lists the bookings already sitting on day/slot. It is advisory;
// Move never consults it. Bookings for other days are ignored.
func Conflicts(day, slot string, bookings []Booking) []Booking {
	var out []Booking
	for _, b := range bookings {
		if b.Day == day && b.Slot == slot {
			out = append(out, b)
		}
	}
	return out
}

// Move reassigns b to newDay/newSlot. Double booking is allowed.
func Move(b Booking, newDay, newSlot string) (Booking, error) {
	if !IsValidDay(newDay) {
		return b, fmt.Errorf("%w: %q", store.ErrInvalidDay, newDay)
	}
	if !IsValidSlot(newSlot) {
		return b, fmt.Errorf("%w: %q", store.ErrInvalidSlot, newSlot)
	}
	b.Day = newDay
	b.Slot = newSlot
	return b, nil
}

func occupied(day string, bookings []Booking) map[string]struct{} {
	taken := make(map[string]struct{}, len(bookings))
	for _, b := range bookings {
		if b.Day != day {
			continue
		}
		taken[b.Slot] = struct{}{}
	}
	return taken
}
