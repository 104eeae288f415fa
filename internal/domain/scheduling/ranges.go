package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clinic hours bound every concrete range.
const (
	DayStartMinutes = 7 * 60
	DayEndMinutes   = 18 * 60
	MinRangeMinutes = 15
)

// TimeRange is one concrete bookable interval.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether [start, end) lies entirely inside r.
func (r TimeRange) Contains(start, end time.Time) bool {
	return !start.Before(r.Start) && !end.After(r.End)
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return h*60 + m, nil
}

func validateBlock(b TimeBlock) error {
	if b.DayOfWeek != "" {
		if _, ok := parseWeekday(b.DayOfWeek); !ok {
			return fmt.Errorf("unknown day_of_week %q", b.DayOfWeek)
		}
	}
	start, err := parseClock(b.StartTime)
	if err != nil {
		return err
	}
	end, err := parseClock(b.EndTime)
	if err != nil {
		return err
	}
	if start >= end {
		return fmt.Errorf("block %s-%s must start before it ends", b.StartTime, b.EndTime)
	}
	return nil
}

func clampMinutes(m int) int {
	return max(DayStartMinutes, min(m, DayEndMinutes))
}

// Ranges expands a window into concrete intervals: every day from StartDate
// through EndDate crossed with every block that applies to that weekday.
// Block edges are clamped to clinic hours and a collapsed block is widened
// to the 15 minute minimum. Blocks that still have no length are dropped.
// Days and block times are taken in the window's time zone.
func Ranges(w *TimeWindow) []TimeRange {
	if w == nil || len(w.TimeBlocks) == 0 {
		return nil
	}
	loc := w.Location()
	day := time.Date(w.StartDate.Year(), w.StartDate.Month(), w.StartDate.Day(), 0, 0, 0, 0, loc)
	last := time.Date(w.EndDate.Year(), w.EndDate.Month(), w.EndDate.Day(), 0, 0, 0, 0, loc)

	var out []TimeRange
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		for _, b := range w.TimeBlocks {
			if b.DayOfWeek != "" {
				wd, ok := parseWeekday(b.DayOfWeek)
				if !ok || wd != day.Weekday() {
					continue
				}
			}
			startMin, err := parseClock(b.StartTime)
			if err != nil {
				continue
			}
			endMin, err := parseClock(b.EndTime)
			if err != nil {
				continue
			}
			startMin = clampMinutes(startMin)
			endMin = clampMinutes(endMin)
			if endMin <= startMin {
				endMin = min(startMin+MinRangeMinutes, DayEndMinutes)
			}
			if endMin <= startMin {
				continue
			}
			out = append(out, TimeRange{
				Start: day.Add(time.Duration(startMin) * time.Minute),
				End:   day.Add(time.Duration(endMin) * time.Minute),
			})
		}
	}
	return out
}

// fitsWindow reports whether [start, end) falls inside one of w's ranges.
func fitsWindow(w *TimeWindow, start, end time.Time) bool {
	for _, r := range Ranges(w) {
		if r.Contains(start, end) {
			return true
		}
	}
	return false
}

// windowStatusFor derives the booking status from the active count.
// A closed window stays closed.
func windowStatusFor(current WindowStatus, booked, capacity int) WindowStatus {
	switch {
	case current == WindowClosed:
		return WindowClosed
	case booked <= 0:
		return WindowOpen
	case booked < capacity:
		return WindowPartiallyBooked
	default:
		return WindowFullyBooked
	}
}

// DetectConflicts finds overlapping scheduled appointments and appointments
// whose resolved procedures need more time than was booked.
func DetectConflicts(appts []*Appointment) []Conflict {
	var active []*Appointment
	for _, a := range appts {
		if a.Status == StatusScheduled {
			active = append(active, a)
		}
	}

	conflicts := []Conflict{}
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.ScheduledAt.Before(b.End()) && b.ScheduledAt.Before(a.End()) {
				conflicts = append(conflicts, Conflict{
					Type:           ConflictOverlap,
					AppointmentIDs: []uuid.UUID{a.ID, b.ID},
					Message: fmt.Sprintf("appointments at %s and %s overlap",
						a.ScheduledAt.Format(time.RFC3339), b.ScheduledAt.Format(time.RFC3339)),
				})
			}
		}
	}

	for _, a := range active {
		if len(a.Procedures) == 0 {
			continue
		}
		needed := 0
		for _, p := range a.Procedures {
			needed += p.DurationMinutes
		}
		booked := a.DurationMinutes
		if booked <= 0 {
			booked = DefaultAppointmentMinutes
		}
		if needed > booked {
			conflicts = append(conflicts, Conflict{
				Type:           ConflictDuration,
				AppointmentIDs: []uuid.UUID{a.ID},
				Message:        fmt.Sprintf("procedures need %d minutes but only %d are booked", needed, booked),
			})
		}
	}
	return conflicts
}
