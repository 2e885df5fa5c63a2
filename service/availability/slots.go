package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/mymedic/mymedic-server/cmd/models"
)

// Slot is one bookable candidate produced by the generator. Start is the
// absolute instant; Time is the wall-clock label in the professional's
// timezone.
type Slot struct {
	Start        time.Time `json:"start"`
	Time         string    `json:"time"`
	DurationMins int       `json:"duration_mins"`
}

// parseClock converts an "HH:MM" wall-clock string to minutes since
// midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: use HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func clockLabel(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// GenerateSlots maps a professional's recurring rules, one-off time-off
// blocks and already-occupied appointments onto the ordered set of
// bookable start times for one calendar date.
//
// Rule and block times are wall clock in loc; appointments are absolute.
// Appointments in any non-active state are ignored. Candidates in the
// past relative to now are dropped. Overlapping rules may produce the
// same start time; duplicates are removed, first rule wins.
func GenerateSlots(rules []models.AvailabilityRule, blocks []models.TimeOffBlock, booked []models.Appointment, date time.Time, loc *time.Location, now time.Time) []Slot {
	year, month, day := date.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, loc)

	localNow := now.In(loc)
	ty, tm, td := localNow.Date()
	today := time.Date(ty, tm, td, 0, 0, 0, 0, loc)
	if dayStart.Before(today) {
		return nil
	}

	dateStr := dayStart.Format("2006-01-02")
	weekday := int(dayStart.Weekday())

	var partials []models.TimeOffBlock
	for _, b := range blocks {
		if b.BlockedDate != dateStr {
			continue
		}
		if b.FullDay() {
			return nil
		}
		partials = append(partials, b)
	}

	seen := make(map[int]bool)
	var out []Slot

	for _, rule := range rules {
		if rule.DayOfWeek != weekday {
			continue
		}
		start, err := parseClock(rule.StartTime)
		if err != nil {
			continue
		}
		end, err := parseClock(rule.EndTime)
		if err != nil {
			continue
		}
		duration := rule.SlotDurationMins
		if duration <= 0 || rule.BufferMins < 0 {
			continue
		}

		for cursor := start; cursor+duration <= end; cursor += duration + rule.BufferMins {
			if seen[cursor] {
				continue
			}
			if overlapsTimeOff(partials, cursor, duration) {
				continue
			}

			slotStart := time.Date(year, month, day, cursor/60, cursor%60, 0, 0, loc)
			slotEnd := slotStart.Add(time.Duration(duration) * time.Minute)

			if !slotStart.After(now) {
				continue
			}
			if overlapsBooked(booked, slotStart, slotEnd) {
				continue
			}

			seen[cursor] = true
			out = append(out, Slot{
				Start:        slotStart,
				Time:         clockLabel(cursor),
				DurationMins: duration,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func overlapsTimeOff(blocks []models.TimeOffBlock, cursor, duration int) bool {
	for _, b := range blocks {
		offStart, err := parseClock(*b.StartTime)
		if err != nil {
			continue
		}
		offEnd, err := parseClock(*b.EndTime)
		if err != nil {
			continue
		}
		if cursor < offEnd && cursor+duration > offStart {
			return true
		}
	}
	return false
}

func overlapsBooked(booked []models.Appointment, slotStart, slotEnd time.Time) bool {
	for _, a := range booked {
		if !a.Status.Active() {
			continue
		}
		if slotStart.Before(a.EndsAt()) && slotEnd.After(a.ScheduledAt) {
			return true
		}
	}
	return false
}
