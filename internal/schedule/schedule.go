// Package schedule decides whether targets should be hidden at a given
// instant. Window evaluation is pure; only ZoneNames reads the system zone
// database.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // devices may ship without a zoneinfo database
)

// State is the desired physical state of every target.
type State int

const (
	Unlocked State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// Clock is a time of day in minutes past midnight.
type Clock int

const minutesPerDay = 24 * 60

// NewClock returns the clock for hour:minute.
func NewClock(hour, minute int) (Clock, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour %d out of range 0-23", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute %d out of range 0-59", minute)
	}
	return Clock(hour*60 + minute), nil
}

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("parse clock %q: missing ':'", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: bad hour: %w", s, err)
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: bad minute: %w", s, err)
	}
	c, err := NewClock(h, m)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return c, nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

// Add returns c moved by minutes, wrapping around midnight.
func (c Clock) Add(minutes int) Clock {
	m := (int(c) + minutes) % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return Clock(m)
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock { return Clock(t.Hour()*60 + t.Minute()) }

// Window is the daily interval during which targets are hidden. Start is
// inclusive and End exclusive; Start > End wraps past midnight and
// Start == End is empty.
type Window struct {
	Start    Clock
	End      Clock
	Location *time.Location
}

var errNilLocation = errors.New("window has no location")

// ParseWindow builds a window from "HH:MM" bounds and an IANA zone name.
// An empty zone means the local zone.
func ParseWindow(start, end, zone string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	loc := time.Local
	if zone != "" {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return Window{}, fmt.Errorf("window timezone: %w", err)
		}
	}
	return Window{Start: s, End: e, Location: loc}, nil
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool { return w.Start > w.End }

// Contains reports whether c falls inside the window.
func (w Window) Contains(c Clock) bool {
	switch {
	case w.Start == w.End:
		return false
	case w.Wraps():
		return c >= w.Start || c < w.End
	default:
		return w.Start <= c && c < w.End
	}
}

func (w Window) String() string {
	name := "Local"
	if w.Location != nil {
		name = w.Location.String()
	}
	return fmt.Sprintf("%s-%s %s", w.Start, w.End, name)
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.Local
	}
	return w.Location
}

// DesiredState evaluates the window at now, converted to the window's zone.
func DesiredState(now time.Time, w Window) State {
	if w.Contains(ClockOf(now.In(w.location()))) {
		return Locked
	}
	return Unlocked
}

// NextTransition returns the next instant after now at which DesiredState
// changes, and the state it changes to. ok is false for an empty window.
func NextTransition(now time.Time, w Window) (at time.Time, to State, ok bool) {
	if w.Start == w.End {
		return time.Time{}, Unlocked, false
	}
	local := now.In(w.location())

	// Scan today and tomorrow for the first boundary strictly after now.
	var best time.Time
	var bestState State
	for day := 0; day <= 1; day++ {
		for _, b := range []struct {
			c  Clock
			to State
		}{{w.Start, Locked}, {w.End, Unlocked}} {
			t := time.Date(local.Year(), local.Month(), local.Day()+day, b.c.Hour(), b.c.Minute(), 0, 0, local.Location())
			if !t.After(now) {
				continue
			}
			if best.IsZero() || t.Before(best) {
				best, bestState = t, b.to
			}
		}
	}
	return best, bestState, true
}

// Validate checks that w is usable.
func (w Window) Validate() error {
	if w.Location == nil {
		return errNilLocation
	}
	if w.Start < 0 || w.Start >= minutesPerDay || w.End < 0 || w.End >= minutesPerDay {
		return fmt.Errorf("window %s out of range", w)
	}
	return nil
}
