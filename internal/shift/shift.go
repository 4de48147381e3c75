// Package shift classifies punches against a configured shift window.
//
// All wall-clock math happens in a fixed civil timezone given as a UTC
// offset in minutes. The device timezone is never consulted, so changing
// device settings cannot move a punch between on-time and late.
package shift

import (
	"errors"
	"fmt"
	"time"

	"attendance.org/internal/attendance"
)

const minutesPerDay = 24 * 60

// Window is a single-day shift. Start must be strictly before End.
type Window struct {
	StartHour             int `json:"start_hour" yaml:"start_hour"`
	StartMinute           int `json:"start_minute" yaml:"start_minute"`
	EndHour               int `json:"end_hour" yaml:"end_hour"`
	EndMinute             int `json:"end_minute" yaml:"end_minute"`
	TimezoneOffsetMinutes int `json:"timezone_offset_minutes" yaml:"timezone_offset_minutes"`
}

var (
	ErrInvalidWindow = errors.New("shift: start must be before end within one day")
	ErrInvalidClock  = errors.New("shift: invalid HH:MM")
	ErrInvalidOffset = errors.New("shift: timezone offset out of range")
)

// ParseWindow builds a Window from "HH:MM" strings.
func ParseWindow(start, end string, offsetMinutes int) (Window, error) {
	sh, sm, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	eh, em, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	w := Window{StartHour: sh, StartMinute: sm, EndHour: eh, EndMinute: em, TimezoneOffsetMinutes: offsetMinutes}
	return w, w.Validate()
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return t.Hour(), t.Minute(), nil
}

func (w Window) Validate() error {
	for _, v := range [][2]int{{w.StartHour, w.StartMinute}, {w.EndHour, w.EndMinute}} {
		if v[0] < 0 || v[0] > 23 || v[1] < 0 || v[1] > 59 {
			return ErrInvalidClock
		}
	}
	if w.TimezoneOffsetMinutes <= -minutesPerDay || w.TimezoneOffsetMinutes >= minutesPerDay {
		return ErrInvalidOffset
	}
	if w.StartMinutes() >= w.EndMinutes() {
		return ErrInvalidWindow
	}
	return nil
}

func (w Window) StartMinutes() int { return w.StartHour*60 + w.StartMinute }
func (w Window) EndMinutes() int   { return w.EndHour*60 + w.EndMinute }

// Location is the fixed civil zone of the window.
func (w Window) Location() *time.Location {
	return Zone(w.TimezoneOffsetMinutes)
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.StartHour, w.StartMinute, w.EndHour, w.EndMinute)
}

// Zone returns a fixed zone for a UTC offset in minutes.
func Zone(offsetMinutes int) *time.Location {
	sign := '+'
	abs := offsetMinutes
	if abs < 0 {
		sign = '-'
		abs = -abs
	}
	return time.FixedZone(fmt.Sprintf("UTC%c%02d:%02d", sign, abs/60, abs%60), offsetMinutes*60)
}

// CivilMinutes is the number of whole minutes since civil midnight.
func CivilMinutes(t time.Time, offsetMinutes int) int {
	c := t.In(Zone(offsetMinutes))
	return c.Hour()*60 + c.Minute()
}

// CivilDate is the civil calendar date of t as YYYY-MM-DD.
func CivilDate(t time.Time, offsetMinutes int) string {
	return t.In(Zone(offsetMinutes)).Format(time.DateOnly)
}

// Status is the advisory punctuality of a punch.
type Status int

const (
	OnTime Status = iota
	Late
	Early
)

func (s Status) String() string {
	switch s {
	case OnTime:
		return "on_time"
	case Late:
		return "late"
	case Early:
		return "early"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "on_time":
		*s = OnTime
	case "late":
		*s = Late
	case "early":
		*s = Early
	default:
		return fmt.Errorf("shift: unknown status %q", b)
	}
	return nil
}

// Classification is the result of Classify. OffsetMinutes is how late or
// how early the punch was; zero when on time.
type Classification struct {
	Status        Status `json:"status"`
	OffsetMinutes int    `json:"offset_minutes"`
}

// Classify compares instant with the window. Punch-in at exactly the start
// minute is on time; punch-out at exactly the end minute is on time.
func Classify(instant time.Time, w Window, kind attendance.Kind) Classification {
	m := CivilMinutes(instant, w.TimezoneOffsetMinutes)
	switch kind {
	case attendance.In:
		if m > w.StartMinutes() {
			return Classification{Status: Late, OffsetMinutes: m - w.StartMinutes()}
		}
	case attendance.Out:
		if m < w.EndMinutes() {
			return Classification{Status: Early, OffsetMinutes: w.EndMinutes() - m}
		}
	}
	return Classification{Status: OnTime}
}
