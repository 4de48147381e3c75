package punch

import (
	"fmt"
	"time"

	"attendance.org/internal/attendance"
	"attendance.org/internal/geo"
	"attendance.org/internal/ledger"
	"attendance.org/internal/shift"
)

// Phase is where the user stands for the current civil day.
type Phase int

const (
	NotPunched Phase = iota
	PunchedIn
	PunchedOut
)

func (p Phase) String() string {
	switch p {
	case NotPunched:
		return "not_punched"
	case PunchedIn:
		return "punched_in"
	case PunchedOut:
		return "punched_out"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "not_punched":
		*p = NotPunched
	case "punched_in":
		*p = PunchedIn
	case "punched_out":
		*p = PunchedOut
	default:
		return fmt.Errorf("punch: unknown phase %q", b)
	}
	return nil
}

// next reports the phase kind moves to, or false when kind is not allowed
// from p.
func (p Phase) next(kind attendance.Kind) (Phase, bool) {
	switch {
	case p == NotPunched && kind == attendance.In:
		return PunchedIn, true
	case p == PunchedIn && kind == attendance.Out:
		return PunchedOut, true
	}
	return p, false
}

// DayState is the attendance of one civil day. It never carries over to
// the next day.
type DayState struct {
	Date       string     `json:"date"`
	Phase      Phase      `json:"phase"`
	PunchInAt  *time.Time `json:"punch_in_at,omitempty"`
	PunchOutAt *time.Time `json:"punch_out_at,omitempty"`
}

func (d DayState) clone() DayState {
	if d.PunchInAt != nil {
		t := *d.PunchInAt
		d.PunchInAt = &t
	}
	if d.PunchOutAt != nil {
		t := *d.PunchOutAt
		d.PunchOutAt = &t
	}
	return d
}

// Result is the outcome of one RequestPunch call that got past the
// in-flight guard. Err is nil for accepted punches.
type Result struct {
	Event          attendance.Event      `json:"event"`
	Classification *shift.Classification `json:"classification,omitempty"`
	Geofence       *geo.Result           `json:"geofence,omitempty"`
	Entry          *ledger.Entry         `json:"entry,omitempty"`
	Message        string                `json:"message,omitempty"`
	Err            error                 `json:"-"`
}

func (r Result) Accepted() bool { return r.Err == nil && r.Event.Outcome == attendance.Accepted }

// Change is published whenever the day state moves. Result is nil for a
// rollover or a hydrate from the server.
type Change struct {
	State  DayState `json:"state"`
	Result *Result  `json:"result,omitempty"`
}
