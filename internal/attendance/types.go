package attendance

import (
	"errors"
	"strings"
	"time"

	"attendance.org/internal/geo"
)

// Kind is the direction of a punch.
type Kind string

const (
	In  Kind = "in"
	Out Kind = "out"
)

// ParseKind accepts "in"/"out" and the common check-in/check-out spellings.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "checkin", "check-in", "punch-in":
		return In, nil
	case "out", "checkout", "check-out", "punch-out":
		return Out, nil
	}
	return "", ErrInvalidKind
}

func (k Kind) Valid() bool { return k == In || k == Out }

// Outcome is the terminal result recorded for a punch attempt.
type Outcome string

const (
	Accepted Outcome = "accepted"
	Rejected Outcome = "rejected"
	Pending  Outcome = "pending"
)

// Event is a single punch attempt. RequestedAt is the device instant the
// gesture happened and is the only input to late/early classification.
type Event struct {
	Kind        Kind           `json:"kind"`
	RequestedAt time.Time      `json:"requested_at"`
	Location    geo.Coordinate `json:"location"`
	Outcome     Outcome        `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
	ServerTime  time.Time      `json:"server_time,omitempty"`
}

// WithOutcome returns a copy of e carrying the terminal outcome.
func (e Event) WithOutcome(o Outcome, reason string) Event {
	e.Outcome = o
	e.Reason = reason
	return e
}

var ErrInvalidKind = errors.New("invalid punch kind (want in|out)")
