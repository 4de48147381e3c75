package punch

import (
	"errors"
	"fmt"
	"math"

	"attendance.org/internal/session"
)

var (
	ErrAlreadyInProgress   = errors.New("punch: another punch is in progress")
	ErrInvalidTransition   = errors.New("punch: not allowed in the current state")
	ErrLocationUnavailable = errors.New("punch: location unavailable")
	ErrOutOfRange          = errors.New("punch: outside the office radius")
)

// OutOfRangeError reports how far from the anchor the punch was attempted.
type OutOfRangeError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("punch: %dm from office, allowed %dm", roundMeters(e.DistanceMeters), roundMeters(e.RadiusMeters))
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

func roundMeters(v float64) int64 { return int64(math.Round(v)) }

// reason is the short tag recorded in the ledger and metrics.
func reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLocationUnavailable):
		return "location_unavailable"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, session.ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, session.ErrNetworkUnavailable):
		return "network_unavailable"
	case errors.Is(err, session.ErrServerRejected):
		return "server_rejected"
	}
	return "error"
}

// UserMessage turns an error from RequestPunch into text for the person
// holding the phone.
func UserMessage(err error) string {
	var (
		oor *OutOfRangeError
		rej *session.ServerRejectedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyInProgress):
		return "Your punch is still being processed. Please wait."
	case errors.Is(err, ErrInvalidTransition):
		return "You can punch in once and punch out once per day, in that order."
	case errors.Is(err, ErrLocationUnavailable):
		return "We couldn't get your location. Turn on location access and try again."
	case errors.As(err, &oor):
		return fmt.Sprintf("You are %d m from the office. Move within %d m to punch.", roundMeters(oor.DistanceMeters), roundMeters(oor.RadiusMeters))
	case errors.Is(err, ErrOutOfRange):
		return "You are outside the office area."
	case errors.Is(err, session.ErrAuthExpired):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, session.ErrNetworkUnavailable):
		return "No internet connection. Your punch was not recorded; please try again when you are back online."
	case errors.As(err, &rej) && rej.Message() != "":
		return rej.Message()
	}
	return "Something went wrong. Please try again."
}
