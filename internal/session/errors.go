package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired means the session is gone and the user must sign in
	// again.
	ErrAuthExpired = errors.New("session: authentication expired")
	// ErrNetworkUnavailable means no response was received at all.
	ErrNetworkUnavailable = errors.New("session: network unavailable")
	ErrServerRejected     = errors.New("session: server rejected request")
)

// ServerRejectedError carries the status and decoded payload of a non-2xx
// response.
type ServerRejectedError struct {
	Status  int
	Payload ErrorPayload
}

func (e *ServerRejectedError) Error() string {
	return fmt.Sprintf("session: server rejected request (%d): %s", e.Status, e.Payload.Message)
}

func (e *ServerRejectedError) Is(target error) bool { return target == ErrServerRejected }

// Message is the server's human readable explanation.
func (e *ServerRejectedError) Message() string { return e.Payload.Message }
