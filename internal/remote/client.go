// Package remote is the attendance REST API as seen by the punch engine.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"attendance.org/internal/attendance"
	"attendance.org/internal/ledger"
	"attendance.org/internal/session"
)

// Client wraps the session client with typed attendance calls.
type Client struct {
	sess *session.Client
}

func New(sess *session.Client) *Client { return &Client{sess: sess} }

// Submission is the body of POST /v1/attendance/punch.
type Submission struct {
	Kind      attendance.Kind `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
}

// Receipt is the server's acknowledgement of a punch. ServerTime is zero
// when the server did not report one.
type Receipt struct {
	ServerTime time.Time
	Message    string
}

// DayRecord is the server's view of the caller's current civil day.
type DayRecord struct {
	Date       string     `json:"date"`
	PunchInAt  *time.Time `json:"punch_in_at,omitempty"`
	PunchOutAt *time.Time `json:"punch_out_at,omitempty"`
}

var (
	// ErrAlreadyRecorded is a 409 from the punch endpoint: the server holds
	// a punch of that kind for the day already.
	ErrAlreadyRecorded = errors.New("remote: punch already recorded")
	ErrNotAuthorized   = errors.New("remote: not authorized")
)

func (c *Client) SubmitPunch(ctx context.Context, s Submission) (Receipt, error) {
	s.Timestamp = s.Timestamp.UTC()
	resp, err := c.sess.Send(ctx, session.Request{
		Method:       http.MethodPost,
		Path:         "/v1/attendance/punch",
		Body:         s,
		RequiresAuth: true,
	})
	if err != nil {
		return Receipt{}, mapError(err)
	}
	env, err := resp.Envelope()
	if err != nil {
		return Receipt{}, fmt.Errorf("remote: decode punch response: %w", err)
	}
	var data struct {
		ServerTime time.Time `json:"server_time"`
	}
	if err := resp.DecodeData(&data); err != nil {
		return Receipt{}, fmt.Errorf("remote: decode punch response: %w", err)
	}
	return Receipt{ServerTime: data.ServerTime, Message: env.Message}, nil
}

func (c *Client) Today(ctx context.Context) (DayRecord, error) {
	resp, err := c.sess.Send(ctx, session.Request{
		Method:       http.MethodGet,
		Path:         "/v1/attendance/today",
		RequiresAuth: true,
	})
	if err != nil {
		return DayRecord{}, mapError(err)
	}
	var rec DayRecord
	if err := resp.DecodeData(&rec); err != nil {
		return DayRecord{}, fmt.Errorf("remote: decode today: %w", err)
	}
	return rec, nil
}

// UploadAudit sends ledger entries to the backend's audit trail and returns
// how many the server accepted.
func (c *Client) UploadAudit(ctx context.Context, entries []ledger.Entry) (int, error) {
	resp, err := c.sess.Send(ctx, session.Request{
		Method:       http.MethodPost,
		Path:         "/v1/attendance/audit",
		Body:         map[string]any{"entries": entries},
		RequiresAuth: true,
	})
	if err != nil {
		return 0, mapError(err)
	}
	var data struct {
		Accepted int `json:"accepted"`
	}
	if err := resp.DecodeData(&data); err != nil {
		return 0, fmt.Errorf("remote: decode audit response: %w", err)
	}
	return data.Accepted, nil
}

// Login exchanges credentials for tokens and stores them in the session.
func (c *Client) Login(ctx context.Context, email, password string) (session.Tokens, error) {
	resp, err := c.sess.Send(ctx, session.Request{
		Method: http.MethodPost,
		Path:   "/v1/auth/login",
		Body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return session.Tokens{}, mapError(err)
	}
	var tokens session.Tokens
	if err := resp.DecodeData(&tokens); err != nil {
		return session.Tokens{}, fmt.Errorf("remote: decode login: %w", err)
	}
	if !tokens.SignedIn() {
		return session.Tokens{}, errors.New("remote: login returned no access token")
	}
	c.sess.Store().Set(ctx, tokens)
	return tokens, nil
}

// mapError attaches a domain sentinel to well-known rejections. The
// session error stays in the chain.
func mapError(err error) error {
	var rej *session.ServerRejectedError
	if !errors.As(err, &rej) {
		return err
	}
	switch rej.Status {
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrAlreadyRecorded, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	return err
}
