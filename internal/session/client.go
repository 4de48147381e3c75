// Package session is the authenticated HTTP client every backend call goes
// through. It injects the bearer token, refreshes it once on 401 and maps
// failures onto a small set of error kinds.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"attendance.org/internal/audit"
	"attendance.org/internal/ids"
	"attendance.org/internal/obs"
)

const maxBodyBytes = 4 << 20

// Config holds what NewClient needs. HTTPClient defaults to one with a 15s
// timeout.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      *Store
	Refresher  Refresher
}

// Client sends authenticated requests and owns the refresh of the session
// held in its Store. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *Store
	refresher  Refresher
	refreshes  singleflight.Group
}

// NewClient validates cfg and returns a Client. The default Refresher
// posts to /v1/auth/refresh on BaseURL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("session: BaseURL is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: Store is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	ref := cfg.Refresher
	if ref == nil {
		ref = &HTTPRefresher{BaseURL: cfg.BaseURL, HTTPClient: hc}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
		store:      cfg.Store,
		refresher:  ref,
	}, nil
}

func (c *Client) Store() *Store { return c.store }

// Request describes one API call. Body, when non-nil, is encoded as JSON
// once and replayed unchanged on the retry.
type Request struct {
	Method       string
	Path         string
	Body         any
	Header       http.Header
	RequiresAuth bool
}

// Response is a successful (2xx) reply.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RequestID string
}

// Envelope decodes the body as the standard response envelope.
func (r *Response) Envelope() (Envelope, error) {
	var env Envelope
	if len(r.Body) == 0 {
		return env, nil
	}
	err := json.Unmarshal(r.Body, &env)
	return env, err
}

// DecodeData unmarshals the envelope's data field into v.
func (r *Response) DecodeData(v any) error {
	env, err := r.Envelope()
	if err != nil {
		return err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, v)
}

// Send performs req. Errors are ErrAuthExpired, ErrNetworkUnavailable or a
// *ServerRejectedError. A cancelled or timed-out request is
// ErrNetworkUnavailable with the context's error kept in the chain.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("session: encode body: %w", err)
		}
		body = b
	}
	requestID := ids.RequestID()

	var access string
	if req.RequiresAuth {
		access = c.store.Snapshot().AccessToken
		if access == "" {
			obs.ObserveSessionRequest("auth_expired")
			return nil, ErrAuthExpired
		}
	}

	resp, err := c.do(ctx, req, body, requestID, access)
	if err != nil {
		obs.ObserveSessionRequest("network")
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && req.RequiresAuth {
		fresh, err := c.refresh(ctx, access)
		if err != nil {
			obs.ObserveSessionRequest("auth_expired")
			return nil, err
		}
		resp, err = c.do(ctx, req, body, requestID, fresh.AccessToken)
		if err != nil {
			obs.ObserveSessionRequest("network")
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized {
			c.expire(ctx, "retry_unauthorized", nil)
			obs.ObserveSessionRequest("auth_expired")
			return nil, ErrAuthExpired
		}
	}

	if resp.Status < 200 || resp.Status > 299 {
		obs.ObserveSessionRequest("rejected")
		return nil, &ServerRejectedError{Status: resp.Status, Payload: DecodeErrorPayload(resp.Status, resp.Body)}
	}
	obs.ObserveSessionRequest("ok")
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request, body []byte, requestID, access string) (*Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, rdr)
	if err != nil {
		return nil, fmt.Errorf("session: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("X-Request-ID", requestID)
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		hreq.Header.Set("Authorization", "Bearer "+access)
	}

	hresp, err := c.httpClient.Do(hreq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNetworkUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer hresp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetworkUnavailable, err)
	}
	return &Response{Status: hresp.StatusCode, Header: hresp.Header, Body: raw, RequestID: requestID}, nil
}

// refresh obtains a token newer than stale. Concurrent callers share a
// single refresh; a caller whose stale token was already replaced gets the
// replacement without another round trip.
func (c *Client) refresh(ctx context.Context, stale string) (Tokens, error) {
	if cur := c.store.Snapshot(); cur.SignedIn() && cur.AccessToken != stale {
		return cur, nil
	}
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		cur := c.store.Snapshot()
		if cur.SignedIn() && cur.AccessToken != stale {
			return cur, nil
		}
		if cur.RefreshToken == "" {
			c.expire(ctx, "no_refresh_token", nil)
			return nil, ErrAuthExpired
		}
		next, err := c.refresher.Refresh(context.WithoutCancel(ctx), cur.RefreshToken)
		if err != nil {
			obs.ObserveRefresh("failed")
			c.expire(ctx, "refresh_failed", err)
			return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
		}
		if next.RefreshToken == "" {
			next.RefreshToken = cur.RefreshToken
		}
		c.store.Set(ctx, next)
		obs.ObserveRefresh("ok")
		return next, nil
	})
	if err != nil {
		return Tokens{}, err
	}
	return v.(Tokens), nil
}

func (c *Client) expire(ctx context.Context, reason string, cause error) {
	c.store.Clear(ctx)
	fields := map[string]any{"reason": reason}
	if cause != nil {
		fields["error"] = cause
	}
	_ = audit.LogEvent(ctx, "session.expired", fields)
}
