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
)

// Refresher exchanges a refresh token for a new access token. The returned
// RefreshToken is empty when the server did not rotate it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Tokens, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	return f(ctx, refreshToken)
}

var ErrRefreshRejected = errors.New("session: refresh token rejected")

// HTTPRefresher calls POST /v1/auth/refresh. It deliberately bypasses
// Client so a refresh can never trigger another refresh.
type HTTPRefresher struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.BaseURL, "/")+"/v1/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return Tokens{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	hc := r.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Tokens{}, fmt.Errorf("%w: %s", ErrRefreshRejected, DecodeErrorPayload(resp.StatusCode, raw).Message)
	}
	return decodeTokens(raw)
}

// decodeTokens accepts the bare {access_token, refresh_token} body as well
// as the same object wrapped in the response envelope.
func decodeTokens(raw []byte) (Tokens, error) {
	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
	}
	if t.AccessToken == "" {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &t)
		}
	}
	if t.AccessToken == "" {
		return Tokens{}, fmt.Errorf("%w: no access token in response", ErrRefreshRejected)
	}
	return t, nil
}
