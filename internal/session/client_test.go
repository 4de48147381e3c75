package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"attendance.org/internal/kv"
)

// fakeAPI accepts one current access token and rotates it on refresh.
type fakeAPI struct {
	mu            sync.Mutex
	access        string
	refresh       string
	refreshCalls  atomic.Int32
	refreshStatus int
	requestIDs    []string
	alwaysDeny    bool
	gate          chan struct{}
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.gate != nil {
			<-f.gate
		}
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.refreshStatus != 0 || body.RefreshToken != f.refresh {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"refresh token invalid"}`))
			return
		}
		f.access = "access-2"
		f.refresh = "refresh-2"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success", "statusCode": 200,
			"data": map[string]string{"access_token": f.access, "refresh_token": f.refresh},
		})
	})
	mux.HandleFunc("/v1/attendance/today", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requestIDs = append(f.requestIDs, r.Header.Get("X-Request-ID"))
		ok := !f.alwaysDeny && r.Header.Get("Authorization") == "Bearer "+f.access
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","statusCode":200,"data":{"phase":"not_punched"}}`))
	})
	mux.HandleFunc("/v1/attendance/punch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":"error","statusCode":409,"message":"Already punched in today"}`))
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI, tokens Tokens) (*Client, *Store) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	store := NewStore(tokens)
	c, err := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Store: store})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, store
}

var today = Request{Method: http.MethodGet, Path: "/v1/attendance/today", RequiresAuth: true}

func TestSendInjectsBearer(t *testing.T) {
	api := &fakeAPI{access: "access-1", refresh: "refresh-1"}
	c, _ := newTestClient(t, api, Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"})

	resp, err := c.Send(context.Background(), today)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var data struct {
		Phase string `json:"phase"`
	}
	if err := resp.DecodeData(&data); err != nil || data.Phase != "not_punched" {
		t.Fatalf("DecodeData = %+v, %v", data, err)
	}
	if api.refreshCalls.Load() != 0 {
		t.Fatal("unexpected refresh")
	}
}

func TestSendWithoutTokenFailsFast(t *testing.T) {
	api := &fakeAPI{access: "access-1"}
	c, _ := newTestClient(t, api, Tokens{})

	if _, err := c.Send(context.Background(), today); !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if len(api.requestIDs) != 0 {
		t.Fatal("request was sent without a token")
	}
}

func TestSendRefreshesOnceAndRetries(t *testing.T) {
	api := &fakeAPI{access: "access-1", refresh: "refresh-1"}
	c, store := newTestClient(t, api, Tokens{AccessToken: "stale", RefreshToken: "refresh-1"})

	if _, err := c.Send(context.Background(), today); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := api.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	got := store.Snapshot()
	if got.AccessToken != "access-2" || got.RefreshToken != "refresh-2" {
		t.Fatalf("session not updated: %+v", got)
	}
	if len(api.requestIDs) != 2 || api.requestIDs[0] != api.requestIDs[1] || api.requestIDs[0] == "" {
		t.Fatalf("retry must reuse the request id: %v", api.requestIDs)
	}
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	api := &fakeAPI{access: "access-1", refresh: "refresh-1", gate: make(chan struct{})}
	c, _ := newTestClient(t, api, Tokens{AccessToken: "stale", RefreshToken: "refresh-1"})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Send(context.Background(), today)
			errs <- err
		}()
	}

	deadline := time.After(5 * time.Second)
	for api.refreshCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("refresh never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// Let stragglers reach the shared call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(api.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestRefreshFailureClearsSession(t *testing.T) {
	api := &fakeAPI{access: "access-1", refresh: "refresh-1", refreshStatus: http.StatusUnauthorized}
	c, store := newTestClient(t, api, Tokens{AccessToken: "stale", RefreshToken: "refresh-1"})

	_, err := c.Send(context.Background(), today)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if store.Snapshot() != (Tokens{}) {
		t.Fatalf("session not cleared: %+v", store.Snapshot())
	}
	if api.refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", api.refreshCalls.Load())
	}
}

func TestSecond401AfterRefreshExpires(t *testing.T) {
	api := &fakeAPI{access: "access-1", refresh: "refresh-1", alwaysDeny: true}
	c, store := newTestClient(t, api, Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"})

	_, err := c.Send(context.Background(), today)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if api.refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want exactly 1", api.refreshCalls.Load())
	}
	if len(api.requestIDs) != 2 {
		t.Fatalf("requests = %d, want original plus one retry", len(api.requestIDs))
	}
	if store.Snapshot().SignedIn() {
		t.Fatal("session not cleared")
	}
}

func TestServerRejection(t *testing.T) {
	api := &fakeAPI{access: "access-1"}
	c, _ := newTestClient(t, api, Tokens{AccessToken: "access-1"})

	_, err := c.Send(context.Background(), Request{Method: http.MethodPost, Path: "/v1/attendance/punch", Body: map[string]string{"type": "in"}, RequiresAuth: true})
	if !errors.Is(err, ErrServerRejected) {
		t.Fatalf("expected ErrServerRejected, got %v", err)
	}
	var rej *ServerRejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *ServerRejectedError, got %T", err)
	}
	if rej.Status != http.StatusConflict || rej.Message() != "Already punched in today" {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
}

func TestNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url, Store: NewStore(Tokens{AccessToken: "a"})})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Send(context.Background(), today)
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
	if errors.Is(err, ErrServerRejected) {
		t.Fatal("network failure must not look like a rejection")
	}
}

func TestStorePersistsTokens(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()

	s, err := OpenStore(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	s.Set(ctx, Tokens{AccessToken: "a", RefreshToken: "r"})

	reopened, err := OpenStore(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Snapshot(); got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Fatalf("tokens not restored: %+v", got)
	}

	reopened.Clear(ctx)
	if _, ok, _ := backend.Get(ctx, tokensKey); ok {
		t.Fatal("cleared session still persisted")
	}
}

func TestAccessExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := Tokens{AccessToken: tok}.AccessExpiry()
	if !ok || !got.Equal(exp) {
		t.Fatalf("AccessExpiry = %v, %v", got, ok)
	}
	if _, ok := (Tokens{AccessToken: "opaque"}).AccessExpiry(); ok {
		t.Fatal("opaque token should have no expiry")
	}
}

func TestTimedOutRequestIsNetworkUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Store: NewStore(Tokens{AccessToken: "a"})})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Send(ctx, today)
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline lost from the error chain: %v", err)
	}
}

func TestCancelledRequestIsNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Store: NewStore(Tokens{AccessToken: "a"})})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Send(ctx, today)
	if !errors.Is(err, ErrNetworkUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrNetworkUnavailable wrapping context.Canceled, got %v", err)
	}
}
