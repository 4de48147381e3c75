package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"attendance.org/internal/attendance"
	"attendance.org/internal/ledger"
	"attendance.org/internal/session"
)

func newClient(t *testing.T, h http.Handler, tokens session.Tokens) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	sc, err := session.NewClient(session.Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Store: session.NewStore(tokens)})
	if err != nil {
		t.Fatal(err)
	}
	return New(sc)
}

func TestMapError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "conflict",
			err:  &session.ServerRejectedError{Status: http.StatusConflict},
			want: ErrAlreadyRecorded,
		},
		{
			name: "forbidden",
			err:  &session.ServerRejectedError{Status: http.StatusForbidden},
			want: ErrNotAuthorized,
		},
		{
			name: "rejection stays visible",
			err:  &session.ServerRejectedError{Status: http.StatusConflict},
			want: session.ErrServerRejected,
		},
		{
			name: "pass through",
			err:  session.ErrNetworkUnavailable,
			want: session.ErrNetworkUnavailable,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := mapError(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("mapError() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSubmitPunch(t *testing.T) {
	serverTime := time.Date(2024, 3, 11, 4, 1, 0, 0, time.UTC)
	var got map[string]any
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/attendance/punch" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success", "statusCode": 200, "message": "Punched in",
			"data": map[string]any{"server_time": serverTime},
		})
	})
	c := newClient(t, h, session.Tokens{AccessToken: "tok"})

	rcpt, err := c.SubmitPunch(context.Background(), Submission{
		Kind:      attendance.In,
		Timestamp: time.Date(2024, 3, 11, 9, 30, 0, 0, time.FixedZone("IST", 330*60)),
		Latitude:  23.03,
		Longitude: 72.56,
	})
	if err != nil {
		t.Fatalf("SubmitPunch: %v", err)
	}
	if !rcpt.ServerTime.Equal(serverTime) || rcpt.Message != "Punched in" {
		t.Fatalf("unexpected receipt: %+v", rcpt)
	}
	if got["type"] != "in" || got["timestamp"] != "2024-03-11T04:00:00Z" {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestSubmitPunchConflict(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":"error","statusCode":409,"message":"Already punched in today"}`))
	})
	c := newClient(t, h, session.Tokens{AccessToken: "tok"})

	_, err := c.SubmitPunch(context.Background(), Submission{Kind: attendance.In, Timestamp: time.Now()})
	if !errors.Is(err, ErrAlreadyRecorded) || !errors.Is(err, session.ErrServerRejected) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoginStoresTokens(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("login must not send a bearer token")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success", "statusCode": 200,
			"data": map[string]string{"access_token": "a", "refresh_token": "r"},
		})
	})
	c := newClient(t, h, session.Tokens{})

	if _, err := c.Login(context.Background(), "asha@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := c.sess.Store().Snapshot(); got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Fatalf("tokens not stored: %+v", got)
	}
}

func TestTodayAndUploadAudit(t *testing.T) {
	in := time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC)
	var uploaded struct {
		Entries []ledger.Entry `json:"entries"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/attendance/today", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success", "statusCode": 200,
			"data": DayRecord{Date: "2024-03-11", PunchInAt: &in},
		})
	})
	mux.HandleFunc("/v1/attendance/audit", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&uploaded)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success", "statusCode": 200,
			"data": map[string]int{"accepted": len(uploaded.Entries)},
		})
	})
	c := newClient(t, mux, session.Tokens{AccessToken: "tok"})

	rec, err := c.Today(context.Background())
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if rec.Date != "2024-03-11" || rec.PunchInAt == nil || !rec.PunchInAt.Equal(in) || rec.PunchOutAt != nil {
		t.Fatalf("unexpected record: %+v", rec)
	}

	n, err := c.UploadAudit(context.Background(), []ledger.Entry{{ID: "01", Sequence: 1, LocalDate: "2024-03-11"}})
	if err != nil || n != 1 {
		t.Fatalf("UploadAudit = %d, %v", n, err)
	}
	if len(uploaded.Entries) != 1 || uploaded.Entries[0].Sequence != 1 {
		t.Fatalf("unexpected upload: %+v", uploaded)
	}
}
