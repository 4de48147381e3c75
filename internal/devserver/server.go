// Package devserver is a self-contained attendance backend for local
// development and end-to-end tests. It enforces one punch-in and one
// punch-out per employee per civil day and issues short-lived access
// tokens with rotating refresh tokens.
package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"attendance.org/internal/auth"
	"attendance.org/internal/kv"
	"attendance.org/internal/obs"
)

type Config struct {
	Issuer                *auth.Issuer
	Directory             *auth.Directory
	Store                 kv.Store
	TimezoneOffsetMinutes int
	Now                   func() time.Time
	RateBurst             int
	RatePerSecond         float64
	Version               string
}

// API is the HTTP layer of the development backend.
type API struct {
	mux     *http.ServeMux
	issuer  *auth.Issuer
	dir     *auth.Directory
	store   kv.Store
	offset  int
	now     func() time.Time
	version string

	rateBurst  int
	ratePerSec float64

	// serializes the read-check-write of a day record
	punchMu sync.Mutex
}

func New(cfg Config) (*API, error) {
	if cfg.Issuer == nil || cfg.Directory == nil {
		return nil, errors.New("devserver: issuer and directory are required")
	}
	if cfg.Store == nil {
		cfg.Store = kv.NewMemory()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	a := &API{
		mux:        http.NewServeMux(),
		issuer:     cfg.Issuer,
		dir:        cfg.Directory,
		store:      cfg.Store,
		offset:     cfg.TimezoneOffsetMinutes,
		now:        cfg.Now,
		version:    cfg.Version,
		rateBurst:  cfg.RateBurst,
		ratePerSec: cfg.RatePerSecond,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)

	a.mux.Handle("/v1/attendance/punch", a.withAuth(http.HandlerFunc(a.handlePunch)))
	a.mux.Handle("/v1/attendance/today", a.withAuth(http.HandlerFunc(a.handleToday)))
	a.mux.Handle("/v1/attendance/audit", a.withAuth(http.HandlerFunc(a.handleAudit)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found", nil)
	})
	return a, nil
}

// Handler returns the full middleware chain around the routes.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "attendance-devserver",
		"version": a.version,
	})
}

// envelope is the wire wrapper of every /v1 response.
type envelope struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message,omitempty"`
	Data       any    `json:"data,omitempty"`
	Errors     any    `json:"errors,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, envelope{Status: "success", StatusCode: code, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string, fields []fieldError) {
	env := envelope{Status: "error", StatusCode: code, Message: msg}
	if len(fields) > 0 {
		env.Errors = fields
	}
	writeJSON(w, code, env)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
}
