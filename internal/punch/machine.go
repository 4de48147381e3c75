// Package punch decides whether a check-in or check-out is valid, submits
// it, and records every attempt exactly once in the ledger.
package punch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance.org/internal/attendance"
	"attendance.org/internal/audit"
	"attendance.org/internal/clock"
	"attendance.org/internal/geo"
	"attendance.org/internal/kv"
	"attendance.org/internal/ledger"
	"attendance.org/internal/location"
	"attendance.org/internal/obs"
	"attendance.org/internal/remote"
	"attendance.org/internal/session"
	"attendance.org/internal/shift"
	"attendance.org/internal/stream"
)

const dayStateKey = "punch/day"

// Backend is the subset of the attendance API the machine calls.
type Backend interface {
	SubmitPunch(ctx context.Context, s remote.Submission) (remote.Receipt, error)
	Today(ctx context.Context) (remote.DayRecord, error)
}

// Config is the office geofence and shift the machine enforces. Zero
// timeouts take the location default and a one minute rollover check.
type Config struct {
	Anchor           geo.Anchor
	Window           shift.Window
	LocationTimeout  time.Duration
	RolloverInterval time.Duration
}

// Deps are the collaborators of a Machine. Clock defaults to the real one.
type Deps struct {
	Location location.Provider
	Backend  Backend
	Ledger   *ledger.Ledger
	Store    kv.Store
	Clock    clock.Clock
}

// Machine is the per-session punch state machine. Only one RequestPunch
// runs at a time; a second concurrent call is refused, not queued.
type Machine struct {
	cfg     Config
	loc     location.Provider
	backend Backend
	ledger  *ledger.Ledger
	store   kv.Store
	clock   clock.Clock

	inflight chan struct{}
	changes  *stream.Stream[Change]

	mu   sync.Mutex
	day  DayState
	last *Result
}

// New validates cfg, restores the persisted day state from deps.Store and
// rolls it over if the civil date has moved on.
func New(ctx context.Context, cfg Config, deps Deps) (*Machine, error) {
	if err := cfg.Anchor.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Window.Validate(); err != nil {
		return nil, err
	}
	if deps.Location == nil || deps.Backend == nil || deps.Ledger == nil || deps.Store == nil {
		return nil, errors.New("punch: location, backend, ledger and store are required")
	}
	if cfg.LocationTimeout <= 0 {
		cfg.LocationTimeout = location.DefaultTimeout
	}
	if cfg.RolloverInterval <= 0 {
		cfg.RolloverInterval = time.Minute
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	m := &Machine{
		cfg:      cfg,
		loc:      deps.Location,
		backend:  deps.Backend,
		ledger:   deps.Ledger,
		store:    deps.Store,
		clock:    clk,
		inflight: make(chan struct{}, 1),
		changes:  stream.New[Change](0),
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	m.CheckRollover(ctx)
	return m, nil
}

func (m *Machine) load(ctx context.Context) error {
	raw, ok, err := m.store.Get(ctx, dayStateKey)
	if err != nil {
		return fmt.Errorf("punch: load day state: %w", err)
	}
	if !ok {
		return nil
	}
	var d DayState
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		obs.Warn("discarding unreadable day state", map[string]any{"error": err})
		return nil
	}
	m.day = d
	return nil
}

// persistLocked writes the day state. A failure only costs the state
// surviving a restart, so it is logged and not returned.
func (m *Machine) persistLocked(ctx context.Context) {
	b, err := json.Marshal(m.day)
	if err == nil {
		err = m.store.Set(ctx, dayStateKey, string(b))
	}
	if err != nil {
		_ = audit.LogEvent(ctx, "punch.day_state_persist_failed", map[string]any{"date": m.day.Date, "error": err})
	}
}

func (m *Machine) today() string {
	return shift.CivilDate(m.clock.Now(), m.cfg.Window.TimezoneOffsetMinutes)
}

// State returns the current day's state, rolling over first when the civil
// date has changed.
func (m *Machine) State() DayState {
	m.CheckRollover(context.Background())
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.day.clone()
}

// LastResult is the outcome of the most recent RequestPunch that passed the
// in-flight guard.
func (m *Machine) LastResult() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Result{}, false
	}
	return *m.last, true
}

// Subscribe delivers a Change each time the day state moves. The channel
// closes when ctx ends.
func (m *Machine) Subscribe(ctx context.Context) <-chan Change {
	return m.changes.Subscribe(ctx)
}

// CheckRollover resets the state to NotPunched when the civil date differs
// from the last one seen. It reports whether a reset happened.
func (m *Machine) CheckRollover(ctx context.Context) bool {
	date := m.today()
	m.mu.Lock()
	if m.day.Date == date {
		m.mu.Unlock()
		return false
	}
	prev := m.day.Date
	m.day = DayState{Date: date, Phase: NotPunched}
	m.persistLocked(ctx)
	state := m.day.clone()
	m.mu.Unlock()

	if prev != "" {
		obs.Info("day rolled over", map[string]any{"from": prev, "to": date})
	}
	m.changes.Publish(Change{State: state})
	return true
}

// Foreground is called when the app returns to the foreground.
func (m *Machine) Foreground(ctx context.Context) { m.CheckRollover(ctx) }

// Run checks for rollover every RolloverInterval until ctx ends.
func (m *Machine) Run(ctx context.Context) error {
	t := m.clock.NewTicker(m.cfg.RolloverInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.CheckRollover(ctx)
		}
	}
}

// Hydrate adopts the server's view of today. The server is authoritative,
// so its record replaces the local one for the same date.
func (m *Machine) Hydrate(ctx context.Context) error {
	rec, err := m.backend.Today(ctx)
	if err != nil {
		return err
	}
	m.CheckRollover(ctx)
	date := m.today()
	if rec.Date != "" && rec.Date != date {
		return nil
	}
	d := DayState{Date: date, Phase: NotPunched, PunchInAt: rec.PunchInAt, PunchOutAt: rec.PunchOutAt}
	switch {
	case rec.PunchOutAt != nil:
		d.Phase = PunchedOut
	case rec.PunchInAt != nil:
		d.Phase = PunchedIn
	}

	m.mu.Lock()
	changed := d.Phase != m.day.Phase
	m.day = d
	m.persistLocked(ctx)
	state := m.day.clone()
	m.mu.Unlock()

	if changed {
		m.changes.Publish(Change{State: state})
	}
	return nil
}

// RequestPunch runs one punch attempt. The returned Result describes the
// attempt whenever it got past the guards, including failed ones.
func (m *Machine) RequestPunch(ctx context.Context, kind attendance.Kind) (Result, error) {
	if !kind.Valid() {
		return Result{}, attendance.ErrInvalidKind
	}
	select {
	case m.inflight <- struct{}{}:
	default:
		obs.ObservePunch(string(kind), "refused", "already_in_progress")
		return Result{}, ErrAlreadyInProgress
	}
	defer func() { <-m.inflight }()

	m.CheckRollover(ctx)
	m.mu.Lock()
	phase := m.day.Phase
	m.mu.Unlock()
	if _, ok := phase.next(kind); !ok {
		obs.ObservePunch(string(kind), "refused", "invalid_transition")
		err := fmt.Errorf("%w: cannot punch %s while %s", ErrInvalidTransition, kind, phase)
		m.setLast(Result{Event: attendance.Event{Kind: kind, Outcome: attendance.Rejected, Reason: "invalid_transition"}, Err: err})
		return Result{}, err
	}

	requestedAt := m.clock.Now().UTC()
	date := shift.CivilDate(requestedAt, m.cfg.Window.TimezoneOffsetMinutes)
	ev := attendance.Event{Kind: kind, RequestedAt: requestedAt}

	coord, err := location.Acquire(ctx, m.loc, m.cfg.LocationTimeout)
	if err != nil {
		return m.reject(ctx, date, Result{Event: ev}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err))
	}
	ev.Location = coord

	fence := geo.Evaluate(coord, m.cfg.Anchor)
	if !fence.WithinRadius {
		return m.reject(ctx, date, Result{Event: ev, Geofence: &fence}, &OutOfRangeError{
			DistanceMeters: fence.DistanceMeters,
			RadiusMeters:   m.cfg.Anchor.RadiusMeters,
		})
	}

	class := shift.Classify(requestedAt, m.cfg.Window, kind)
	res := Result{Event: ev, Geofence: &fence, Classification: &class}

	rcpt, err := m.backend.SubmitPunch(ctx, remote.Submission{
		Kind:      kind,
		Timestamp: requestedAt,
		Latitude:  coord.Latitude,
		Longitude: coord.Longitude,
	})
	if err != nil {
		return m.reject(ctx, date, res, err)
	}
	return m.accept(ctx, date, res, rcpt)
}

func (m *Machine) accept(ctx context.Context, date string, res Result, rcpt remote.Receipt) (Result, error) {
	kind := res.Event.Kind
	confirmed := rcpt.ServerTime.UTC()
	if rcpt.ServerTime.IsZero() {
		confirmed = res.Event.RequestedAt
	}
	res.Event.ServerTime = rcpt.ServerTime.UTC()
	res.Event = res.Event.WithOutcome(attendance.Accepted, "")
	res.Message = rcpt.Message

	entry := m.ledger.Append(ctx, ledger.Entry{LocalDate: date, Event: res.Event, SyncStatus: ledger.Synced})
	res.Entry = &entry

	m.mu.Lock()
	// A punch confirmed after a rollover belongs to the date it was
	// requested on, which is already ledgered; the new day stays as it is.
	applied := false
	if m.day.Date == date {
		if phase, ok := m.day.Phase.next(kind); ok {
			m.day.Phase = phase
			if kind == attendance.In {
				m.day.PunchInAt = &confirmed
			} else {
				m.day.PunchOutAt = &confirmed
			}
			m.persistLocked(ctx)
			applied = true
		}
	}
	current := m.day.Date
	state := m.day.clone()
	last := res
	m.last = &last
	m.mu.Unlock()

	if !applied {
		obs.Warn("accepted punch not applied to day state", map[string]any{
			"kind":         kind,
			"punch_date":   date,
			"current_date": current,
		})
	}
	obs.ObservePunch(string(kind), string(attendance.Accepted), "")
	_ = audit.LogEvent(ctx, "punch.accepted", map[string]any{
		"kind":           kind,
		"date":           date,
		"entry_id":       entry.ID,
		"status":         res.Classification.Status.String(),
		"offset_minutes": res.Classification.OffsetMinutes,
		"distance_m":     res.Geofence.RoundedMeters(),
	})
	m.changes.Publish(Change{State: state, Result: &last})
	return res, nil
}

// reject ledgers a failed attempt and returns err. Attempts that never
// reached the server because the network was down are marked PendingSync
// so the audit trail gets uploaded later.
func (m *Machine) reject(ctx context.Context, date string, res Result, err error) (Result, error) {
	why := reason(err)
	res.Event = res.Event.WithOutcome(attendance.Rejected, why)
	res.Err = err
	res.Message = UserMessage(err)

	status := ledger.Synced
	if errors.Is(err, session.ErrNetworkUnavailable) {
		status = ledger.PendingSync
	}
	entry := m.ledger.Append(ctx, ledger.Entry{LocalDate: date, Event: res.Event, SyncStatus: status})
	res.Entry = &entry
	m.setLast(res)

	obs.ObservePunch(string(res.Event.Kind), string(attendance.Rejected), why)
	_ = audit.LogEvent(ctx, "punch.rejected", map[string]any{
		"kind":     res.Event.Kind,
		"date":     date,
		"reason":   why,
		"entry_id": entry.ID,
		"error":    err,
	})
	return res, err
}

func (m *Machine) setLast(r Result) {
	m.mu.Lock()
	m.last = &r
	m.mu.Unlock()
}
