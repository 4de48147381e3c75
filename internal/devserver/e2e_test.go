package devserver_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance.org/internal/attendance"
	"attendance.org/internal/auth"
	"attendance.org/internal/clock"
	"attendance.org/internal/devserver"
	"attendance.org/internal/geo"
	"attendance.org/internal/kv"
	"attendance.org/internal/ledger"
	"attendance.org/internal/location"
	"attendance.org/internal/punch"
	"attendance.org/internal/remote"
	"attendance.org/internal/replay"
	"attendance.org/internal/session"
	"attendance.org/internal/shift"
)

var office = geo.Anchor{Latitude: 23.0352554, Longitude: 72.5616832, RadiusMeters: 200}

type world struct {
	clk    *clock.Fake
	url    string
	store  *kv.Memory
	ledger *ledger.Ledger
	remote *remote.Client
	sess   *session.Client
}

func newWorld(t *testing.T) *world {
	t.Helper()
	// 09:30 IST on a Monday.
	clk := clock.NewFake(time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC))

	iss, err := auth.NewIssuer([]byte("e2e-secret"), auth.WithAccessTTL(time.Hour), auth.WithNow(clk.Now))
	require.NoError(t, err)
	dir := auth.NewDirectory()
	require.NoError(t, dir.Add("asha@example.com", "emp-1", "correct horse"))
	api, err := devserver.New(devserver.Config{
		Issuer:                iss,
		Directory:             dir,
		TimezoneOffsetMinutes: 330,
		Now:                   clk.Now,
		RateBurst:             1000,
		RatePerSecond:         1000,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	store := kv.NewMemory()
	tokens, err := session.OpenStore(context.Background(), store)
	require.NoError(t, err)
	sess, err := session.NewClient(session.Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Store: tokens})
	require.NoError(t, err)

	return &world{
		clk:    clk,
		url:    srv.URL,
		store:  store,
		ledger: ledger.New(store, ledger.WithNow(clk.Now)),
		remote: remote.New(sess),
		sess:   sess,
	}
}

func (w *world) machine(t *testing.T, backend punch.Backend, at geo.Coordinate) *punch.Machine {
	t.Helper()
	win, err := shift.ParseWindow("09:30", "18:30", 330)
	require.NoError(t, err)
	m, err := punch.New(context.Background(), punch.Config{Anchor: office, Window: win}, punch.Deps{
		Location: location.Static{Coordinate: at},
		Backend:  backend,
		Ledger:   w.ledger,
		Store:    w.store,
		Clock:    w.clk,
	})
	require.NoError(t, err)
	return m
}

func TestWorkdayAgainstDevServer(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	_, err := w.remote.Login(ctx, "asha@example.com", "correct horse")
	require.NoError(t, err)

	m := w.machine(t, w.remote, office.Center())
	res, err := m.RequestPunch(ctx, attendance.In)
	require.NoError(t, err)
	assert.Equal(t, shift.OnTime, res.Classification.Status)
	assert.Equal(t, "Punched in successfully", res.Message)
	assert.Equal(t, punch.PunchedIn, m.State().Phase)

	// The access token expires while the employee works; punching out
	// refreshes it transparently.
	w.clk.Advance(2 * time.Hour)
	stale := w.sess.Store().Snapshot()
	res, err = m.RequestPunch(ctx, attendance.Out)
	require.NoError(t, err)
	assert.Equal(t, shift.Classification{Status: shift.Early, OffsetMinutes: 420}, *res.Classification)
	assert.NotEqual(t, stale.AccessToken, w.sess.Store().Snapshot().AccessToken)

	today, err := w.remote.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-11", today.Date)
	require.NotNil(t, today.PunchInAt)
	require.NotNil(t, today.PunchOutAt)

	entries, err := w.ledger.All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, attendance.Accepted, e.Event.Outcome)
		assert.Equal(t, ledger.Synced, e.SyncStatus)
	}

	// A restarted app on the same storage resumes the day.
	again := w.machine(t, w.remote, office.Center())
	assert.Equal(t, punch.PunchedOut, again.State().Phase)
}

func TestServerConflictHydratesState(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	_, err := w.remote.Login(ctx, "asha@example.com", "correct horse")
	require.NoError(t, err)

	// Another device already punched in today.
	_, err = w.remote.SubmitPunch(ctx, remote.Submission{Kind: attendance.In, Timestamp: w.clk.Now(), Latitude: office.Latitude, Longitude: office.Longitude})
	require.NoError(t, err)

	m := w.machine(t, w.remote, office.Center())
	res, err := m.RequestPunch(ctx, attendance.In)
	require.ErrorIs(t, err, remote.ErrAlreadyRecorded)
	assert.Equal(t, "Already punched in today", res.Message)

	require.NoError(t, m.Hydrate(ctx))
	assert.Equal(t, punch.PunchedIn, m.State().Phase)
}

func TestOfflinePunchIsReplayedAsAudit(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	_, err := w.remote.Login(ctx, "asha@example.com", "correct horse")
	require.NoError(t, err)

	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()
	offlineSess, err := session.NewClient(session.Config{
		BaseURL: deadURL,
		Store:   session.NewStore(w.sess.Store().Snapshot()),
	})
	require.NoError(t, err)

	m := w.machine(t, remote.New(offlineSess), office.Center())
	res, err := m.RequestPunch(ctx, attendance.In)
	require.True(t, errors.Is(err, session.ErrNetworkUnavailable), "got %v", err)
	assert.Equal(t, ledger.PendingSync, res.Entry.SyncStatus)
	assert.Equal(t, punch.NotPunched, m.State().Phase)

	worker := replay.New(w.ledger, w.remote, replay.Config{BatchSize: 10, Interval: time.Minute, RatePerSecond: 100, Burst: 1}, w.clk)
	n, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := w.ledger.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Replay uploads the audit record; it never submits the punch itself.
	today, err := w.remote.Today(ctx)
	require.NoError(t, err)
	assert.Nil(t, today.PunchInAt)
}

func TestOutOfRangeNeverReachesServer(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	_, err := w.remote.Login(ctx, "asha@example.com", "correct horse")
	require.NoError(t, err)

	m := w.machine(t, w.remote, geo.Offset(office.Center(), 220, 0))
	res, err := m.RequestPunch(ctx, attendance.In)
	require.ErrorIs(t, err, punch.ErrOutOfRange)
	assert.Equal(t, int64(220), res.Geofence.RoundedMeters())

	today, err := w.remote.Today(ctx)
	require.NoError(t, err)
	assert.Nil(t, today.PunchInAt)
}
