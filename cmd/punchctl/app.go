package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"attendance.org/internal/attendance"
	"attendance.org/internal/clock"
	"attendance.org/internal/config"
	"attendance.org/internal/geo"
	"attendance.org/internal/ledger"
	"attendance.org/internal/location"
	"attendance.org/internal/obs"
	"attendance.org/internal/punch"
	"attendance.org/internal/remote"
	"attendance.org/internal/replay"
	"attendance.org/internal/session"
	"attendance.org/internal/store"
)

type options struct {
	configPath    string
	email         string
	password      string
	lat, lon      float64
	hasCoordinate bool
	limit         int
}

func (o *options) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "path to YAML config (default $PUNCH_CONFIG)")
	fs.StringVar(&o.email, "email", os.Getenv("PUNCH_EMAIL"), "email for login")
	fs.StringVar(&o.password, "password", "", "password for login (default $PUNCH_PASSWORD)")
	fs.Float64Var(&o.lat, "lat", 0, "current latitude in degrees")
	fs.Float64Var(&o.lon, "lon", 0, "current longitude in degrees")
	fs.IntVarP(&o.limit, "limit", "n", 20, "number of ledger entries to list")
}

// app wires the engine for one invocation.
type app struct {
	opts   options
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer

	backend store.Backend
	sess    *session.Client
	remote  *remote.Client
	ledger  *ledger.Ledger
}

func newApp(ctx context.Context, opts options, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	backend, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	tokens, err := session.OpenStore(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	sess, err := session.NewClient(session.Config{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.API.Timeout},
		Store:      tokens,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &app{
		opts:    opts,
		cfg:     cfg,
		out:     stdout,
		errOut:  stderr,
		backend: backend,
		sess:    sess,
		remote:  remote.New(sess),
		ledger:  ledger.New(backend),
	}, nil
}

func (a *app) close() {
	if err := a.backend.Close(); err != nil {
		obs.Warn("closing storage failed", map[string]any{"error": err})
	}
}

// locator reports the --lat/--lon fix, or no fix at all when the flags
// were not given.
func (a *app) locator() location.Provider {
	if !a.opts.hasCoordinate {
		return location.Func(func(context.Context) (geo.Coordinate, error) {
			return geo.Coordinate{}, location.ErrUnavailable
		})
	}
	return location.Static{Coordinate: geo.Coordinate{Latitude: a.opts.lat, Longitude: a.opts.lon}}
}

func (a *app) machine(ctx context.Context) (*punch.Machine, error) {
	win, err := a.cfg.Window()
	if err != nil {
		return nil, err
	}
	return punch.New(ctx, punch.Config{
		Anchor:           a.cfg.Office,
		Window:           win,
		LocationTimeout:  a.cfg.Punch.LocationTimeout,
		RolloverInterval: a.cfg.Punch.RolloverInterval,
	}, punch.Deps{
		Location: a.locator(),
		Backend:  a.remote,
		Ledger:   a.ledger,
		Store:    a.backend,
	})
}

func (a *app) replayWorker() *replay.Worker {
	return replay.New(a.ledger, a.remote, replay.Config{
		BatchSize:     a.cfg.Replay.BatchSize,
		Interval:      a.cfg.Replay.Interval,
		RatePerSecond: a.cfg.Replay.RatePerSecond,
	}, clock.Real())
}

func (a *app) login(ctx context.Context) error {
	password := a.opts.password
	if password == "" {
		password = os.Getenv("PUNCH_PASSWORD")
	}
	if a.opts.email == "" || password == "" {
		return errors.New("login needs --email and --password")
	}
	tokens, err := a.remote.Login(ctx, a.opts.email, password)
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Signed in as %s.%s\n", a.opts.email, expiryNote(tokens))
	return nil
}

func (a *app) logout(ctx context.Context) error {
	a.sess.Store().Clear(ctx)
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func (a *app) punch(ctx context.Context, k string) error {
	kind, err := attendance.ParseKind(k)
	if err != nil {
		return err
	}
	if !a.sess.Store().Snapshot().SignedIn() {
		return a.fail(session.ErrAuthExpired)
	}
	m, err := a.machine(ctx)
	if err != nil {
		return err
	}
	if err := m.Hydrate(ctx); err != nil {
		obs.Warn("could not load today from the server", map[string]any{"error": err})
	}
	res, err := m.RequestPunch(ctx, kind)
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.out, describeResult(res, a.cfg.Shift.TimezoneOffsetMinutes))
	return nil
}

func (a *app) status(ctx context.Context) error {
	m, err := a.machine(ctx)
	if err != nil {
		return err
	}
	tokens := a.sess.Store().Snapshot()
	if tokens.SignedIn() {
		if err := m.Hydrate(ctx); err != nil {
			obs.Warn("could not load today from the server", map[string]any{"error": err})
		}
	}
	pending, err := a.ledger.Pending(ctx)
	if err != nil {
		return err
	}
	state := m.State()
	offset := a.cfg.Shift.TimezoneOffsetMinutes
	fmt.Fprintln(a.out, describeState(state, offset))
	for _, kind := range []attendance.Kind{attendance.In, attendance.Out} {
		e, ok, err := a.ledger.LatestFor(ctx, state.Date, kind)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintln(a.out, describeAttempt(e, offset))
		}
	}
	if tokens.SignedIn() {
		fmt.Fprintf(a.out, "Signed in.%s\n", expiryNote(tokens))
	} else {
		fmt.Fprintln(a.out, "Not signed in.")
	}
	fmt.Fprintf(a.out, "%d ledger entries waiting to upload.\n", len(pending))
	return nil
}

func (a *app) ledgerList(ctx context.Context) error {
	entries, err := a.ledger.All(ctx)
	if err != nil {
		return err
	}
	if n := a.opts.limit; n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tDATE\tKIND\tOUTCOME\tREASON\tSYNC\tREQUESTED\tRECORDED")
	for _, e := range entries {
		fmt.Fprintln(tw, ledgerRow(e, a.cfg.Shift.TimezoneOffsetMinutes))
	}
	return tw.Flush()
}

func (a *app) sync(ctx context.Context) error {
	n, err := a.replayWorker().RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Uploaded %d entries before failing.\n", n)
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Uploaded %d entries.\n", n)
	return nil
}

// watch runs until interrupted, printing each day state change.
func (a *app) watch(ctx context.Context) error {
	m, err := a.machine(ctx)
	if err != nil {
		return err
	}
	offset := a.cfg.Shift.TimezoneOffsetMinutes
	fmt.Fprintln(a.out, describeState(m.State(), offset))

	g, ctx := errgroup.WithContext(ctx)
	changes := m.Subscribe(ctx)
	g.Go(func() error { return m.Run(ctx) })
	g.Go(func() error { return a.replayWorker().Run(ctx) })
	g.Go(func() error {
		for ch := range changes {
			fmt.Fprintln(a.out, describeState(ch.State, offset))
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// fail prints the user-facing message for err and marks it as shown.
func (a *app) fail(err error) error {
	fmt.Fprintln(a.errOut, punch.UserMessage(err))
	return exitError{err}
}
