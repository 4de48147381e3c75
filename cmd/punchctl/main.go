// punchctl is the command-line attendance client: it signs in, punches in
// and out from a given coordinate, and inspects or uploads the local
// ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

const usage = `Usage: punchctl [flags] <command>

Commands:
  login     sign in with --email and --password (or $PUNCH_PASSWORD)
  logout    forget the stored session
  in        punch in from --lat/--lon
  out       punch out from --lat/--lon
  status    show today's state and the session expiry
  ledger    list local ledger entries
  sync      upload pending ledger entries now
  watch     keep the day state current and upload pending entries

Flags:
`

// exitError carries a message that was already printed for the user.
type exitError struct{ err error }

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var shown exitError
		if !errors.As(err, &shown) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	flags := pflag.NewFlagSet("punchctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	opts.register(flags)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	rest := flags.Args()
	if len(rest) != 1 {
		flags.Usage()
		return errors.New("exactly one command is required")
	}
	opts.hasCoordinate = flags.Changed("lat") && flags.Changed("lon")

	a, err := newApp(ctx, opts, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	switch rest[0] {
	case "login":
		return a.login(ctx)
	case "logout":
		return a.logout(ctx)
	case "in":
		return a.punch(ctx, "in")
	case "out":
		return a.punch(ctx, "out")
	case "status":
		return a.status(ctx)
	case "ledger":
		return a.ledgerList(ctx)
	case "sync":
		return a.sync(ctx)
	case "watch":
		return a.watch(ctx)
	}
	flags.Usage()
	return fmt.Errorf("unknown command %q", rest[0])
}
