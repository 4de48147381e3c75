// Package location gates coordinate acquisition behind the permission
// check and a hard timeout.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance.org/internal/geo"
)

var (
	ErrUnavailable      = errors.New("location: unavailable")
	ErrPermissionDenied = errors.New("location: permission denied")
	ErrTimeout          = fmt.Errorf("%w: timed out", ErrUnavailable)
)

// Provider is the device positioning service.
type Provider interface {
	HasPermission(ctx context.Context) bool
	// RequestPermission prompts the user and reports whether access was
	// granted.
	RequestPermission(ctx context.Context) bool
	CurrentCoordinate(ctx context.Context) (geo.Coordinate, error)
}

const DefaultTimeout = 15 * time.Second

// Acquire returns a fix, asking for permission first when needed. The
// timeout holds even when the provider ignores ctx. Every failure wraps
// ErrUnavailable.
func Acquire(ctx context.Context, p Provider, timeout time.Duration) (geo.Coordinate, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		c   geo.Coordinate
		err error
	}
	done := make(chan result, 1)
	go func() {
		if !p.HasPermission(ctx) && !p.RequestPermission(ctx) {
			done <- result{err: fmt.Errorf("%w: %w", ErrUnavailable, ErrPermissionDenied)}
			return
		}
		c, err := p.CurrentCoordinate(ctx)
		done <- result{c: c, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, ErrUnavailable) {
				return geo.Coordinate{}, r.err
			}
			return geo.Coordinate{}, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		if err := r.c.Validate(); err != nil {
			return geo.Coordinate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return r.c, nil
	case <-ctx.Done():
		return geo.Coordinate{}, ErrTimeout
	}
}

// Static always reports the same fix. It backs the CLI and tests.
type Static struct {
	Coordinate geo.Coordinate
	Denied     bool
}

func (s Static) HasPermission(context.Context) bool     { return !s.Denied }
func (s Static) RequestPermission(context.Context) bool { return !s.Denied }

func (s Static) CurrentCoordinate(context.Context) (geo.Coordinate, error) {
	return s.Coordinate, nil
}

// Func adapts a function to a Provider that always has permission.
type Func func(ctx context.Context) (geo.Coordinate, error)

func (Func) HasPermission(context.Context) bool     { return true }
func (Func) RequestPermission(context.Context) bool { return true }

func (f Func) CurrentCoordinate(ctx context.Context) (geo.Coordinate, error) { return f(ctx) }
