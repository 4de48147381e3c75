package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"attendance.org/internal/geo"
)

type askingProvider struct {
	granted bool
	asked   int
}

func (p *askingProvider) HasPermission(context.Context) bool { return false }
func (p *askingProvider) RequestPermission(context.Context) bool {
	p.asked++
	return p.granted
}
func (p *askingProvider) CurrentCoordinate(context.Context) (geo.Coordinate, error) {
	return geo.Coordinate{Latitude: 23.03, Longitude: 72.56}, nil
}

func TestAcquireStatic(t *testing.T) {
	want := geo.Coordinate{Latitude: 23.0352554, Longitude: 72.5616832}
	got, err := Acquire(context.Background(), Static{Coordinate: want}, time.Second)
	if err != nil || got != want {
		t.Fatalf("Acquire = %+v, %v", got, err)
	}
}

func TestAcquireRequestsPermission(t *testing.T) {
	p := &askingProvider{granted: true}
	if _, err := Acquire(context.Background(), p, time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.asked != 1 {
		t.Fatalf("permission asked %d times", p.asked)
	}

	denied := &askingProvider{}
	_, err := Acquire(context.Background(), denied, time.Second)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denial, got %v", err)
	}
}

func TestAcquireTimeoutWithStuckProvider(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	stuck := Func(func(context.Context) (geo.Coordinate, error) {
		<-block
		return geo.Coordinate{}, nil
	})

	start := time.Now()
	_, err := Acquire(context.Background(), stuck, 20*time.Millisecond)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestAcquireProviderError(t *testing.T) {
	failing := Func(func(context.Context) (geo.Coordinate, error) {
		return geo.Coordinate{}, errors.New("gps off")
	})
	if _, err := Acquire(context.Background(), failing, time.Second); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	bogus := Func(func(context.Context) (geo.Coordinate, error) {
		return geo.Coordinate{Latitude: 200}, nil
	})
	if _, err := Acquire(context.Background(), bogus, time.Second); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for invalid fix, got %v", err)
	}
}
