// Package ledger is the append-only, device-local record of every punch
// attempt and its outcome. Entries are never rewritten; a later entry for
// the same civil date and kind wins on read.
package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"attendance.org/internal/attendance"
	"attendance.org/internal/audit"
	"attendance.org/internal/ids"
	"attendance.org/internal/kv"
	"attendance.org/internal/obs"
)

type Ledger struct {
	mu     sync.Mutex
	store  kv.Store
	now    func() time.Time
	seq    uint64
	loaded bool
}

type Option func(*Ledger)

// WithNow overrides the clock stamped into AppendedAt and entry ids.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store kv.Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records e and returns it with ID, Sequence and AppendedAt filled
// in. It never fails the caller: a persistence error is written to the
// audit trail and counted, and the returned entry is still usable for
// display.
func (l *Ledger) Append(ctx context.Context, e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if e.ID == "" {
		e.ID = ids.NewAt(now)
	}
	if e.SyncStatus == "" {
		e.SyncStatus = Synced
	}
	e.AppendedAt = now

	if err := l.loadLocked(ctx); err != nil {
		l.appendFailed(ctx, e, err)
		return e
	}
	l.seq++
	e.Sequence = l.seq

	if err := l.writeLocked(ctx, e); err != nil {
		l.appendFailed(ctx, e, err)
		return e
	}
	obs.ObserveLedgerAppend(true)
	return e
}

func (l *Ledger) writeLocked(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, logKey(e.Sequence), string(b)); err != nil {
		return err
	}
	// Sync bookkeeping copies stay out of the date/kind scope so they never
	// shadow a later attempt in LatestFor.
	if e.Supersedes != 0 {
		return nil
	}
	return l.store.Set(ctx, scopeKey(e.LocalDate, e.Event.Kind, e.Sequence), string(b))
}

func (l *Ledger) appendFailed(ctx context.Context, e Entry, err error) {
	obs.ObserveLedgerAppend(false)
	_ = audit.LogEvent(ctx, "ledger.append_failed", map[string]any{
		"entry_id":   e.ID,
		"local_date": e.LocalDate,
		"kind":       e.Event.Kind,
		"outcome":    e.Event.Outcome,
		"reason":     e.Event.Reason,
		"error":      err,
	})
}

// loadLocked recovers the last sequence from the log the first time the
// ledger touches its store.
func (l *Ledger) loadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	keys, err := l.store.Keys(ctx, logPrefix)
	if err != nil {
		return err
	}
	if n := len(keys); n > 0 {
		seq, err := seqFromKey(keys[n-1])
		if err != nil {
			return err
		}
		l.seq = seq
	}
	l.loaded = true
	return nil
}

// LatestFor returns the most recent attempt for a civil date and kind.
// Copies appended by MarkSynced are not attempts and are not considered.
func (l *Ledger) LatestFor(ctx context.Context, date string, kind attendance.Kind) (Entry, bool, error) {
	keys, err := l.store.Keys(ctx, scopeDir(date, kind))
	if err != nil {
		return Entry{}, false, err
	}
	if len(keys) == 0 {
		return Entry{}, false, nil
	}
	e, ok, err := l.get(ctx, keys[len(keys)-1])
	return e, ok, err
}

// All returns every entry in append order.
func (l *Ledger) All(ctx context.Context) ([]Entry, error) {
	entries, _, err := l.List(ctx, 0, 0)
	return entries, err
}

// List pages through the log. Entries with Sequence > afterSeq are
// returned, at most limit of them when limit > 0, together with the last
// sequence returned.
func (l *Ledger) List(ctx context.Context, afterSeq uint64, limit int) ([]Entry, uint64, error) {
	keys, err := l.store.Keys(ctx, logPrefix)
	if err != nil {
		return nil, 0, err
	}
	var (
		res  []Entry
		last uint64
	)
	for _, k := range keys {
		seq, err := seqFromKey(k)
		if err != nil {
			return nil, 0, err
		}
		if seq <= afterSeq {
			continue
		}
		e, ok, err := l.get(ctx, k)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			continue
		}
		res = append(res, e)
		last = e.Sequence
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

// Pending returns PendingSync entries that no later entry supersedes.
func (l *Ledger) Pending(ctx context.Context) ([]Entry, error) {
	all, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	superseded := make(map[uint64]bool)
	for _, e := range all {
		if e.Supersedes != 0 {
			superseded[e.Supersedes] = true
		}
	}
	var out []Entry
	for _, e := range all {
		if e.SyncStatus == PendingSync && !superseded[e.Sequence] {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkSynced appends a Synced copy of e that supersedes it. The original
// entry stays in the log and remains the attempt LatestFor reports.
func (l *Ledger) MarkSynced(ctx context.Context, e Entry) Entry {
	next := e
	next.ID = ""
	next.Sequence = 0
	next.SyncStatus = Synced
	next.Supersedes = e.Sequence
	return l.Append(ctx, next)
}

func (l *Ledger) get(ctx context.Context, key string) (Entry, bool, error) {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}
