package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendance.org/internal/attendance"
)

// SyncStatus tells whether the backend already knows about an entry.
type SyncStatus string

const (
	Synced      SyncStatus = "synced"
	PendingSync SyncStatus = "pending_sync"
)

// Entry is one immutable ledger record. Sequence is assigned on append and
// is strictly increasing; Supersedes points at an earlier entry this one
// replaces for sync bookkeeping.
type Entry struct {
	ID         string           `json:"id"`
	Sequence   uint64           `json:"sequence"`
	LocalDate  string           `json:"local_date"`
	Event      attendance.Event `json:"event"`
	SyncStatus SyncStatus       `json:"sync_status"`
	Supersedes uint64           `json:"supersedes,omitempty"`
	AppendedAt time.Time        `json:"appended_at"`
}

var ErrMalformedKey = errors.New("ledger: malformed key")

const (
	logPrefix   = "ledger/log/"
	scopePrefix = "ledger/by/"
)

func seqString(seq uint64) string { return fmt.Sprintf("%020d", seq) }

func logKey(seq uint64) string { return logPrefix + seqString(seq) }

func scopeDir(date string, kind attendance.Kind) string {
	return scopePrefix + date + "/" + string(kind) + "/"
}

func scopeKey(date string, kind attendance.Kind, seq uint64) string {
	return scopeDir(date, kind) + seqString(seq)
}

// seqFromKey parses the trailing sequence of a log or scope key.
func seqFromKey(key string) (uint64, error) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 || i == len(key)-1 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	n, err := strconv.ParseUint(key[i+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	return n, nil
}
