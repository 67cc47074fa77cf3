// Package quota tracks aggregate stored bytes against the configured
// capacity ceiling.
package quota

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"certvault/internal/logging"
)

// Thresholds at which usage is flagged without blocking uploads.
const (
	WarningRatio  = 0.80
	CriticalRatio = 0.95
)

// Level classifies how close usage is to capacity.
type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelCritical
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelFull:
		return "full"
	default:
		return "ok"
	}
}

// UsageSource provides the durable usage aggregate: the sum of plaintext
// sizes across non-expired documents.
type UsageSource interface {
	ActiveBytes(ctx context.Context, now time.Time) (int64, error)
}

// Ledger evaluates stored bytes against capacity.
type Ledger struct {
	source   UsageSource
	capacity int64
	now      func() time.Time
}

// NewLedger creates a ledger with the given capacity in bytes.
func NewLedger(source UsageSource, capacity int64) *Ledger {
	return &Ledger{source: source, capacity: capacity, now: time.Now}
}

// Capacity returns the configured ceiling in bytes.
func (l *Ledger) Capacity() int64 {
	return l.capacity
}

// CurrentUsage returns the bytes currently counted against the quota.
func (l *Ledger) CurrentUsage(ctx context.Context) (int64, error) {
	return l.source.ActiveBytes(ctx, l.now())
}

// UsageRatio returns current usage as a fraction of capacity.
func (l *Ledger) UsageRatio(ctx context.Context) (float64, error) {
	usage, err := l.CurrentUsage(ctx)
	if err != nil {
		return 0, err
	}
	return float64(usage) / float64(l.capacity), nil
}

// WouldExceed reports whether adding additionalBytes would push usage past
// capacity. The check is read-then-act without serialization: two
// concurrent stores can both pass and jointly overshoot, making the quota a
// soft limit.
func (l *Ledger) WouldExceed(ctx context.Context, additionalBytes int64) (bool, error) {
	usage, err := l.CurrentUsage(ctx)
	if err != nil {
		return false, err
	}
	return usage+additionalBytes > l.capacity, nil
}

// Admission is the outcome of an admission check for a prospective upload.
type Admission struct {
	CurrentBytes int64
	Allowed      bool
	Level        Level
}

// Admit evaluates whether an upload of additionalBytes fits and classifies
// the resulting usage. Warning and critical levels are advisory only; a
// full quota rejects.
func (l *Ledger) Admit(ctx context.Context, additionalBytes int64) (*Admission, error) {
	usage, err := l.CurrentUsage(ctx)
	if err != nil {
		return nil, err
	}

	prospective := usage + additionalBytes
	adm := &Admission{
		CurrentBytes: usage,
		Allowed:      prospective <= l.capacity,
	}
	adm.Level = l.level(prospective)

	if adm.Level != LevelOK {
		logging.Quota.Printf("storage %s: %s of %s after this upload", adm.Level,
			humanize.Bytes(uint64(prospective)), humanize.Bytes(uint64(l.capacity)))
	}

	return adm, nil
}

func (l *Ledger) level(bytes int64) Level {
	ratio := float64(bytes) / float64(l.capacity)
	switch {
	case bytes > l.capacity:
		return LevelFull
	case ratio >= CriticalRatio:
		return LevelCritical
	case ratio >= WarningRatio:
		return LevelWarning
	default:
		return LevelOK
	}
}
