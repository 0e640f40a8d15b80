// Package syncer drives a viewing key's wallet state forward over a block
// source: fetch a batch, decrypt it, commit it, retry on failure and roll
// back on reorganization.
package syncer

import (
	"errors"
	"fmt"
	"time"
)

// State is a step of the sync state machine.
type State uint8

const (
	StateIdle State = iota
	StateFetching
	StateDecrypting
	StateCommitted
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecrypting:
		return "decrypting"
	case StateCommitted:
		return "committed"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Progress is reported to an Observer on every state change.
type Progress struct {
	State State `json:"state"`
	// Height is the last committed height, or the first height of the
	// batch in flight.
	Height     uint64 `json:"height"`
	Start      uint64 `json:"start"`
	Target     uint64 `json:"target"`
	Attempt    int    `json:"attempt"`
	NotesFound int    `json:"notes_found"`
	Err        error  `json:"-"`
}

// Percent returns how much of [Start, Target] is committed.
func (p Progress) Percent() float64 {
	if p.Target < p.Start {
		return 100
	}
	if p.State != StateCommitted && p.State != StateIdle {
		if p.Height <= p.Start {
			return 0
		}
		return float64(p.Height-p.Start) / float64(p.Target-p.Start+1) * 100
	}
	if p.Height < p.Start {
		return 0
	}
	return float64(p.Height-p.Start+1) / float64(p.Target-p.Start+1) * 100
}

// Observer receives progress updates. It is called synchronously from the
// sync loop and must not block.
type Observer func(Progress)

// Kind classifies a terminal sync failure.
type Kind uint8

const (
	KindFetch Kind = iota + 1
	KindMalformedBlock
	KindDecrypt
	KindReorgTooDeep
	KindCancelled
	KindStore
	KindInvalidKey
	KindInvalidRange
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch_failure"
	case KindMalformedBlock:
		return "malformed_block"
	case KindDecrypt:
		return "decrypt_failure"
	case KindReorgTooDeep:
		return "reorg_too_deep"
	case KindCancelled:
		return "cancelled"
	case KindStore:
		return "store_failure"
	case KindInvalidKey:
		return "invalid_key"
	case KindInvalidRange:
		return "invalid_range"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Sync errors.
var (
	ErrReorgTooDeep   = errors.New("reorg deeper than allowed")
	ErrTooManyReorgs  = errors.New("chain kept reorganizing during sync")
	ErrAlreadyRunning = errors.New("sync already running")
)

// SyncError is the terminal failure of a sync. It always carries the last
// committed height so callers can report progress.
type SyncError struct {
	Kind Kind
	// Height is the first height that could not be processed.
	Height        uint64
	LastCommitted uint64
	// Synced is false when nothing was ever committed.
	Synced   bool
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	committed := "none"
	if e.Synced {
		committed = fmt.Sprintf("%d", e.LastCommitted)
	}
	return fmt.Sprintf("sync %s at height %d after %d attempt(s), last committed %s: %v",
		e.Kind, e.Height, e.Attempts, committed, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Config tunes the sync loop.
type Config struct {
	BatchSize     uint64
	MaxAttempts   int
	RetryBase     time.Duration
	RetryMax      time.Duration
	FetchTimeout  time.Duration
	MaxReorgDepth uint64
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		MaxAttempts:   5,
		RetryBase:     500 * time.Millisecond,
		RetryMax:      30 * time.Second,
		FetchTimeout:  30 * time.Second,
		MaxReorgDepth: 100,
	}
}

// Backoff returns the wait before retry number attempt (1-based):
// base doubled per attempt, capped at max.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.RetryMax || d <= 0 {
			return c.RetryMax
		}
	}
	if d > c.RetryMax {
		return c.RetryMax
	}
	return d
}
