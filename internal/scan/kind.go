// Package scan runs viewing-key scans on behalf of callers: it parses the
// key, picks a block source for the requested server, drives a sync into a
// fresh wallet store and returns the history and balance.
package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/shieldscan/internal/decrypt"
	"github.com/Klingon-tech/shieldscan/internal/source"
	"github.com/Klingon-tech/shieldscan/internal/syncer"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
)

// Kind is the caller-facing failure category.
type Kind string

const (
	KindNone           Kind = ""
	KindInvalidKey     Kind = "invalid_key"
	KindInvalidRequest Kind = "invalid_request"
	KindFetchFailure   Kind = "fetch_failure"
	KindMalformedBlock Kind = "malformed_block"
	KindReorgTooDeep   Kind = "reorg_too_deep"
	KindNotFound       Kind = "not_found"
	KindCancelled      Kind = "cancelled"
	KindInternal       Kind = "internal"
)

// ErrInvalidRequest marks requests rejected before any work is done.
var ErrInvalidRequest = errors.New("invalid request")

// Error is a failed scan. LastHeight is the highest height committed before
// the failure; Synced is false when nothing was committed.
type Error struct {
	Kind       Kind
	ScanID     string
	LastHeight uint64
	Synced     bool
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. A nil error has KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	var syncErr *syncer.SyncError
	if errors.As(err, &syncErr) {
		switch syncErr.Kind {
		case syncer.KindInvalidKey:
			return KindInvalidKey
		case syncer.KindInvalidRange:
			return KindInvalidRequest
		case syncer.KindFetch:
			if errors.Is(err, source.ErrNotFound) && !errors.Is(err, source.ErrFetch) {
				return KindNotFound
			}
			return KindFetchFailure
		case syncer.KindMalformedBlock:
			return KindMalformedBlock
		case syncer.KindReorgTooDeep:
			return KindReorgTooDeep
		case syncer.KindCancelled:
			return KindCancelled
		case syncer.KindDecrypt, syncer.KindStore:
			return KindInternal
		}
	}
	switch {
	case errors.Is(err, keys.ErrInvalidKey), errors.Is(err, decrypt.ErrNoComponent):
		return KindInvalidKey
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, source.ErrInvalidRange):
		return KindInvalidRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, source.ErrFetch):
		return KindFetchFailure
	case errors.Is(err, source.ErrNotFound), errors.Is(err, decrypt.ErrTxNotInBlock):
		return KindNotFound
	case errors.Is(err, syncer.ErrReorgTooDeep):
		return KindReorgTooDeep
	case errors.Is(err, block.ErrLinkageMismatch), errors.Is(err, block.ErrHeightMismatch),
		errors.Is(err, block.ErrNilBlock), errors.Is(err, block.ErrUnknownPool):
		return KindMalformedBlock
	}
	return KindInternal
}
