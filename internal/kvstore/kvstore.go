// Package kvstore provides the ephemeral keyed store used for OTP challenges
// and generation sessions.
//
// WHY AN INTERFACE?
// The default backend is an in-process map: restarting the server drops every
// pending challenge and live session, which is acceptable because both are
// short-lived (minutes to an hour). Running more than one server process needs
// a shared backend, so the services depend on Store and main.go picks Memory
// or Redis.
//
// SEMANTICS (same for every backend):
//   - Put overwrites unconditionally. Concurrent writers to one key: last write wins.
//   - Get returns ErrNotFound for a missing key.
//   - Delete is idempotent.
//   - Sweep removes every entry the predicate marks as expired. It is driven
//     by a timer (see internal/janitor), never by reads.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no entry exists for the key.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a string-keyed store of V values.
type Store[V any] interface {
	Put(ctx context.Context, key string, value V) error
	Get(ctx context.Context, key string) (V, error)
	Delete(ctx context.Context, key string) error
	// Sweep deletes every entry for which expired returns true and reports
	// how many were removed.
	Sweep(ctx context.Context, expired func(V) bool) (int, error)
}

// OlderThan builds a Sweep predicate that matches values whose timestamp, as
// read by stamp, is more than ttl before now.
func OlderThan[V any](now time.Time, ttl time.Duration, stamp func(V) time.Time) func(V) bool {
	return func(v V) bool {
		return now.Sub(stamp(v)) > ttl
	}
}
