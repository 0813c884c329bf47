// Package store persists instance descriptors in a medium every process
// on the host can reach. The store IS the communication channel: writing
// a descriptor is the only way an instance speaks, and listing the other
// descriptors is the only way it hears.
//
// Three backends implement the same contract. Dir keeps one JSON file per
// instance in a shared directory. Table keeps one row per instance in a
// shared SQLite database in WAL mode. Memory keeps a process-local map
// for tests and for embedding several buses in one process.
package store

import (
	"errors"
	"time"
)

// Adapter is one storage backend. Implementations must tolerate
// concurrent use from many processes. Each instance id is only ever
// written by its owning process, so adapters never need cross-entry
// transactions.
type Adapter interface {
	// Publish writes the descriptor blob for id, replacing any previous
	// value.
	Publish(id string, data []byte) error

	// ListLive returns every stored descriptor blob keyed by instance id,
	// the publisher's own included.
	ListLive() (map[string][]byte, error)

	// Remove deletes the entry for id. Removing an absent id is not an
	// error: any peer may prune a stale entry, and two may race to do it.
	Remove(id string) error

	// Close releases backend resources. Callers remove their own entry
	// first; Close does not.
	Close() error

	// DefaultFreshness is how long a descriptor stays credible on this
	// backend without being rewritten.
	DefaultFreshness() time.Duration
}

// Notifier is implemented by adapters that can report peer writes as they
// happen. Notifications are advisory: the bus keeps polling on its tick,
// an event only pulls the next tick forward.
type Notifier interface {
	// Events yields one element per observed store change, coalesced. A
	// nil channel means notifications are unavailable on this backend.
	Events() <-chan struct{}
}

// ErrClosed is returned by operations on an adapter after Close.
var ErrClosed = errors.New("store is closed")

// ErrTableFull is returned by the table backend when publishing a new id
// would exceed the table capacity.
var ErrTableFull = errors.New("instance table is full")
