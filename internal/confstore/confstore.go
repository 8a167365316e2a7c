// Package confstore delivers change notifications for externally stored
// configuration entries.
//
// A Watcher invokes the registered callback once immediately upon
// registration (with nil data when the entry does not exist) and again on
// every subsequent change of the entry. Callbacks are invoked from the
// watcher's own delivery goroutine; callers that need serialization must
// bridge the callback onto their own execution context.
package confstore

import "time"

// Stat carries version metadata of a configuration entry at delivery time.
type Stat struct {
	// Version increments on every change of the entry. Zero when the
	// entry does not exist.
	Version int32
	// ModifiedAt is the last modification time of the entry, when the
	// backend provides one.
	ModifiedAt time.Time
}

// WatchFunc receives the raw entry content and its version metadata.
// data is nil when the entry is absent.
type WatchFunc func(data []byte, stat Stat)

// Watcher watches named configuration entries for changes.
type Watcher interface {
	// Watch registers fn for the given entry. fn is called once with the
	// current state before Watch returns the control flow to the backend,
	// and again after every change until the watcher is closed.
	Watch(entry string, fn WatchFunc) error

	// Close stops all watches and releases backend resources.
	Close() error
}
