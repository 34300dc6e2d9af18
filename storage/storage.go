package storage

import "context"

// Store is locked read/modify/write access to one persisted document.
// T is the document type. Consumers take the interface so tests can
// substitute an in-memory implementation.
type Store[T any] interface {
	// With loads the document under the store lock and passes it to fn.
	// A missing backing file reads as the zero value. The lock is held
	// for the duration of fn.
	With(ctx context.Context, fn func(*T) error) error
	// Update is With plus persistence: when fn returns nil the document
	// is written back before the lock is released.
	Update(ctx context.Context, fn func(*T) error) error
}
