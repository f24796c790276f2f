// Package store defines the persistence adapter the booking core runs on.
// The seat ledger, intents, tickets and route catalog all go through the
// same Store so the backing engine stays swappable.
package store

import "errors"

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("store: key not found")

// Collection names used by the booking core.
const (
	CollectionSeatLedger = "seat_ledger"
	CollectionIntents    = "booking_intents"
	CollectionIntentRefs = "booking_refs"
	CollectionTickets    = "tickets"
	CollectionRoutes     = "routes"
)

// Txn is the handle passed to Update callbacks. All writes made through a
// Txn commit together or not at all.
type Txn interface {
	Get(collection, key string, dest interface{}) error
	Put(collection, key string, value interface{}) error
	Delete(collection, key string) error
}

// Store is a transactional key-value adapter. Values are JSON-encoded by
// the implementation.
type Store interface {
	Txn

	// List returns all keys in a collection.
	List(collection string) ([]string, error)

	// Update runs fn inside a transaction. If fn returns an error the
	// transaction rolls back and the error is returned unchanged.
	Update(fn func(txn Txn) error) error

	Close() error
}
