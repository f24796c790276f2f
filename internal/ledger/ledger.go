// Package ledger tracks which seats are occupied for each trip instance.
// Every mutation funnels through a per-key lock, so at-most-one-claimant-
// per-seat is a hard invariant rather than a caller-side read-then-write
// check.
package ledger

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/store"
)

// ErrSeatOccupied is the expected outcome when a claim loses the race for a
// seat. It is not a system fault.
var ErrSeatOccupied = errors.New("seat already occupied")

const lockShards = 64

// SeatLedger is the authoritative mapping from trip key to occupied seats.
// Locks are sharded by key so unrelated trip instances do not contend.
type SeatLedger struct {
	store  store.Store
	logger *logrus.Logger
	shards [lockShards]sync.Mutex
}

// NewSeatLedger creates a ledger over the given store.
func NewSeatLedger(st store.Store, logger *logrus.Logger) *SeatLedger {
	return &SeatLedger{store: st, logger: logger}
}

func (l *SeatLedger) shard(key models.TripKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.shards[h.Sum32()%lockShards]
}

// IsOccupied reports whether the seat is currently taken for the trip.
// Read-only; safe to call unsynchronized.
func (l *SeatLedger) IsOccupied(key models.TripKey, seat string) (bool, error) {
	seats, err := l.readSet(l.store, key)
	if err != nil {
		return false, err
	}
	return seats[seat], nil
}

// OccupiedSeats returns the sorted set of occupied seats for the trip. A
// key that was never claimed yields an empty set.
func (l *SeatLedger) OccupiedSeats(key models.TripKey) ([]string, error) {
	seats, err := l.readSet(l.store, key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seats))
	for s := range seats {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// Claim atomically marks the seat as occupied. Exactly one of any number
// of concurrent claims for the same (key, seat) succeeds; the rest get
// ErrSeatOccupied.
func (l *SeatLedger) Claim(key models.TripKey, seat string) error {
	return l.ClaimWith(key, seat, nil)
}

// ClaimWith claims the seat and, on success, runs extra inside the same
// store transaction. The claim, the extra writes, and the ledger entry
// commit together or not at all. The per-key lock is held only for the
// synchronous transaction body, never across network calls.
func (l *SeatLedger) ClaimWith(key models.TripKey, seat string, extra func(txn store.Txn) error) error {
	mu := l.shard(key)
	mu.Lock()
	defer mu.Unlock()

	return l.store.Update(func(txn store.Txn) error {
		seats, err := l.readSet(txn, key)
		if err != nil {
			return err
		}
		if seats[seat] {
			return ErrSeatOccupied
		}
		seats[seat] = true
		if err := l.writeSet(txn, key, seats); err != nil {
			return err
		}
		if extra != nil {
			return extra(txn)
		}
		return nil
	})
}

// Release frees the seat. Releasing an already-free seat is a no-op, so
// cancellation and refund paths can retry safely.
func (l *SeatLedger) Release(key models.TripKey, seat string) error {
	return l.ReleaseWith(key, seat, nil)
}

// ReleaseWith releases the seat and runs extra inside the same store
// transaction.
func (l *SeatLedger) ReleaseWith(key models.TripKey, seat string, extra func(txn store.Txn) error) error {
	mu := l.shard(key)
	mu.Lock()
	defer mu.Unlock()

	return l.store.Update(func(txn store.Txn) error {
		seats, err := l.readSet(txn, key)
		if err != nil {
			return err
		}
		if seats[seat] {
			delete(seats, seat)
			if err := l.writeSet(txn, key, seats); err != nil {
				return err
			}
			l.logger.WithFields(logrus.Fields{
				"trip_key": key,
				"seat":     seat,
			}).Info("Seat released")
		}
		if extra != nil {
			return extra(txn)
		}
		return nil
	})
}

type getter interface {
	Get(collection, key string, dest interface{}) error
}

func (l *SeatLedger) readSet(g getter, key models.TripKey) (map[string]bool, error) {
	var seats []string
	err := g.Get(store.CollectionSeatLedger, key.String(), &seats)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	set := make(map[string]bool, len(seats))
	for _, s := range seats {
		set[s] = true
	}
	return set, nil
}

func (l *SeatLedger) writeSet(txn store.Txn, key models.TripKey, set map[string]bool) error {
	seats := make([]string, 0, len(set))
	for s := range set {
		seats = append(seats, s)
	}
	sort.Strings(seats)
	// The entry persists even when empty; a released trip keeps its key.
	return txn.Put(store.CollectionSeatLedger, key.String(), seats)
}
