package repository

import (
	"fmt"
	"time"

	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/store"
)

// IntentRepository handles booking intent persistence. Intents are keyed by
// payment session ID; a secondary index maps the customer-facing reference
// back to the session.
type IntentRepository struct {
	store store.Store
}

// NewIntentRepository creates a new IntentRepository.
func NewIntentRepository(st store.Store) *IntentRepository {
	return &IntentRepository{store: st}
}

// Create persists a new intent together with its reference index entry.
func (r *IntentRepository) Create(intent *models.BookingIntent) error {
	intent.CreatedAt = time.Now()
	intent.UpdatedAt = intent.CreatedAt
	return r.store.Update(func(txn store.Txn) error {
		if err := txn.Put(store.CollectionIntents, intent.SessionID, intent); err != nil {
			return fmt.Errorf("failed to persist intent: %w", err)
		}
		if err := txn.Put(store.CollectionIntentRefs, intent.Reference, intent.SessionID); err != nil {
			return fmt.Errorf("failed to index intent reference: %w", err)
		}
		return nil
	})
}

// GetBySessionID retrieves an intent by its payment session ID. Returns
// (nil, nil) when absent.
func (r *IntentRepository) GetBySessionID(sessionID string) (*models.BookingIntent, error) {
	var intent models.BookingIntent
	err := r.store.Get(store.CollectionIntents, sessionID, &intent)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetByReference retrieves an intent by its customer-facing reference.
func (r *IntentRepository) GetByReference(reference string) (*models.BookingIntent, error) {
	var sessionID string
	err := r.store.Get(store.CollectionIntentRefs, reference, &sessionID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetBySessionID(sessionID)
}

// Save writes the intent back with a fresh updated_at.
func (r *IntentRepository) Save(intent *models.BookingIntent) error {
	intent.UpdatedAt = time.Now()
	return r.store.Put(store.CollectionIntents, intent.SessionID, intent)
}

// SaveGuarded writes the intent inside its own transaction, but refuses to
// overwrite a stored copy that has since reached paid or a terminal status.
// Callers that read an intent, block on the payment provider and then write
// it back must use this instead of Save, or a cancellation that landed in
// between would be silently undone. Returns the intent now in the store and
// whether the write was applied.
func (r *IntentRepository) SaveGuarded(intent *models.BookingIntent) (*models.BookingIntent, bool, error) {
	var current models.BookingIntent
	applied := false
	err := r.store.Update(func(txn store.Txn) error {
		if err := txn.Get(store.CollectionIntents, intent.SessionID, &current); err != nil {
			return err
		}
		if current.Status == models.StatusPaid || current.Status.IsTerminal() {
			return nil
		}
		intent.UpdatedAt = time.Now()
		applied = true
		return txn.Put(store.CollectionIntents, intent.SessionID, intent)
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		return intent, true, nil
	}
	return &current, false, nil
}

// SaveTxn writes the intent inside an existing transaction, so status
// transitions can ride the same commit as a seat claim or ticket write.
func (r *IntentRepository) SaveTxn(txn store.Txn, intent *models.BookingIntent) error {
	intent.UpdatedAt = time.Now()
	return txn.Put(store.CollectionIntents, intent.SessionID, intent)
}

// ListSessionIDs returns all intent session IDs, for the expiration sweep.
func (r *IntentRepository) ListSessionIDs() ([]string, error) {
	return r.store.List(store.CollectionIntents)
}
