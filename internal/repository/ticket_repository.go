package repository

import (
	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/store"
)

// TicketRepository handles confirmed ticket persistence. Tickets are keyed
// by payment session ID so confirmation replays find the same record.
type TicketRepository struct {
	store store.Store
}

// NewTicketRepository creates a new TicketRepository.
func NewTicketRepository(st store.Store) *TicketRepository {
	return &TicketRepository{store: st}
}

// GetBySessionID retrieves a ticket by payment session ID. Returns
// (nil, nil) when absent.
func (r *TicketRepository) GetBySessionID(sessionID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.store.Get(store.CollectionTickets, sessionID, &ticket)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// CreateTxn writes a ticket inside an existing transaction. Tickets are
// only ever created alongside the seat claim that backs them.
func (r *TicketRepository) CreateTxn(txn store.Txn, ticket *models.Ticket) error {
	return txn.Put(store.CollectionTickets, ticket.SessionID, ticket)
}
