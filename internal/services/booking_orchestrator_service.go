package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	"github.com/sirupsen/logrus"

	"github.com/rutaviva/booking-backend/internal/ledger"
	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/payment"
	"github.com/rutaviva/booking-backend/internal/repository"
	"github.com/rutaviva/booking-backend/internal/store"
)

var (
	// ErrIntentNotFound means no booking matches the given session or
	// reference.
	ErrIntentNotFound = errors.New("booking not found")

	// ErrCannotCancel means the booking is in a state that admits no
	// cancellation.
	ErrCannotCancel = errors.New("booking cannot be cancelled in its current state")

	// ErrTripDeparted means a paid booking's trip is already in the past.
	ErrTripDeparted = errors.New("trip has already departed")

	// errIntentSuperseded aborts a transaction whose intent moved to paid
	// or a terminal status while the caller was off doing I/O. The caller
	// re-dispatches on the fresh copy.
	errIntentSuperseded = errors.New("intent state changed concurrently")
)

// BookingOrchestratorConfig holds configuration for the orchestrator.
type BookingOrchestratorConfig struct {
	IntentTTL       time.Duration // How long an unconfirmed intent stays pending
	DefaultCurrency string
}

// DefaultOrchestratorConfig returns default configuration.
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		IntentTTL:       30 * time.Minute,
		DefaultCurrency: "MXN",
	}
}

// BookingOrchestratorService drives the checkout flow: quote, payment
// session, confirmation, seat claim, ticket. The seat is claimed only at
// confirmation, never at quote time, so abandoned checkouts hold no
// inventory.
type BookingOrchestratorService struct {
	intents     *repository.IntentRepository
	tickets     *repository.TicketRepository
	seatLedger  *ledger.SeatLedger
	fareService *FareService
	gateway     payment.Gateway
	config      BookingOrchestratorConfig
	logger      *logrus.Logger
}

// NewBookingOrchestratorService creates a new orchestrator service.
func NewBookingOrchestratorService(
	intents *repository.IntentRepository,
	tickets *repository.TicketRepository,
	seatLedger *ledger.SeatLedger,
	fareService *FareService,
	gateway payment.Gateway,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	return &BookingOrchestratorService{
		intents:     intents,
		tickets:     tickets,
		seatLedger:  seatLedger,
		fareService: fareService,
		gateway:     gateway,
		config:      config,
		logger:      logger,
	}
}

// CheckAvailability returns the occupied-seat set for one trip instance.
func (s *BookingOrchestratorService) CheckAvailability(origin, destination, date, departure string) (*models.AvailabilityResponse, error) {
	capacity, err := s.fareService.Capacity(origin, destination)
	if err != nil {
		return nil, err
	}

	key := models.EncodeTripKey(origin, destination, date, departure)
	occupied, err := s.seatLedger.OccupiedSeats(key)
	if err != nil {
		return nil, err
	}

	return &models.AvailabilityResponse{
		RouteKey:      models.RouteKey(origin, destination),
		Date:          date,
		Departure:     departure,
		TotalSeats:    capacity,
		OccupiedSeats: occupied,
	}, nil
}

// StartCheckout validates the request, quotes the authoritative fare, opens
// a payment session and persists a pending intent. The availability check
// here is a non-binding guard; nothing is claimed until Confirm.
func (s *BookingOrchestratorService) StartCheckout(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fare, err := s.fareService.Resolve(req.Origin, req.Destination, req.Departure)
	if err != nil {
		return nil, err
	}
	if err := s.validateSeat(req); err != nil {
		return nil, err
	}

	key := models.EncodeTripKey(req.Origin, req.Destination, req.Date, req.Departure)
	occupied, err := s.seatLedger.IsOccupied(key, req.Seat)
	if err != nil {
		return nil, err
	}
	if occupied {
		return nil, &models.SeatConflictError{Seat: req.Seat}
	}

	reference := "BK-" + shortuuid.New()
	session, err := s.gateway.CreateSession(ctx, payment.CreateSessionParams{
		Amount:      fare.Price,
		Currency:    fare.Currency,
		Description: fmt.Sprintf("Bus ticket %s → %s, seat %s", req.Origin, req.Destination, req.Seat),
		Metadata: map[string]string{
			"reference": reference,
			"seat":      req.Seat,
			"trip_key":  key.String(),
		},
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to create payment session")
		return nil, fmt.Errorf("payment gateway error: %w", err)
	}

	intent := &models.BookingIntent{
		ID:             uuid.New(),
		Reference:      reference,
		SessionID:      session.ID,
		PassengerName:  req.PassengerName,
		PassengerPhone: req.PassengerPhone,
		PassengerEmail: req.PassengerEmail,
		Origin:         req.Origin,
		Destination:    req.Destination,
		Date:           req.Date,
		Departure:      req.Departure,
		Seat:           req.Seat,
		QuotedFare:     fare.Price,
		Currency:       fare.Currency,
		Status:         models.StatusPending,
		ExpiresAt:      time.Now().Add(s.config.IntentTTL),
	}
	if err := s.intents.Create(intent); err != nil {
		return nil, fmt.Errorf("failed to persist booking intent: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"reference":  reference,
		"session_id": session.ID,
		"trip_key":   key,
		"seat":       req.Seat,
		"fare":       fare.Price,
	}).Info("Checkout started")

	return &models.CheckoutResponse{
		Reference:   reference,
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		Fare:        fare.Price,
		Currency:    fare.Currency,
		ExpiresAt:   intent.ExpiresAt,
	}, nil
}

// Confirm finalizes a payment session. Idempotent: webhook deliveries and
// status polls are both funneled here and may repeat; a paid session always
// yields the same ticket. The seat claim, ticket write and status
// transition commit in one store transaction.
func (s *BookingOrchestratorService) Confirm(ctx context.Context, sessionID string) (*models.ConfirmResult, error) {
	intent, err := s.intents.GetBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, ErrIntentNotFound
	}

	if intent.Status == models.StatusPaid {
		return s.replayTicket(sessionID)
	}
	if intent.Status.IsTerminal() {
		return &models.ConfirmResult{Status: intent.Status, FailureReason: intent.FailureReason}, nil
	}

	// Ask the provider. No ledger lock is held across this round-trip.
	status, err := s.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("payment gateway error: %w", err)
	}

	if !status.Paid {
		switch status.Status {
		case "failed", "expired", "cancelled":
			intent.Status = models.StatusFailed
			intent.FailureReason = models.ReasonPaymentDeclined
			stored, applied, err := s.intents.SaveGuarded(intent)
			if err != nil {
				return nil, err
			}
			if !applied {
				// A cancel (or a rival confirm) landed during the
				// provider round-trip; its outcome stands.
				if stored.Status == models.StatusPaid {
					return s.replayTicket(sessionID)
				}
				return &models.ConfirmResult{Status: stored.Status, FailureReason: stored.FailureReason}, nil
			}
			s.logger.WithFields(logrus.Fields{
				"session_id": sessionID,
				"provider":   status.Status,
			}).Info("Payment not completed")
			return &models.ConfirmResult{Status: models.StatusFailed, FailureReason: models.ReasonPaymentDeclined}, nil
		default:
			// Still pending on the provider side; no state change.
			return &models.ConfirmResult{Status: intent.Status}, nil
		}
	}

	// Quote/charge drift is recorded but the provider's confirmed amount
	// always wins on the ticket.
	if fare, ferr := s.fareService.Resolve(intent.Origin, intent.Destination, intent.Departure); ferr == nil && fare.Price != intent.QuotedFare {
		s.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"quoted":     intent.QuotedFare,
			"current":    fare.Price,
		}).Warn("Fare changed between quote and charge")
	}

	charged := status.ChargedAmount
	if charged == 0 {
		charged = intent.QuotedFare
	}
	currency := status.Currency
	if currency == "" {
		currency = intent.Currency
	}

	ticket := &models.Ticket{
		Reference:      intent.Reference,
		SessionID:      sessionID,
		PassengerName:  intent.PassengerName,
		PassengerPhone: intent.PassengerPhone,
		Origin:         intent.Origin,
		Destination:    intent.Destination,
		Date:           intent.Date,
		Departure:      intent.Departure,
		Seat:           intent.Seat,
		FareCharged:    charged,
		Currency:       currency,
		TransactionID:  status.TransactionID,
		IssuedAt:       time.Now(),
	}

	key := intent.TripKey()
	var superseded models.BookingIntent
	err = s.seatLedger.ClaimWith(key, intent.Seat, func(txn store.Txn) error {
		// The intent was read before the provider round-trip; a cancel
		// may have committed in between. Terminal states are immutable,
		// so re-read under the transaction and back out if so.
		var current models.BookingIntent
		if err := txn.Get(store.CollectionIntents, sessionID, &current); err != nil {
			return err
		}
		if current.Status == models.StatusPaid || current.Status.IsTerminal() {
			superseded = current
			return errIntentSuperseded
		}
		intent.Status = models.StatusPaid
		intent.FailureReason = ""
		if err := s.intents.SaveTxn(txn, intent); err != nil {
			return err
		}
		return s.tickets.CreateTxn(txn, ticket)
	})
	if err == ledger.ErrSeatOccupied {
		return s.resolveClaimConflict(sessionID)
	}
	if err == errIntentSuperseded {
		if superseded.Status == models.StatusPaid {
			return s.replayTicket(sessionID)
		}
		return &models.ConfirmResult{Status: superseded.Status, FailureReason: superseded.FailureReason}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize booking: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"reference":  intent.Reference,
		"session_id": sessionID,
		"trip_key":   key,
		"seat":       intent.Seat,
		"charged":    charged,
	}).Info("Booking confirmed")

	return &models.ConfirmResult{Status: models.StatusPaid, Ticket: ticket}, nil
}

// resolveClaimConflict handles ErrSeatOccupied during Confirm. Either a
// concurrent Confirm for the same session already finalized the booking
// (replay the ticket), or another booking genuinely took the seat: the
// customer paid but cannot receive it, which is surfaced as a conflict so
// it can be refunded rather than silently dropped.
func (s *BookingOrchestratorService) resolveClaimConflict(sessionID string) (*models.ConfirmResult, error) {
	intent, err := s.intents.GetBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, ErrIntentNotFound
	}
	if intent.Status == models.StatusPaid {
		return s.replayTicket(sessionID)
	}

	intent.Status = models.StatusFailed
	intent.FailureReason = models.ReasonSeatConflict
	stored, applied, err := s.intents.SaveGuarded(intent)
	if err != nil {
		return nil, err
	}
	if !applied {
		if stored.Status == models.StatusPaid {
			return s.replayTicket(sessionID)
		}
		return &models.ConfirmResult{Status: stored.Status, FailureReason: stored.FailureReason}, nil
	}

	s.logger.WithFields(logrus.Fields{
		"reference":  intent.Reference,
		"session_id": sessionID,
		"seat":       intent.Seat,
	}).Warn("Payment received but seat was taken; refund required")

	return &models.ConfirmResult{Status: models.StatusFailed, FailureReason: models.ReasonSeatConflict}, nil
}

func (s *BookingOrchestratorService) replayTicket(sessionID string) (*models.ConfirmResult, error) {
	ticket, err := s.tickets.GetBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, fmt.Errorf("paid booking %s has no ticket record", sessionID)
	}
	return &models.ConfirmResult{Status: models.StatusPaid, Ticket: ticket}, nil
}

// Cancel cancels a booking by its customer-facing reference. A pending
// intent just transitions; a paid booking for a future trip releases its
// seat and moves to refund_requested.
func (s *BookingOrchestratorService) Cancel(reference, reason string) (*models.CancelResult, error) {
	intent, err := s.intents.GetByReference(reference)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, ErrIntentNotFound
	}

	// Guarded writes may find the intent moved during this call (a confirm
	// finishing a provider poll); when that happens, re-dispatch on the
	// fresh copy. Statuses only advance toward terminal, so this settles.
	for {
		switch intent.Status {
		case models.StatusCancelled, models.StatusRefundRequested:
			// Idempotent replay.
			return &models.CancelResult{Reference: reference, Status: intent.Status}, nil

		case models.StatusPending, models.StatusExpired:
			intent.Status = models.StatusCancelled
			intent.CancelReason = reason
			stored, applied, err := s.intents.SaveGuarded(intent)
			if err != nil {
				return nil, err
			}
			if !applied {
				intent = stored
				continue
			}
			s.logger.WithField("reference", reference).Info("Pending booking cancelled")
			return &models.CancelResult{Reference: reference, Status: models.StatusCancelled}, nil

		case models.StatusPaid:
			if s.tripDeparted(intent) {
				return nil, ErrTripDeparted
			}
			var current models.BookingIntent
			err := s.seatLedger.ReleaseWith(intent.TripKey(), intent.Seat, func(txn store.Txn) error {
				if err := txn.Get(store.CollectionIntents, intent.SessionID, &current); err != nil {
					return err
				}
				if current.Status != models.StatusPaid {
					return errIntentSuperseded
				}
				current.Status = models.StatusRefundRequested
				current.CancelReason = reason
				return s.intents.SaveTxn(txn, &current)
			})
			if err == errIntentSuperseded {
				intent = &current
				continue
			}
			if err != nil {
				return nil, err
			}
			s.logger.WithFields(logrus.Fields{
				"reference": reference,
				"seat":      intent.Seat,
			}).Info("Paid booking cancelled; seat released, refund requested")
			return &models.CancelResult{Reference: reference, Status: models.StatusRefundRequested}, nil

		default:
			return nil, ErrCannotCancel
		}
	}
}

// GetTicket returns the ticket for a paid session, or nil.
func (s *BookingOrchestratorService) GetTicket(sessionID string) (*models.Ticket, error) {
	return s.tickets.GetBySessionID(sessionID)
}

func (s *BookingOrchestratorService) tripDeparted(intent *models.BookingIntent) bool {
	departure, err := time.ParseInLocation("2006-01-02 15:04", intent.Date+" "+intent.Departure, time.Local)
	if err != nil {
		return false
	}
	return departure.Before(time.Now())
}

// validateSeat checks the seat label against the bus capacity. Seat labels
// are strings, but on this fleet they are small positive integers.
func (s *BookingOrchestratorService) validateSeat(req *models.CheckoutRequest) error {
	capacity, err := s.fareService.Capacity(req.Origin, req.Destination)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(req.Seat)
	if err != nil || n < 1 || n > capacity {
		return fmt.Errorf("invalid seat %q: expected 1-%d", req.Seat, capacity)
	}
	return nil
}
