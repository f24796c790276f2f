package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a booking intent
type BookingStatus string

const (
	StatusPending         BookingStatus = "pending"          // Payment session opened, waiting for confirmation
	StatusPaid            BookingStatus = "paid"             // Payment confirmed, seat claimed, ticket issued
	StatusFailed          BookingStatus = "failed"           // Payment declined/expired, or seat conflict after payment
	StatusCancelled       BookingStatus = "cancelled"        // Customer cancelled before payment
	StatusRefundRequested BookingStatus = "refund_requested" // Paid booking cancelled, seat released, refund pending
	StatusExpired         BookingStatus = "expired"          // Swept after TTL with no confirmation
)

// FailureReason distinguishes why an intent ended up failed
type FailureReason string

const (
	ReasonSeatConflict    FailureReason = "seat_conflict"    // Paid, but another booking claimed the seat first
	ReasonPaymentDeclined FailureReason = "payment_declined" // Provider reported failed/expired/cancelled
)

// IsTerminal reports whether the status admits no further transitions
// other than refund bookkeeping.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusRefundRequested:
		return true
	}
	return false
}

// BookingIntent represents one attempt to purchase a seat. It is owned by
// the orchestrator until it reaches a terminal status. The payment session
// ID is the join key with the payment provider's confirmation.
type BookingIntent struct {
	ID        uuid.UUID `json:"id"`
	Reference string    `json:"reference"`  // Customer-facing booking reference
	SessionID string    `json:"session_id"` // Provider-assigned payment session ID

	PassengerName  string `json:"passenger_name"`
	PassengerPhone string `json:"passenger_phone"`
	PassengerEmail string `json:"passenger_email,omitempty"`

	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Date        string `json:"date"`      // "2025-01-15"
	Departure   string `json:"departure"` // "10:00"
	Seat        string `json:"seat"`

	QuotedFare float64 `json:"quoted_fare"`
	Currency   string  `json:"currency"`

	Status        BookingStatus `json:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	CancelReason  string        `json:"cancel_reason,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TripKey returns the canonical key of the trip instance this intent is for.
func (i *BookingIntent) TripKey() TripKey {
	return EncodeTripKey(i.Origin, i.Destination, i.Date, i.Departure)
}

// IsExpired checks if the intent has passed its TTL without confirmation.
func (i *BookingIntent) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// Ticket is the durable customer-facing artifact, created only when an
// intent transitions to paid. FareCharged is the provider's confirmed
// amount, not the quoted fare. Immutable after creation; keyed by the
// payment session ID for idempotent lookup.
type Ticket struct {
	Reference string `json:"reference"`
	SessionID string `json:"session_id"`

	PassengerName  string `json:"passenger_name"`
	PassengerPhone string `json:"passenger_phone"`

	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Date        string `json:"date"`
	Departure   string `json:"departure"`
	Seat        string `json:"seat"`

	FareCharged   float64 `json:"fare_charged"`
	Currency      string  `json:"currency"`
	TransactionID string  `json:"transaction_id"`

	IssuedAt time.Time `json:"issued_at"`
}

// ============================================================================
// REQUEST/RESPONSE STRUCTS
// ============================================================================

// CheckoutRequest is the request to start a checkout. Any client-supplied
// price is deliberately absent: fares are always resolved server-side.
type CheckoutRequest struct {
	PassengerName  string `json:"passenger_name" binding:"required"`
	PassengerPhone string `json:"passenger_phone" binding:"required"`
	PassengerEmail string `json:"passenger_email,omitempty"`

	Origin      string `json:"origin" binding:"required"`
	Destination string `json:"destination" binding:"required"`
	Date        string `json:"date" binding:"required"`
	Departure   string `json:"departure" binding:"required"`
	Seat        string `json:"seat" binding:"required"`
}

// Validate performs the synchronous checks that must pass before any state
// is touched.
func (r *CheckoutRequest) Validate() error {
	if normalizeKeyPart(r.Origin) == normalizeKeyPart(r.Destination) {
		return errors.New("origin and destination must differ")
	}
	if _, err := time.Parse("2006-01-02", r.Date); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", r.Date)
	}
	if _, err := time.Parse("15:04", r.Departure); err != nil {
		return fmt.Errorf("invalid departure time %q: expected HH:MM", r.Departure)
	}
	return nil
}

// CheckoutResponse is returned after a payment session has been opened.
type CheckoutResponse struct {
	Reference   string    `json:"reference"`
	SessionID   string    `json:"session_id"`
	RedirectURL string    `json:"redirect_url"`
	Fare        float64   `json:"fare"`
	Currency    string    `json:"currency"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ConfirmRequest asks the orchestrator to finalize a payment session.
type ConfirmRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ConfirmResult reports the outcome of a confirmation attempt. Ticket is
// set only when Status is paid.
type ConfirmResult struct {
	Status        BookingStatus `json:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Ticket        *Ticket       `json:"ticket,omitempty"`
}

// CancelRequest asks to cancel a booking by its customer-facing reference.
type CancelRequest struct {
	Reference string `json:"reference" binding:"required"`
	Reason    string `json:"reason,omitempty"`
}

// CancelResult reports the status after a cancellation.
type CancelResult struct {
	Reference string        `json:"reference"`
	Status    BookingStatus `json:"status"`
}

// AvailabilityResponse lists the occupied seats for one trip instance.
type AvailabilityResponse struct {
	RouteKey      string   `json:"route_key"`
	Date          string   `json:"date"`
	Departure     string   `json:"departure"`
	TotalSeats    int      `json:"total_seats"`
	OccupiedSeats []string `json:"occupied_seats"`
}

// ============================================================================
// SEAT CONFLICT ERROR
// ============================================================================

// SeatConflictError is returned when the requested seat is already taken.
// Concurrent shoppers choosing the same seat is a normal occurrence, not a
// system fault; handlers turn this into a "pick another seat" response.
type SeatConflictError struct {
	Seat string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seat %s is no longer available", e.Seat)
}
