package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutaviva/booking-backend/internal/ledger"
	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/payment"
	"github.com/rutaviva/booking-backend/internal/repository"
	"github.com/rutaviva/booking-backend/internal/store"
)

// fakeGateway is an in-memory payment.Gateway whose session states the test
// flips explicitly.
type fakeGateway struct {
	mu          sync.Mutex
	sessions    int
	statuses    map[string]*payment.SessionStatus
	statusCalls int
	createErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]*payment.SessionStatus)}
}

func (g *fakeGateway) CreateSession(_ context.Context, _ payment.CreateSessionParams) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.sessions++
	id := fmt.Sprintf("cs_%03d", g.sessions)
	g.statuses[id] = &payment.SessionStatus{Status: "pending"}
	return &payment.Session{ID: id, RedirectURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) GetSessionStatus(_ context.Context, sessionID string) (*payment.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	status, ok := g.statuses[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	copied := *status
	return &copied, nil
}

func (g *fakeGateway) VerifyWebhookSignature([]byte, string) (*payment.WebhookEvent, error) {
	return nil, errors.New("not used in orchestrator tests")
}

func (g *fakeGateway) markPaid(sessionID string, amount float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[sessionID] = &payment.SessionStatus{
		Paid:          true,
		Status:        "paid",
		ChargedAmount: amount,
		Currency:      "MXN",
		TransactionID: "tx-" + sessionID,
	}
}

func (g *fakeGateway) markFailed(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[sessionID] = &payment.SessionStatus{Status: "failed"}
}

type orchestratorFixture struct {
	orchestrator *BookingOrchestratorService
	gateway      *fakeGateway
	ledger       *ledger.SeatLedger
	intents      *repository.IntentRepository
	routes       *repository.RouteRepository
	store        store.Store
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemoryStore()
	intents := repository.NewIntentRepository(st)
	tickets := repository.NewTicketRepository(st)
	routes := repository.NewRouteRepository(st)

	require.NoError(t, routes.Create(&models.Route{
		Origin:          "Ciudad de México",
		Destination:     "Guadalajara",
		DurationMinutes: 390,
		TotalSeats:      48,
		Schedules: []models.Schedule{
			{Departure: "10:00", Arrival: "16:30", ServiceClass: "primera", Price: 550},
			{Departure: "22:00", Arrival: "04:30", ServiceClass: "ejecutiva", Price: 720},
		},
	}))

	gateway := newFakeGateway()
	seatLedger := ledger.NewSeatLedger(st, logger)
	fares := NewFareService(routes, "MXN")

	return &orchestratorFixture{
		orchestrator: NewBookingOrchestratorService(
			intents, tickets, seatLedger, fares, gateway,
			DefaultOrchestratorConfig(), logger,
		),
		gateway: gateway,
		ledger:  seatLedger,
		intents: intents,
		routes:  routes,
		store:   st,
	}
}

func checkoutRequest(seat string) *models.CheckoutRequest {
	return &models.CheckoutRequest{
		PassengerName:  "Ana García",
		PassengerPhone: "+52 55 1234 5678",
		Origin:         "Ciudad de México",
		Destination:    "Guadalajara",
		Date:           "2030-05-01",
		Departure:      "10:00",
		Seat:           seat,
	}
}

func tripKey() models.TripKey {
	return models.EncodeTripKey("Ciudad de México", "Guadalajara", "2030-05-01", "10:00")
}

func TestStartCheckout_PendingIntentClaimsNothing(t *testing.T) {
	f := newOrchestratorFixture(t)

	resp, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest("12"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Reference)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.RedirectURL)
	assert.Equal(t, 550.0, resp.Fare, "fare comes from the catalog, never the client")
	assert.Equal(t, "MXN", resp.Currency)

	intent, err := f.intents.GetByReference(resp.Reference)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, models.StatusPending, intent.Status)

	occupied, err := f.ledger.IsOccupied(tripKey(), "12")
	require.NoError(t, err)
	assert.False(t, occupied, "checkout must not hold inventory")
}

func TestStartCheckout_UnknownRoute(t *testing.T) {
	f := newOrchestratorFixture(t)

	req := checkoutRequest("12")
	req.Destination = "Monterrey"
	_, err := f.orchestrator.StartCheckout(context.Background(), req)
	assert.Equal(t, ErrFareNotFound, err)
}

func TestStartCheckout_UnknownDeparture(t *testing.T) {
	f := newOrchestratorFixture(t)

	req := checkoutRequest("12")
	req.Departure = "11:30"
	_, err := f.orchestrator.StartCheckout(context.Background(), req)
	assert.Equal(t, ErrFareNotFound, err)
}

func TestStartCheckout_SeatOutOfRange(t *testing.T) {
	f := newOrchestratorFixture(t)

	for _, seat := range []string{"0", "49", "-3", "A1", ""} {
		_, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest(seat))
		assert.Error(t, err, "seat %q must be rejected", seat)
	}
}

func TestStartCheckout_OccupiedSeatRejectedEarly(t *testing.T) {
	f := newOrchestratorFixture(t)
	require.NoError(t, f.ledger.Claim(tripKey(), "12"))

	_, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest("12"))

	var conflict *models.SeatConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "12", conflict.Seat)
}

func TestStartCheckout_GatewayFailureOpensNothing(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.gateway.createErr = errors.New("provider down")

	_, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest("12"))
	require.Error(t, err)

	ids, err := f.intents.ListSessionIDs()
	require.NoError(t, err)
	assert.Empty(t, ids, "no intent may exist without a payment session")
}

func TestConfirm_PaidIssuesTicketAndClaimsSeat(t *testing.T) {
	f := newOrchestratorFixture(t)

	resp, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest("12"))
	require.NoError(t, err)

	// Provider charged less than the quote; the ticket records the
	// confirmed amount.
	f.gateway.markPaid(resp.SessionID, 540)

	result, err := f.orchestrator.Confirm(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, result.Status)
	require.NotNil(t, result.Ticket)
	assert.Equal(t, resp.Reference, result.Ticket.Reference)
	assert.Equal(t, "12", result.Ticket.Seat)
	assert.Equal(t, 540.0, result.Ticket.FareCharged)
	assert.Equal(t, "tx-"+resp.SessionID, result.Ticket.TransactionID)

	occupied, err := f.ledger.IsOccupied(tripKey(), "12")
	require.NoError(t, err)
	assert.True(t, occupied)
}

func TestConfirm_Idempotent(t *testing.T) {
	f := newOrchestratorFixture(t)

	resp, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest("12"))
	require.NoError(t, err)
	f.gateway.markPaid(resp.SessionID, 550)

	first, err := f.orchestrator.Confirm(context.Background(), resp.SessionID)
	require.NoError(t, err)
	second, err := f.orchestrator.Confirm(context.Background(), resp.SessionID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPaid, second.Status)
	assert.Equal(t, first.Ticket.Reference, second.Ticket.Reference)
	assert.Equal(t, 1, f.gateway.statusCalls, "replay must not re-poll the provider")

	seats, err := f.ledger.OccupiedSeats(tripKey())
	require.NoError(t, err)
	assert.Equal(t, []string{"12"}, seats, "repeat confirmation claims no second seat")
}

func TestConfirm_PaymentDeclined(t *testing.T) {
	f := newOrchestratorFixture(t)

	resp, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest("12"))
	require.NoError(t, err)
	f.gateway.markFailed(resp.SessionID)

	result, err := f.orchestrator.Confirm(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.ReasonPaymentDeclined, result.FailureReason)
	assert.Nil(t, result.Ticket)

	occupied, err := f.ledger.IsOccupied(tripKey(), "12")
	require.NoError(t, err)
	assert.False(t, occupied)

	// Terminal states replay without consulting the provider again.
	f.gateway.markPaid(resp.SessionID, 550)
	result, err = f.orchestrator.Confirm(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
}

func TestConfirm_ProviderStillPendingNoSideEffects(t *testing.T) {
	f := newOrchestratorFixture(t)

	resp, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest("12"))
	require.NoError(t, err)

	result, err := f.orchestrator.Confirm(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, result.Status)
	assert.Nil(t, result.Ticket)

	intent, err := f.intents.GetBySessionID(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, intent.Status)
}

func TestConfirm_UnknownSession(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orchestrator.Confirm(context.Background(), "cs_nope")
	assert.Equal(t, ErrIntentNotFound, err)
}

func TestConfirm_PaidButSeatTakenFailsWithConflict(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	first, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)
	second, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)

	f.gateway.markPaid(first.SessionID, 550)
	f.gateway.markPaid(second.SessionID, 550)

	winner, err := f.orchestrator.Confirm(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, winner.Status)

	loser, err := f.orchestrator.Confirm(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, loser.Status)
	assert.Equal(t, models.ReasonSeatConflict, loser.FailureReason)

	// The conflicted booking is recorded for refund follow-up.
	intent, err := f.intents.GetBySessionID(second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonSeatConflict, intent.FailureReason)

	// The winner's ticket is untouched.
	ticket, err := f.orchestrator.GetTicket(first.SessionID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, first.Reference, ticket.Reference)
}

func TestConfirm_ConcurrentRivalsExactlyOnePaid(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	sessions := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		resp, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
		require.NoError(t, err)
		f.gateway.markPaid(resp.SessionID, 550)
		sessions = append(sessions, resp.SessionID)
	}

	var wg sync.WaitGroup
	results := make(chan *models.ConfirmResult, len(sessions))
	for _, sessionID := range sessions {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			result, err := f.orchestrator.Confirm(ctx, id)
			if err != nil {
				t.Errorf("confirm %s: %v", id, err)
				return
			}
			results <- result
		}(sessionID)
	}
	wg.Wait()
	close(results)

	paid, conflicted := 0, 0
	for result := range results {
		switch result.Status {
		case models.StatusPaid:
			paid++
		case models.StatusFailed:
			assert.Equal(t, models.ReasonSeatConflict, result.FailureReason)
			conflicted++
		default:
			t.Errorf("unexpected status %s", result.Status)
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, len(sessions)-1, conflicted)

	seats, err := f.ledger.OccupiedSeats(tripKey())
	require.NoError(t, err)
	assert.Equal(t, []string{"12"}, seats)
}

func TestConfirm_ConcurrentSameSessionAllReplaySameTicket(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	resp, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)
	f.gateway.markPaid(resp.SessionID, 550)

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan *models.ConfirmResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.orchestrator.Confirm(ctx, resp.SessionID)
			if err != nil {
				t.Errorf("confirm: %v", err)
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	for result := range results {
		assert.Equal(t, models.StatusPaid, result.Status)
		require.NotNil(t, result.Ticket)
		assert.Equal(t, resp.Reference, result.Ticket.Reference)
	}

	seats, err := f.ledger.OccupiedSeats(tripKey())
	require.NoError(t, err)
	assert.Equal(t, []string{"12"}, seats)
}

func TestConfirm_FareDriftChargesProviderAmount(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	resp, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)
	assert.Equal(t, 550.0, resp.Fare)

	// Price rises after the quote; the customer pays what the provider
	// actually captured at quote time.
	route, err := f.routes.GetByOriginDestination("Ciudad de México", "Guadalajara")
	require.NoError(t, err)
	route.Schedules[0].Price = 600
	require.NoError(t, f.routes.Update(route))

	f.gateway.markPaid(resp.SessionID, 550)

	result, err := f.orchestrator.Confirm(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 550.0, result.Ticket.FareCharged)
}

// gatedGateway parks GetSessionStatus until the test releases it, opening
// the window between the intent read and the finalizing write.
type gatedGateway struct {
	*fakeGateway
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGateway) GetSessionStatus(ctx context.Context, sessionID string) (*payment.SessionStatus, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeGateway.GetSessionStatus(ctx, sessionID)
}

func newGatedOrchestrator(t *testing.T, f *orchestratorFixture) (*BookingOrchestratorService, *gatedGateway) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	gated := &gatedGateway{
		fakeGateway: f.gateway,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	orchestrator := NewBookingOrchestratorService(
		f.intents, repository.NewTicketRepository(f.store), f.ledger,
		NewFareService(f.routes, "MXN"),
		gated, DefaultOrchestratorConfig(), logger,
	)
	return orchestrator, gated
}

func TestConfirm_CancelDuringProviderPollStands(t *testing.T) {
	f := newOrchestratorFixture(t)
	orchestrator, gated := newGatedOrchestrator(t, f)
	ctx := context.Background()

	resp, err := orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)
	f.gateway.markPaid(resp.SessionID, 550)

	done := make(chan *models.ConfirmResult, 1)
	go func() {
		result, err := orchestrator.Confirm(ctx, resp.SessionID)
		if err != nil {
			t.Errorf("confirm: %v", err)
			done <- nil
			return
		}
		done <- result
	}()

	// Confirm is parked inside the provider call; the cancel commits first.
	<-gated.entered
	cancelRes, err := orchestrator.Cancel(resp.Reference, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelRes.Status)

	close(gated.release)
	result := <-done
	require.NotNil(t, result)
	assert.Equal(t, models.StatusCancelled, result.Status, "a committed cancel is immutable")
	assert.Nil(t, result.Ticket)

	intent, err := f.intents.GetBySessionID(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, intent.Status)

	occupied, err := f.ledger.IsOccupied(tripKey(), "12")
	require.NoError(t, err)
	assert.False(t, occupied, "no seat may be claimed for a cancelled booking")

	ticket, err := orchestrator.GetTicket(resp.SessionID)
	require.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestConfirm_CancelDuringPollBeatsDeclinedWrite(t *testing.T) {
	f := newOrchestratorFixture(t)
	orchestrator, gated := newGatedOrchestrator(t, f)
	ctx := context.Background()

	resp, err := orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)
	f.gateway.markFailed(resp.SessionID)

	done := make(chan *models.ConfirmResult, 1)
	go func() {
		result, err := orchestrator.Confirm(ctx, resp.SessionID)
		if err != nil {
			t.Errorf("confirm: %v", err)
			done <- nil
			return
		}
		done <- result
	}()

	<-gated.entered
	cancelRes, err := orchestrator.Cancel(resp.Reference, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelRes.Status)

	close(gated.release)
	result := <-done
	require.NotNil(t, result)
	assert.Equal(t, models.StatusCancelled, result.Status)

	intent, err := f.intents.GetBySessionID(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, intent.Status, "declined write must not overwrite the cancel")
}

func TestCancel_PendingBooking(t *testing.T) {
	f := newOrchestratorFixture(t)

	resp, err := f.orchestrator.StartCheckout(context.Background(), checkoutRequest("12"))
	require.NoError(t, err)

	result, err := f.orchestrator.Cancel(resp.Reference, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, result.Status)

	// Replay is idempotent.
	result, err = f.orchestrator.Cancel(resp.Reference, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, result.Status)
}

func TestCancel_PaidBookingReleasesSeat(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	resp, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)
	f.gateway.markPaid(resp.SessionID, 550)
	_, err = f.orchestrator.Confirm(ctx, resp.SessionID)
	require.NoError(t, err)

	result, err := f.orchestrator.Cancel(resp.Reference, "no longer travelling")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefundRequested, result.Status)

	occupied, err := f.ledger.IsOccupied(tripKey(), "12")
	require.NoError(t, err)
	assert.False(t, occupied)

	// The freed seat is sellable again end to end.
	again, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)
	f.gateway.markPaid(again.SessionID, 550)
	confirmed, err := f.orchestrator.Confirm(ctx, again.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, confirmed.Status)
}

func TestCancel_DepartedTripRefused(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	req := checkoutRequest("12")
	req.Date = time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	resp, err := f.orchestrator.StartCheckout(ctx, req)
	require.NoError(t, err)
	f.gateway.markPaid(resp.SessionID, 550)
	_, err = f.orchestrator.Confirm(ctx, resp.SessionID)
	require.NoError(t, err)

	_, err = f.orchestrator.Cancel(resp.Reference, "too late")
	assert.Equal(t, ErrTripDeparted, err)
}

func TestCancel_FailedBookingRefused(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	resp, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)
	f.gateway.markFailed(resp.SessionID)
	_, err = f.orchestrator.Confirm(ctx, resp.SessionID)
	require.NoError(t, err)

	_, err = f.orchestrator.Cancel(resp.Reference, "whatever")
	assert.Equal(t, ErrCannotCancel, err)
}

func TestCancel_UnknownReference(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orchestrator.Cancel("BK-missing", "")
	assert.Equal(t, ErrIntentNotFound, err)
}

func TestCheckAvailability(t *testing.T) {
	f := newOrchestratorFixture(t)
	require.NoError(t, f.ledger.Claim(tripKey(), "3"))
	require.NoError(t, f.ledger.Claim(tripKey(), "12"))

	avail, err := f.orchestrator.CheckAvailability("Ciudad de México", "Guadalajara", "2030-05-01", "10:00")
	require.NoError(t, err)
	assert.Equal(t, 48, avail.TotalSeats)
	assert.Equal(t, []string{"12", "3"}, avail.OccupiedSeats)

	_, err = f.orchestrator.CheckAvailability("Monterrey", "Guadalajara", "2030-05-01", "10:00")
	assert.Equal(t, ErrFareNotFound, err)
}

func TestGetTicket(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	resp, err := f.orchestrator.StartCheckout(ctx, checkoutRequest("12"))
	require.NoError(t, err)

	ticket, err := f.orchestrator.GetTicket(resp.SessionID)
	require.NoError(t, err)
	assert.Nil(t, ticket, "no ticket before payment")

	f.gateway.markPaid(resp.SessionID, 550)
	_, err = f.orchestrator.Confirm(ctx, resp.SessionID)
	require.NoError(t, err)

	ticket, err = f.orchestrator.GetTicket(resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, resp.Reference, ticket.Reference)
}
