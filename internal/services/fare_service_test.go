package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/repository"
	"github.com/rutaviva/booking-backend/internal/store"
)

func newFareFixture(t *testing.T) *FareService {
	t.Helper()
	routes := repository.NewRouteRepository(store.NewMemoryStore())
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
	return NewFareService(routes, "MXN")
}

func TestFareResolve_KnownSchedule(t *testing.T) {
	fares := newFareFixture(t)

	fare, err := fares.Resolve("Ciudad de México", "Guadalajara", "10:00")
	require.NoError(t, err)
	assert.Equal(t, 550.0, fare.Price)
	assert.Equal(t, "MXN", fare.Currency)
	assert.Equal(t, "primera", fare.ServiceClass)
}

func TestFareResolve_NormalizesInput(t *testing.T) {
	fares := newFareFixture(t)

	fare, err := fares.Resolve(" ciudad de méxico ", "GUADALAJARA", "22:00")
	require.NoError(t, err)
	assert.Equal(t, 720.0, fare.Price)
}

func TestFareResolve_UnknownRoute(t *testing.T) {
	fares := newFareFixture(t)

	_, err := fares.Resolve("Monterrey", "Guadalajara", "10:00")
	assert.Equal(t, ErrFareNotFound, err)
}

func TestFareResolve_UnknownDeparture(t *testing.T) {
	fares := newFareFixture(t)

	// No schedule at that time reads the same as no route at all.
	_, err := fares.Resolve("Ciudad de México", "Guadalajara", "11:30")
	assert.Equal(t, ErrFareNotFound, err)
}

func TestFareCapacity(t *testing.T) {
	fares := newFareFixture(t)

	capacity, err := fares.Capacity("Ciudad de México", "Guadalajara")
	require.NoError(t, err)
	assert.Equal(t, 48, capacity)

	_, err = fares.Capacity("Monterrey", "Guadalajara")
	assert.Equal(t, ErrFareNotFound, err)
}
