package services

import (
	"errors"

	"github.com/rutaviva/booking-backend/internal/repository"
)

// ErrFareNotFound covers both "route does not exist" and "no schedule at
// that time": either way the trip cannot be sold.
var ErrFareNotFound = errors.New("no fare for that route and departure")

// Fare is an authoritative price quote, re-derived from the route catalog
// at the moment it is needed. Client-supplied prices are never consulted.
type Fare struct {
	Price        float64
	Currency     string
	ServiceClass string
}

// FareService resolves prices and capacity from the route catalog.
type FareService struct {
	routes   *repository.RouteRepository
	currency string
}

// NewFareService creates a fare service quoting in the given currency.
func NewFareService(routes *repository.RouteRepository, currency string) *FareService {
	return &FareService{routes: routes, currency: currency}
}

// Resolve returns the authoritative price for a route and departure time,
// reading a fresh catalog snapshot on every call.
func (s *FareService) Resolve(origin, destination, departure string) (*Fare, error) {
	route, err := s.routes.GetByOriginDestination(origin, destination)
	if err != nil {
		return nil, err
	}
	if route == nil {
		return nil, ErrFareNotFound
	}
	schedule := route.ScheduleAt(departure)
	if schedule == nil {
		return nil, ErrFareNotFound
	}
	return &Fare{
		Price:        schedule.Price,
		Currency:     s.currency,
		ServiceClass: schedule.ServiceClass,
	}, nil
}

// Capacity returns the total seat count of the bus serving the route.
func (s *FareService) Capacity(origin, destination string) (int, error) {
	route, err := s.routes.GetByOriginDestination(origin, destination)
	if err != nil {
		return 0, err
	}
	if route == nil {
		return 0, ErrFareNotFound
	}
	return route.TotalSeats, nil
}
