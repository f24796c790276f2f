package repository

import (
	"fmt"

	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/store"
)

// RouteRepository handles route/schedule reference data. The booking core
// reads it as a price/capacity oracle; writes come only from the admin
// CRUD surface.
type RouteRepository struct {
	store store.Store
}

// NewRouteRepository creates a new RouteRepository.
func NewRouteRepository(st store.Store) *RouteRepository {
	return &RouteRepository{store: st}
}

// Create stores a new route keyed by its canonical origin/destination key.
func (r *RouteRepository) Create(route *models.Route) error {
	route.Key = models.RouteKey(route.Origin, route.Destination)
	existing, err := r.GetByKey(route.Key)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("route %s already exists", route.Key)
	}
	return r.store.Put(store.CollectionRoutes, route.Key, route)
}

// Update replaces an existing route.
func (r *RouteRepository) Update(route *models.Route) error {
	route.Key = models.RouteKey(route.Origin, route.Destination)
	existing, err := r.GetByKey(route.Key)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("route %s not found", route.Key)
	}
	return r.store.Put(store.CollectionRoutes, route.Key, route)
}

// Delete removes a route.
func (r *RouteRepository) Delete(key string) error {
	return r.store.Delete(store.CollectionRoutes, key)
}

// GetByKey retrieves a route by its canonical key. Returns (nil, nil) when
// absent.
func (r *RouteRepository) GetByKey(key string) (*models.Route, error) {
	var route models.Route
	err := r.store.Get(store.CollectionRoutes, key, &route)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

// GetByOriginDestination retrieves a route from loosely-formatted origin
// and destination input.
func (r *RouteRepository) GetByOriginDestination(origin, destination string) (*models.Route, error) {
	return r.GetByKey(models.RouteKey(origin, destination))
}

// List returns all routes.
func (r *RouteRepository) List() ([]*models.Route, error) {
	keys, err := r.store.List(store.CollectionRoutes)
	if err != nil {
		return nil, err
	}
	routes := make([]*models.Route, 0, len(keys))
	for _, key := range keys {
		route, err := r.GetByKey(key)
		if err != nil {
			return nil, err
		}
		if route != nil {
			routes = append(routes, route)
		}
	}
	return routes, nil
}
