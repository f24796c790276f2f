package models

import "errors"

// Route is read-mostly reference data: an origin/destination pair with an
// ordered list of schedules. The booking core treats routes as a read-only
// price/capacity oracle; mutation happens only through the admin CRUD
// surface.
type Route struct {
	Key             string     `json:"key"`
	Origin          string     `json:"origin" binding:"required"`
	Destination     string     `json:"destination" binding:"required"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,min=1"`
	TotalSeats      int        `json:"total_seats" binding:"required,min=1"`
	Schedules       []Schedule `json:"schedules" binding:"required,min=1,dive"`
}

// Schedule is one departure within a route.
type Schedule struct {
	Departure    string  `json:"departure" binding:"required"` // "10:00"
	Arrival      string  `json:"arrival" binding:"required"`
	ServiceClass string  `json:"service_class,omitempty"`
	Price        float64 `json:"price" binding:"required,gt=0"`
}

// Validate checks route invariants beyond what binding tags cover.
func (r *Route) Validate() error {
	if normalizeKeyPart(r.Origin) == normalizeKeyPart(r.Destination) {
		return errors.New("route origin and destination must differ")
	}
	seen := make(map[string]bool, len(r.Schedules))
	for _, s := range r.Schedules {
		dep := normalizeKeyPart(s.Departure)
		if seen[dep] {
			return errors.New("duplicate schedule departure " + s.Departure)
		}
		seen[dep] = true
	}
	return nil
}

// ScheduleAt returns the schedule departing at the given time, or nil.
func (r *Route) ScheduleAt(departure string) *Schedule {
	dep := normalizeKeyPart(departure)
	for i := range r.Schedules {
		if normalizeKeyPart(r.Schedules[i].Departure) == dep {
			return &r.Schedules[i]
		}
	}
	return nil
}
