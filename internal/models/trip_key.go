package models

import "strings"

// TripKey identifies one trip instance: a route run on a specific date at a
// specific departure time. Two keys built from case/whitespace variants of
// the same inputs compare equal.
type TripKey string

// EncodeTripKey derives the canonical key for a trip instance. It performs
// no date validation; a malformed date simply produces a key that matches
// no inventory, which reads as "no seats occupied".
func EncodeTripKey(origin, destination, date, departure string) TripKey {
	return TripKey(strings.Join([]string{
		normalizeKeyPart(origin),
		normalizeKeyPart(destination),
		normalizeKeyPart(date),
		normalizeKeyPart(departure),
	}, "|"))
}

// RouteKey derives the canonical key for a route (origin/destination pair),
// independent of date and departure time.
func RouteKey(origin, destination string) string {
	return normalizeKeyPart(origin) + "|" + normalizeKeyPart(destination)
}

func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (k TripKey) String() string {
	return string(k)
}
