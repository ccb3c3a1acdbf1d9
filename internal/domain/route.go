package domain

import (
	"errors"
	"strings"
)

var (
	ErrEmptyRouteID = errors.New("route id empty")
	ErrNoStops      = errors.New("route has no stops")
	ErrEmptyStop    = errors.New("stop name empty")
)

// NormalizeRouteID trims and uppercases a route id.
func NormalizeRouteID(id string) (string, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return "", ErrEmptyRouteID
	}
	return id, nil
}

// Validate enforces the structure the control panel requires before a
// route is published. Renderers must still tolerate routes that fail it.
func (r Route) Validate() error {
	if len(r.Stops) == 0 {
		return ErrNoStops
	}
	for _, s := range r.Stops {
		if strings.TrimSpace(s.Name) == "" {
			return ErrEmptyStop
		}
	}
	return nil
}

// ClampStopIndex forces i into [0, n-1], or 0 when n is 0.
func ClampStopIndex(i, n int) int {
	if n <= 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func ClampVolume(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ActiveStop resolves the active route and the clamped stop index.
// ok is false when no route is selected or the id is not in the table.
// A route with no stops yields index 0 and hasStop false.
func (s SharedState) ActiveStop() (route Route, index int, hasStop bool, ok bool) {
	if s.ActiveRouteID == "" {
		return Route{}, 0, false, false
	}
	route, ok = s.RouteTable[s.ActiveRouteID]
	if !ok {
		return Route{}, 0, false, false
	}
	index = ClampStopIndex(s.ActiveStopIndex, len(route.Stops))
	return route, index, len(route.Stops) > 0, true
}
