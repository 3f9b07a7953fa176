package routing

import (
	"context"
	"errors"

	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/models"
)

// Measurement is the oracle's answer for one ordered waypoint sequence.
type Measurement struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// Oracle turns an ordered list of waypoints into total travel distance and
// duration. A failed measurement means "unknown", never zero.
type Oracle interface {
	Measure(ctx context.Context, waypoints []models.Coord) (Measurement, error)
}

var (
	// ErrInsufficientPoints: fewer than 2 valid points remain after filtering.
	ErrInsufficientPoints = errors.New("routing: need at least two valid waypoints")
	// ErrTimeout: the upstream call exceeded its deadline.
	ErrTimeout = errors.New("routing: upstream timeout")
	// ErrNoRoute: the provider answered but found no route.
	ErrNoRoute = errors.New("routing: no route between waypoints")
	// ErrUpstream: any other non-success provider response.
	ErrUpstream = errors.New("routing: upstream error")
)

// HaversineOracle estimates legs as straight-line distance at a fixed speed.
// It backs local runs when no OSRM endpoint is configured.
type HaversineOracle struct {
	SpeedMps float64
}

func (h HaversineOracle) Measure(_ context.Context, waypoints []models.Coord) (Measurement, error) {
	pts := geo.FilterValid(waypoints)
	if len(pts) < 2 {
		return Measurement{}, ErrInsufficientPoints
	}
	speed := h.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h default city speed
	}
	var dist float64
	for i := 1; i < len(pts); i++ {
		dist += geo.Haversine(pts[i-1].Lat, pts[i-1].Lon, pts[i].Lat, pts[i].Lon)
	}
	return Measurement{DistanceMeters: dist, DurationSeconds: dist / speed}, nil
}
