// Package roster applies passenger and seat changes to a ride while holding
// the seat-count invariant: available seats + seated passengers == capacity.
package roster

import (
	"time"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/models"
)

// DepartureReason records how a passenger stopped being aboard.
type DepartureReason string

const (
	ReasonLeft   DepartureReason = "left"
	ReasonKicked DepartureReason = "kicked"
)

// AddPassenger seats a client and takes one seat. The caller has already won
// the admission decision; this only guards the arithmetic.
func AddPassenger(r *models.Ride, clientID string) error {
	if r.AvailableSeats <= 0 {
		return apperrors.ErrSeatsExhausted
	}
	if r.HasPassenger(clientID) {
		return apperrors.ErrAlreadyAboard
	}
	r.Passengers = append(r.Passengers, clientID)
	r.AvailableSeats--
	r.UpdatedAt = time.Now()
	return Check(r)
}

// RemovePassenger unseats a client, frees their seat, excises their pickup
// and dropoff stops from the route, and records the terminal disposition.
func RemovePassenger(r *models.Ride, clientID string, pickup, dropoff models.Coord, reason DepartureReason) error {
	if !r.HasPassenger(clientID) {
		return apperrors.ErrNotInRide
	}
	out := r.Passengers[:0]
	for _, p := range r.Passengers {
		if p != clientID {
			out = append(out, p)
		}
	}
	r.Passengers = out
	r.AvailableSeats++
	exciseWaypoint(r, pickup)
	exciseWaypoint(r, dropoff)
	switch reason {
	case ReasonKicked:
		r.KickedClients = append(r.KickedClients, clientID)
	default:
		r.LeftClients = append(r.LeftClients, clientID)
	}
	r.UpdatedAt = time.Now()
	return Check(r)
}

// exciseWaypoint drops the first route element matching c, scanning after
// index 0: the driver's position is never a removable stop.
func exciseWaypoint(r *models.Ride, c models.Coord) {
	for i := 1; i < len(r.Route); i++ {
		if r.Route[i] == c {
			r.Route = append(r.Route[:i], r.Route[i+1:]...)
			return
		}
	}
}

// Check verifies the ride's core invariants. A violation means a bug in the
// mutation path; the caller must not persist the record.
func Check(r *models.Ride) error {
	if r.AvailableSeats < 0 || r.AvailableSeats+len(r.Passengers) != r.Capacity {
		return apperrors.ErrSeatInvariant
	}
	if len(r.Passengers) > 0 && len(r.Route) < 2 {
		return apperrors.ErrRouteTooShort
	}
	return nil
}
