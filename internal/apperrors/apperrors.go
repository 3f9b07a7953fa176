package apperrors

import (
	"errors"
	"net/http"
)

// Sentinel errors surfaced by the coordinator. Handlers map them to HTTP
// status codes with HTTPStatus; everything else is a 500.
var (
	// validation: rejected before any state change
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidCapacity   = errors.New("capacity must be at least 1")
	ErrRouteTooShort     = errors.New("route needs at least two points")

	// not found
	ErrRideNotFound    = errors.New("ride not found")
	ErrRequestNotFound = errors.New("join request not found")
	ErrUserNotFound    = errors.New("user not found")

	// conflict: caller may retry after state changes
	ErrPriorDisposition = errors.New("client has a terminal disposition for this ride")
	ErrAlreadyAboard    = errors.New("client already aboard this ride")
	ErrAlreadyInRide    = errors.New("client already in a ride")
	ErrNotInRide        = errors.New("client not in a ride")
	ErrNoSeats          = errors.New("no seats available")
	ErrDuplicatePending = errors.New("join request already pending")
	ErrAlreadyVoted     = errors.New("voter already cast a ballot")
	ErrRequestResolved  = errors.New("join request already resolved")
	ErrNotAParticipant  = errors.New("voter is not a participant of this request")
	ErrNotRideDriver    = errors.New("only the ride's driver may do this")
	ErrSeatsExhausted   = errors.New("seats exhausted at admission time")

	// invariant: fatal for the operation, never persisted
	ErrSeatInvariant = errors.New("seat count invariant violated")
)

// HTTPStatus classifies an error for the HTTP layer.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCoordinate),
		errors.Is(err, ErrInvalidRole),
		errors.Is(err, ErrInvalidCapacity),
		errors.Is(err, ErrRouteTooShort):
		return http.StatusBadRequest
	case errors.Is(err, ErrRideNotFound),
		errors.Is(err, ErrRequestNotFound),
		errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotRideDriver):
		return http.StatusForbidden
	case errors.Is(err, ErrPriorDisposition),
		errors.Is(err, ErrAlreadyAboard),
		errors.Is(err, ErrAlreadyInRide),
		errors.Is(err, ErrNotInRide),
		errors.Is(err, ErrNoSeats),
		errors.Is(err, ErrDuplicatePending),
		errors.Is(err, ErrAlreadyVoted),
		errors.Is(err, ErrRequestResolved),
		errors.Is(err, ErrNotAParticipant),
		errors.Is(err, ErrSeatsExhausted):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
