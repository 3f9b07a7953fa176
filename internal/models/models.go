package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Role string

const (
	RoleDriver Role = "driver"
	RoleClient Role = "client"
)

// Decision is a single voter's state on a pending join request.
type Decision string

const (
	DecisionUndecided Decision = "undecided"
	DecisionApproved  Decision = "approved"
	DecisionDenied    Decision = "denied"
)

type Approval struct {
	VoterID  string   `json:"voter_id"`
	Role     Role     `json:"role"`
	Decision Decision `json:"decision"`
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// Ride is a driver's in-progress multi-stop trip. Route[0] is always the
// driver's current position; pickups and dropoffs follow in visit order.
type Ride struct {
	ID             string   `json:"id"`
	DriverID       string   `json:"driver_id"`
	Route          []Coord  `json:"route"`
	Passengers     []string `json:"passengers"`
	AvailableSeats int      `json:"available_seats"`
	Capacity       int      `json:"capacity"`

	// terminal dispositions per client; a client appearing in any of these
	// may not request this ride again
	RejectedClients []string `json:"rejected_clients"`
	LeftClients     []string `json:"left_clients"`
	KickedClients   []string `json:"kicked_clients"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Ride) HasPassenger(clientID string) bool { return contains(r.Passengers, clientID) }

// TerminalDisposition reports whether the client was previously rejected for
// this ride, left it voluntarily, or was removed by the driver.
func (r *Ride) TerminalDisposition(clientID string) bool {
	return contains(r.RejectedClients, clientID) ||
		contains(r.LeftClients, clientID) ||
		contains(r.KickedClients, clientID)
}

// Participants returns the current occupants eligible to vote on a join
// request: the driver plus every seated passenger.
func (r *Ride) Participants() []Approval {
	out := make([]Approval, 0, 1+len(r.Passengers))
	out = append(out, Approval{VoterID: r.DriverID, Role: RoleDriver, Decision: DecisionUndecided})
	for _, p := range r.Passengers {
		out = append(out, Approval{VoterID: p, Role: RoleClient, Decision: DecisionUndecided})
	}
	return out
}

// JoinRequest is a pending rider's admission ballot for one ride.
type JoinRequest struct {
	ID        string        `json:"id"`
	RideID    string        `json:"ride_id"`
	ClientID  string        `json:"client_id"`
	Pickup    Coord         `json:"pickup"`
	Dropoff   Coord         `json:"dropoff"`
	Approvals []Approval    `json:"approvals"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// User is the minimal client/driver record the coordinator tracks.
type User struct {
	ID      string    `json:"id"`
	Role    Role      `json:"role"`
	InRide  string    `json:"in_ride,omitempty"` // ride id, empty when not aboard
	Pickup  Coord     `json:"pickup"`
	Dropoff Coord     `json:"dropoff"`
	Loc     Coord     `json:"loc"`
	Updated time.Time `json:"updated"`
}

// LocationUpdate is the kafka payload on the location ingest pipeline.
type LocationUpdate struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Loc    Coord  `json:"loc"`
}

type EventType string

const (
	EventRequestSubmitted EventType = "request_submitted"
	EventRequestAccepted  EventType = "request_accepted"
	EventRequestRejected  EventType = "request_rejected"
	EventRemovedFromRide  EventType = "removed_from_ride"
	EventRideEnded        EventType = "ride_ended"
)

// Event is pushed to connected participants on ride and join-request
// lifecycle changes.
type Event struct {
	Type      EventType `json:"type"`
	RideID    string    `json:"ride_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
