package roster

import (
	"errors"
	"testing"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/models"
)

var (
	drv = models.Coord{Lat: 0, Lon: 0}
	p1  = models.Coord{Lat: 1, Lon: 1}
	d1  = models.Coord{Lat: 2, Lon: 2}
	end = models.Coord{Lat: 9, Lon: 9}
)

func ride() *models.Ride {
	return &models.Ride{
		ID: "r1", DriverID: "drv", Capacity: 2, AvailableSeats: 2,
		Route: []models.Coord{drv, end},
	}
}

func TestAddPassengerKeepsSeatInvariant(t *testing.T) {
	r := ride()
	if err := AddPassenger(r, "c1"); err != nil {
		t.Fatal(err)
	}
	if r.AvailableSeats+len(r.Passengers) != r.Capacity {
		t.Fatalf("invariant broken: seats=%d passengers=%d cap=%d", r.AvailableSeats, len(r.Passengers), r.Capacity)
	}
}

func TestAddPassengerAtZeroSeats(t *testing.T) {
	r := ride()
	r.AvailableSeats = 0
	r.Capacity = 0
	if err := AddPassenger(r, "c1"); !errors.Is(err, apperrors.ErrSeatsExhausted) {
		t.Fatalf("expected ErrSeatsExhausted, got %v", err)
	}
	if len(r.Passengers) != 0 || r.AvailableSeats != 0 {
		t.Fatal("failed add must not mutate the ride")
	}
}

func TestRemovePassengerExcisesStops(t *testing.T) {
	r := ride()
	if err := AddPassenger(r, "c1"); err != nil {
		t.Fatal(err)
	}
	r.Route = []models.Coord{drv, p1, d1, end}

	if err := RemovePassenger(r, "c1", p1, d1, ReasonLeft); err != nil {
		t.Fatal(err)
	}
	if len(r.Route) != 2 || r.Route[0] != drv || r.Route[1] != end {
		t.Fatalf("stops not excised: %v", r.Route)
	}
	if r.AvailableSeats != 2 {
		t.Fatalf("seat not freed: %d", r.AvailableSeats)
	}
	if !r.TerminalDisposition("c1") {
		t.Fatal("left client not recorded")
	}
	if len(r.KickedClients) != 0 {
		t.Fatal("voluntary leave must not record a kick")
	}
}

func TestRemovePassengerKickRecordsKick(t *testing.T) {
	r := ride()
	_ = AddPassenger(r, "c1")
	r.Route = []models.Coord{drv, p1, d1, end}
	if err := RemovePassenger(r, "c1", p1, d1, ReasonKicked); err != nil {
		t.Fatal(err)
	}
	if len(r.KickedClients) != 1 || r.KickedClients[0] != "c1" {
		t.Fatalf("kick not recorded: %v", r.KickedClients)
	}
}

func TestExciseRemovesAtMostOneMatchEach(t *testing.T) {
	r := ride()
	_ = AddPassenger(r, "c1")
	_ = AddPassenger(r, "c2") // but capacity 2, ok
	// two passengers sharing the same pickup coordinate
	r.Route = []models.Coord{drv, p1, p1, d1, d1, end}
	if err := RemovePassenger(r, "c1", p1, d1, ReasonLeft); err != nil {
		t.Fatal(err)
	}
	if len(r.Route) != 4 {
		t.Fatalf("expected one pickup and one dropoff removed, got %v", r.Route)
	}
}

func TestExciseNeverTouchesDriverPosition(t *testing.T) {
	r := ride()
	_ = AddPassenger(r, "c1")
	// pickup coincides with the driver's current position
	r.Route = []models.Coord{drv, drv, d1, end}
	if err := RemovePassenger(r, "c1", drv, d1, ReasonLeft); err != nil {
		t.Fatal(err)
	}
	if r.Route[0] != drv {
		t.Fatalf("driver position removed: %v", r.Route)
	}
	if len(r.Route) != 2 {
		t.Fatalf("expected excision after index 0 only: %v", r.Route)
	}
}

func TestRemoveUnknownPassenger(t *testing.T) {
	r := ride()
	if err := RemovePassenger(r, "ghost", p1, d1, ReasonLeft); !errors.Is(err, apperrors.ErrNotInRide) {
		t.Fatalf("expected ErrNotInRide, got %v", err)
	}
}

func TestCheckFlagsNegativeSeats(t *testing.T) {
	r := ride()
	r.AvailableSeats = -1
	if err := Check(r); !errors.Is(err, apperrors.ErrSeatInvariant) {
		t.Fatalf("expected ErrSeatInvariant, got %v", err)
	}
}
