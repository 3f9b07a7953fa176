package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/models"
)

func TestMemoryRideStoreClones(t *testing.T) {
	s := NewMemoryRideStore()
	r := &models.Ride{ID: "r1", DriverID: "d1", Route: []models.Coord{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}, Capacity: 3, AvailableSeats: 3}
	if err := s.SaveRide(r); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRide("r1")
	if err != nil {
		t.Fatal(err)
	}
	got.Route[0] = models.Coord{Lat: 99, Lon: 99}
	got.Passengers = append(got.Passengers, "c1")

	again, err := s.GetRide("r1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Route[0].Lat == 99 || len(again.Passengers) != 0 {
		t.Fatal("store record leaked to a caller's copy")
	}
}

func TestMemoryRequestStoreTTL(t *testing.T) {
	s := NewMemoryRequestStore(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	q := &models.JoinRequest{ID: "q1", RideID: "r1", ClientID: "c1", Status: models.RequestPending, CreatedAt: now}
	if err := s.SaveRequest(q); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRequest("q1"); err != nil {
		t.Fatalf("fresh request should be visible: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.GetRequest("q1"); !errors.Is(err, apperrors.ErrRequestNotFound) {
		t.Fatalf("expired pending request must be invisible, got %v", err)
	}
	pend, err := s.PendingByRide("r1")
	if err != nil || len(pend) != 0 {
		t.Fatalf("expired request leaked into pending list: %v %v", pend, err)
	}
}

func TestMemoryRequestStoreResolvedNeverExpires(t *testing.T) {
	s := NewMemoryRequestStore(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	q := &models.JoinRequest{ID: "q1", RideID: "r1", ClientID: "c1", Status: models.RequestAccepted, CreatedAt: now}
	if err := s.SaveRequest(q); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if _, err := s.GetRequest("q1"); err != nil {
		t.Fatalf("resolved request must not expire: %v", err)
	}
}

func TestMemoryRequestStoreDeleteByClient(t *testing.T) {
	s := NewMemoryRequestStore(0)
	_ = s.SaveRequest(&models.JoinRequest{ID: "q1", RideID: "r1", ClientID: "c1", Status: models.RequestPending})
	_ = s.SaveRequest(&models.JoinRequest{ID: "q2", RideID: "r1", ClientID: "c2", Status: models.RequestPending})
	if err := s.DeleteByClient("r1", "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRequest("q1"); !errors.Is(err, apperrors.ErrRequestNotFound) {
		t.Fatal("q1 should be deleted")
	}
	if _, err := s.GetRequest("q2"); err != nil {
		t.Fatalf("q2 should survive: %v", err)
	}
}
