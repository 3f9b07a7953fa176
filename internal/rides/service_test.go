package rides

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/consensus"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/locks"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/routing"
	"github.com/example/carpool/internal/storage"
)

var (
	ptA = models.Coord{Lat: 0, Lon: 0}
	ptB = models.Coord{Lat: 0, Lon: 1}
	ptP = models.Coord{Lat: 0.2, Lon: 0.3}
	ptD = models.Coord{Lat: 0.2, Lon: 0.7}
)

type fixture struct {
	svc    *Service
	rides  *storage.MemoryRideStore
	reqs   *storage.MemoryRequestStore
	users  *storage.MemoryUserStore
	engine *consensus.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rides: storage.NewMemoryRideStore(),
		reqs:  storage.NewMemoryRequestStore(0),
		users: storage.NewMemoryUserStore(),
	}
	rideLocks := locks.NewKeyedMutex()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = &consensus.Engine{
		Rides:        f.rides,
		Requests:     f.reqs,
		Users:        f.users,
		Oracle:       routing.HaversineOracle{SpeedMps: 10},
		RideLocks:    rideLocks,
		RequestLocks: locks.NewKeyedMutex(),
		Logger:       logger,
	}
	f.svc = &Service{
		Rides:     f.rides,
		Requests:  f.reqs,
		Users:     f.users,
		Geo:       geo.NewIndex(),
		Engine:    f.engine,
		RideLocks: rideLocks,
		Logger:    logger,
	}
	return f
}

func (f *fixture) seedDriver(t *testing.T, id string) {
	t.Helper()
	_ = f.users.SaveUser(&models.User{ID: id, Role: models.RoleDriver})
}

func (f *fixture) seedClient(t *testing.T, id string) {
	t.Helper()
	_ = f.users.SaveUser(&models.User{ID: id, Role: models.RoleClient})
}

func TestCreateRide(t *testing.T) {
	f := newFixture(t)
	f.seedDriver(t, "drv")

	r, err := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, ptB}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if r.AvailableSeats != 3 || r.Capacity != 3 || len(r.Passengers) != 0 {
		t.Fatalf("fresh ride misconfigured: %+v", r)
	}
	u, _ := f.users.GetUser("drv")
	if u.InRide != r.ID {
		t.Fatal("driver not marked in ride")
	}

	// a driver already in a ride cannot start another
	if _, err := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, ptB}, 2); !errors.Is(err, apperrors.ErrAlreadyInRide) {
		t.Fatalf("expected ErrAlreadyInRide, got %v", err)
	}
}

func TestCreateRideValidation(t *testing.T) {
	f := newFixture(t)
	f.seedDriver(t, "drv")
	f.seedClient(t, "c1")

	if _, err := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, ptB}, 0); !errors.Is(err, apperrors.ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
	if _, err := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, {Lat: 999, Lon: 0}}, 2); !errors.Is(err, apperrors.ErrRouteTooShort) {
		t.Fatalf("expected ErrRouteTooShort after filtering, got %v", err)
	}
	if _, err := f.svc.Create(context.Background(), "c1", []models.Coord{ptA, ptB}, 2); !errors.Is(err, apperrors.ErrInvalidRole) {
		t.Fatalf("clients cannot create rides, got %v", err)
	}
}

// seat a passenger through the real admission path
func (f *fixture) admit(t *testing.T, rideID, clientID string) {
	t.Helper()
	q, err := f.engine.Submit(context.Background(), rideID, clientID, ptP, ptD)
	if err != nil {
		t.Fatal(err)
	}
	r, _ := f.rides.GetRide(rideID)
	voters := append([]string{r.DriverID}, r.Passengers...)
	for _, v := range voters {
		if _, err := f.engine.CastVote(context.Background(), q.ID, v, true); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLeaveRestoresSeatAndExcisesStops(t *testing.T) {
	f := newFixture(t)
	f.seedDriver(t, "drv")
	f.seedClient(t, "c1")
	r, _ := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, ptB}, 2)
	f.admit(t, r.ID, "c1")

	if err := f.svc.Leave(context.Background(), r.ID, "c1"); err != nil {
		t.Fatal(err)
	}
	got, _ := f.rides.GetRide(r.ID)
	if got.HasPassenger("c1") || got.AvailableSeats != 2 {
		t.Fatalf("leave did not restore the roster: %+v", got)
	}
	if len(got.Route) != 2 {
		t.Fatalf("pickup/dropoff stops not excised: %v", got.Route)
	}
	if !got.TerminalDisposition("c1") {
		t.Fatal("left client not recorded")
	}
	u, _ := f.users.GetUser("c1")
	if u.InRide != "" {
		t.Fatal("user still marked aboard")
	}

	// a left client may not request the same ride again
	if _, err := f.engine.Submit(context.Background(), r.ID, "c1", ptP, ptD); !errors.Is(err, apperrors.ErrPriorDisposition) {
		t.Fatalf("expected ErrPriorDisposition, got %v", err)
	}
}

func TestRemoveRequiresOwningDriver(t *testing.T) {
	f := newFixture(t)
	f.seedDriver(t, "drv")
	f.seedClient(t, "c1")
	r, _ := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, ptB}, 2)
	f.admit(t, r.ID, "c1")

	if err := f.svc.Remove(context.Background(), r.ID, "impostor", "c1"); !errors.Is(err, apperrors.ErrNotRideDriver) {
		t.Fatalf("expected ErrNotRideDriver, got %v", err)
	}
	if err := f.svc.Remove(context.Background(), r.ID, "drv", "c1"); err != nil {
		t.Fatal(err)
	}
	got, _ := f.rides.GetRide(r.ID)
	if len(got.KickedClients) != 1 || got.KickedClients[0] != "c1" {
		t.Fatalf("kick not recorded: %v", got.KickedClients)
	}
}

func TestDepartureCascadeAdmitsBlockedRequest(t *testing.T) {
	f := newFixture(t)
	f.seedDriver(t, "drv")
	f.seedClient(t, "c1")
	f.seedClient(t, "c2")
	r, _ := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, ptB}, 2)
	f.admit(t, r.ID, "c1")

	// c2's request is approved by the driver but c1 never votes
	q, err := f.engine.Submit(context.Background(), r.ID, "c2", ptP, ptD)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.CastVote(context.Background(), q.ID, "drv", true); err != nil {
		t.Fatal(err)
	}

	// c1 leaving both frees the seat and clears the blocking ballot
	if err := f.svc.Leave(context.Background(), r.ID, "c1"); err != nil {
		t.Fatal(err)
	}
	fresh, err := f.reqs.GetRequest(q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != models.RequestAccepted {
		t.Fatalf("blocked request must be admitted after the objector departs, got %s", fresh.Status)
	}
	got, _ := f.rides.GetRide(r.ID)
	if !got.HasPassenger("c2") {
		t.Fatal("c2 not seated after delayed admission")
	}
	if got.AvailableSeats+len(got.Passengers) != got.Capacity {
		t.Fatal("seat invariant broken across departure + delayed admission")
	}
}

func TestEndRideReleasesEveryoneAndDiscardsRequests(t *testing.T) {
	f := newFixture(t)
	f.seedDriver(t, "drv")
	f.seedClient(t, "c1")
	f.seedClient(t, "c2")
	r, _ := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, ptB}, 3)
	f.admit(t, r.ID, "c1")
	q, _ := f.engine.Submit(context.Background(), r.ID, "c2", ptP, ptD)

	if err := f.svc.End(context.Background(), r.ID, "impostor"); !errors.Is(err, apperrors.ErrNotRideDriver) {
		t.Fatalf("expected ErrNotRideDriver, got %v", err)
	}
	if err := f.svc.End(context.Background(), r.ID, "drv"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.rides.GetRide(r.ID); !errors.Is(err, apperrors.ErrRideNotFound) {
		t.Fatal("ride must be gone")
	}
	if _, err := f.reqs.GetRequest(q.ID); !errors.Is(err, apperrors.ErrRequestNotFound) {
		t.Fatal("pending requests must be discarded on ride end")
	}
	for _, id := range []string{"drv", "c1"} {
		u, _ := f.users.GetUser(id)
		if u.InRide != "" {
			t.Fatalf("%s still marked in ride", id)
		}
	}
}

func TestUpdateLocationMovesRouteAnchor(t *testing.T) {
	f := newFixture(t)
	f.seedDriver(t, "drv")
	r, _ := f.svc.Create(context.Background(), "drv", []models.Coord{ptA, ptB}, 2)

	newLoc := models.Coord{Lat: 0.5, Lon: 0.5}
	if err := f.svc.UpdateLocation(context.Background(), "drv", models.RoleDriver, newLoc); err != nil {
		t.Fatal(err)
	}
	got, _ := f.rides.GetRide(r.ID)
	if got.Route[0] != newLoc {
		t.Fatalf("driver position must anchor the route, got %v", got.Route[0])
	}
	if got.Route[1] != ptB {
		t.Fatal("only index 0 may move on a location update")
	}

	if err := f.svc.UpdateLocation(context.Background(), "drv", "pilot", newLoc); !errors.Is(err, apperrors.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if err := f.svc.UpdateLocation(context.Background(), "drv", models.RoleDriver, models.Coord{Lat: 91}); !errors.Is(err, apperrors.ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
}
