// Package rides owns ride lifecycle: creation, departures, driver removals,
// termination, and live location updates. Admission of new riders lives in
// the consensus package; this one calls back into it whenever an occupant
// departs so blocked requests get re-evaluated.
package rides

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sort"
	"time"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/consensus"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/locks"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/roster"
	"github.com/example/carpool/internal/storage"
)

type Service struct {
	Rides    storage.RideStore
	Requests storage.RequestStore
	Users    storage.UserStore
	Geo      geo.Geo
	Engine   *consensus.Engine
	Notifier dispatch.Notifier

	// RideLocks is shared with the consensus engine: one serialization
	// domain per ride id across both packages.
	RideLocks *locks.KeyedMutex

	Logger *slog.Logger
}

// Create starts a ride with an empty roster. The first route point is the
// driver's current position and stays index 0 for the ride's whole life.
func (s *Service) Create(ctx context.Context, driverID string, route []models.Coord, capacity int) (*models.Ride, error) {
	if capacity < 1 {
		return nil, apperrors.ErrInvalidCapacity
	}
	driver, err := s.Users.GetUser(driverID)
	if err != nil {
		return nil, err
	}
	if driver.Role != models.RoleDriver {
		return nil, apperrors.ErrInvalidRole
	}
	if driver.InRide != "" {
		return nil, apperrors.ErrAlreadyInRide
	}
	valid := geo.FilterValid(route)
	if len(valid) < 2 {
		return nil, apperrors.ErrRouteTooShort
	}

	r := &models.Ride{
		ID:             newID(),
		DriverID:       driverID,
		Route:          valid,
		AvailableSeats: capacity,
		Capacity:       capacity,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.Rides.SaveRide(r); err != nil {
		return nil, err
	}
	driver.InRide = r.ID
	if err := s.Users.UpdateUser(driver); err != nil {
		s.logger().Error("mark driver in ride", "driver", driverID, "error", err)
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.Rides.GetRide(rideID)
}

// List returns open rides, nearest driver first when a reference point is
// given and the location index knows the drivers.
func (s *Service) List(ctx context.Context, near *models.Coord, limit int) ([]*models.Ride, error) {
	all, err := s.Rides.ListRides()
	if err != nil {
		return nil, err
	}
	if near != nil && s.Geo != nil {
		rank := make(map[string]int)
		for i, e := range s.Geo.Nearby(near.Lat, near.Lon, limit) {
			rank[e.UserID] = i + 1
		}
		sort.SliceStable(all, func(i, j int) bool {
			ri, ok1 := rank[all[i].DriverID]
			rj, ok2 := rank[all[j].DriverID]
			if ok1 != ok2 {
				return ok1
			}
			return ri < rj
		})
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Leave handles a passenger's voluntary departure.
func (s *Service) Leave(ctx context.Context, rideID, clientID string) error {
	return s.depart(ctx, rideID, clientID, roster.ReasonLeft)
}

// Remove is the driver kicking a specific passenger out.
func (s *Service) Remove(ctx context.Context, rideID, driverID, clientID string) error {
	r, err := s.Rides.GetRide(rideID)
	if err != nil {
		return err
	}
	if r.DriverID != driverID {
		return apperrors.ErrNotRideDriver
	}
	if err := s.depart(ctx, rideID, clientID, roster.ReasonKicked); err != nil {
		return err
	}
	s.notify(clientID, models.Event{Type: models.EventRemovedFromRide, RideID: rideID, ClientID: clientID})
	return nil
}

func (s *Service) depart(ctx context.Context, rideID, clientID string, reason roster.DepartureReason) error {
	user, err := s.Users.GetUser(clientID)
	if err != nil {
		return err
	}
	if user.InRide != rideID {
		return apperrors.ErrNotInRide
	}

	s.RideLocks.Lock(rideID)
	r, err := s.Rides.GetRide(rideID)
	if err != nil {
		s.RideLocks.Unlock(rideID)
		return err
	}
	if err := roster.RemovePassenger(r, clientID, user.Pickup, user.Dropoff, reason); err != nil {
		s.RideLocks.Unlock(rideID)
		return err
	}
	if err := s.Rides.UpdateRide(r); err != nil {
		s.RideLocks.Unlock(rideID)
		return err
	}
	s.RideLocks.Unlock(rideID)

	user.InRide = ""
	user.Pickup = models.Coord{}
	user.Dropoff = models.Coord{}
	if err := s.Users.UpdateUser(user); err != nil {
		s.logger().Error("release departed user", "client", clientID, "error", err)
	}

	// cascade outside the ride lock: a delayed admission re-measures routes
	s.Engine.OnParticipantDeparture(ctx, rideID, clientID)
	return nil
}

// End tears a ride down: everyone aboard is released and every outstanding
// join request for the ride is discarded, pending or not.
func (s *Service) End(ctx context.Context, rideID, driverID string) error {
	s.RideLocks.Lock(rideID)
	defer s.RideLocks.Unlock(rideID)

	r, err := s.Rides.GetRide(rideID)
	if err != nil {
		return err
	}
	if r.DriverID != driverID {
		return apperrors.ErrNotRideDriver
	}

	for _, p := range r.Passengers {
		if u, err := s.Users.GetUser(p); err == nil {
			u.InRide = ""
			u.Pickup = models.Coord{}
			u.Dropoff = models.Coord{}
			if err := s.Users.UpdateUser(u); err != nil {
				s.logger().Error("release passenger on ride end", "client", p, "error", err)
			}
		}
		s.notify(p, models.Event{Type: models.EventRideEnded, RideID: rideID})
	}
	if driver, err := s.Users.GetUser(driverID); err == nil {
		driver.InRide = ""
		if err := s.Users.UpdateUser(driver); err != nil {
			s.logger().Error("release driver on ride end", "driver", driverID, "error", err)
		}
	}

	if pend, err := s.Requests.PendingByRide(rideID); err == nil {
		observability.PendingRequests.Sub(float64(len(pend)))
	}
	if err := s.Requests.DeleteByRide(rideID); err != nil {
		return err
	}
	return s.Rides.DeleteRide(rideID)
}

// UpdateLocation records a user's position. A driver's update also rewrites
// index 0 of their live ride's route, keeping future insertion searches
// anchored at the vehicle's real position.
func (s *Service) UpdateLocation(ctx context.Context, userID string, role models.Role, loc models.Coord) error {
	if role != models.RoleDriver && role != models.RoleClient {
		return apperrors.ErrInvalidRole
	}
	if !geo.Valid(loc) {
		return apperrors.ErrInvalidCoordinate
	}
	user, err := s.Users.GetUser(userID)
	if err != nil {
		return err
	}
	user.Loc = loc
	user.Updated = time.Now()
	if err := s.Users.UpdateUser(user); err != nil {
		return err
	}
	if s.Geo != nil {
		s.Geo.Upsert(geo.Entry{UserID: userID, Role: role, Loc: loc})
	}

	if role == models.RoleDriver && user.InRide != "" {
		s.RideLocks.Lock(user.InRide)
		defer s.RideLocks.Unlock(user.InRide)
		r, err := s.Rides.GetRide(user.InRide)
		if err != nil {
			return err
		}
		if len(r.Route) > 0 {
			r.Route[0] = loc
			return s.Rides.UpdateRide(r)
		}
	}
	return nil
}

func (s *Service) notify(userID string, ev models.Event) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(userID, ev); err != nil {
		s.logger().Debug("notify failed", "user", userID, "type", ev.Type, "error", err)
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// local id helper, same shape the other packages use
func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
