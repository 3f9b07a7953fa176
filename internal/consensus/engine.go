// Package consensus runs the multi-party admission protocol for join
// requests: every current occupant of the vehicle must approve a new rider,
// one veto is terminal, and approvals left behind by departing occupants are
// re-evaluated so a rider blocked only by someone who has since left still
// gets admitted.
package consensus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/locks"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/optimizer"
	"github.com/example/carpool/internal/roster"
	"github.com/example/carpool/internal/routing"
	"github.com/example/carpool/internal/storage"
)

// ErrRideChanged: the ride's route moved repeatedly while the optimizer was
// measuring, so the admission stays pending for a later attempt.
var ErrRideChanged = errors.New("consensus: ride changed during admission")

// admitAttempts bounds how often an admission re-measures after finding the
// route changed underneath the oracle call.
const admitAttempts = 2

// Engine coordinates join-request submission, voting, and the departure
// cascade. Lock discipline: a ride lock is never held across an oracle call,
// a request lock may wrap a ride lock but never another request lock.
type Engine struct {
	Rides    storage.RideStore
	Requests storage.RequestStore
	Users    storage.UserStore
	Oracle   routing.Oracle
	Notifier dispatch.Notifier

	RideLocks    *locks.KeyedMutex
	RequestLocks *locks.KeyedMutex

	// OptimizerDeadline bounds the whole O(n^2) insertion search per admission.
	OptimizerDeadline time.Duration

	Logger *slog.Logger
}

// Submit creates a pending join request whose ballot snapshots the ride's
// current participant set: the driver plus every seated passenger.
func (e *Engine) Submit(ctx context.Context, rideID, clientID string, pickup, dropoff models.Coord) (*models.JoinRequest, error) {
	if !geo.Valid(pickup) || !geo.Valid(dropoff) {
		return nil, apperrors.ErrInvalidCoordinate
	}

	user, err := e.Users.GetUser(clientID)
	if err != nil {
		return nil, err
	}
	if user.InRide != "" {
		return nil, apperrors.ErrAlreadyInRide
	}

	e.RideLocks.Lock(rideID)
	defer e.RideLocks.Unlock(rideID)

	ride, err := e.Rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	if ride.TerminalDisposition(clientID) {
		return nil, apperrors.ErrPriorDisposition
	}
	if ride.HasPassenger(clientID) {
		return nil, apperrors.ErrAlreadyAboard
	}
	if ride.AvailableSeats <= 0 {
		return nil, apperrors.ErrNoSeats
	}
	pending, err := e.Requests.PendingByRide(rideID)
	if err != nil {
		return nil, err
	}
	for _, q := range pending {
		if q.ClientID == clientID {
			return nil, apperrors.ErrDuplicatePending
		}
	}

	q := &models.JoinRequest{
		ID:        newID(),
		RideID:    rideID,
		ClientID:  clientID,
		Pickup:    pickup,
		Dropoff:   dropoff,
		Approvals: ride.Participants(),
		Status:    models.RequestPending,
		CreatedAt: time.Now(),
	}
	if err := e.Requests.SaveRequest(q); err != nil {
		return nil, err
	}

	observability.JoinRequestsTotal.Inc()
	observability.PendingRequests.Inc()
	for _, a := range q.Approvals {
		e.notify(a.VoterID, models.Event{Type: models.EventRequestSubmitted, RideID: rideID, RequestID: q.ID, ClientID: clientID})
	}
	return q, nil
}

// CastVote records one participant's ballot, exactly once. A denial rejects
// the request immediately; the last approval triggers admission. The ballot
// is persisted even when admission defers, so the vote is never lost.
func (e *Engine) CastVote(ctx context.Context, requestID, voterID string, approve bool) (*models.JoinRequest, error) {
	e.RequestLocks.Lock(requestID)
	q, err := e.castVoteLocked(ctx, requestID, voterID, approve)
	e.RequestLocks.Unlock(requestID)
	if err != nil {
		return q, err
	}
	if q.Status == models.RequestAccepted {
		e.afterAdmission(ctx, q)
	}
	return q, nil
}

func (e *Engine) castVoteLocked(ctx context.Context, requestID, voterID string, approve bool) (*models.JoinRequest, error) {
	q, err := e.Requests.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if q.Status != models.RequestPending {
		return q, apperrors.ErrRequestResolved
	}
	i := ballotIndex(q.Approvals, voterID)
	if i < 0 {
		return q, apperrors.ErrNotAParticipant
	}
	if q.Approvals[i].Decision != models.DecisionUndecided {
		return q, apperrors.ErrAlreadyVoted
	}

	if approve {
		q.Approvals[i].Decision = models.DecisionApproved
	} else {
		q.Approvals[i].Decision = models.DecisionDenied
	}

	switch recomputeBallotStatus(q.Approvals) {
	case models.RequestRejected:
		q.Status = models.RequestRejected
		if err := e.Requests.UpdateRequest(q); err != nil {
			return q, err
		}
		e.recordRejection(q)
		observability.VetoesTotal.Inc()
		observability.PendingRequests.Dec()
		e.notify(q.ClientID, models.Event{Type: models.EventRequestRejected, RideID: q.RideID, RequestID: q.ID, ClientID: q.ClientID})
		return q, nil
	case models.RequestAccepted:
		// persist the ballot first so the vote survives a deferred admission
		if err := e.Requests.UpdateRequest(q); err != nil {
			return q, err
		}
		if err := e.tryAdmit(ctx, q); err != nil {
			return q, err
		}
		return q, nil
	default:
		return q, e.Requests.UpdateRequest(q)
	}
}

// recordRejection blocks the client from re-requesting this ride.
func (e *Engine) recordRejection(q *models.JoinRequest) {
	e.RideLocks.Lock(q.RideID)
	defer e.RideLocks.Unlock(q.RideID)
	ride, err := e.Rides.GetRide(q.RideID)
	if err != nil {
		return
	}
	ride.RejectedClients = append(ride.RejectedClients, q.ClientID)
	if err := e.Rides.UpdateRide(ride); err != nil {
		e.logger().Error("record rejection", "ride", q.RideID, "client", q.ClientID, "error", err)
	}
}

// tryAdmit runs the admission path for a unanimously approved request: seat
// re-check, optimizer run against the live route, commit under the ride lock.
// Any failure leaves the request pending; it is never silently rejected.
// Called with the request's lock held.
func (e *Engine) tryAdmit(ctx context.Context, q *models.JoinRequest) error {
	for attempt := 0; attempt < admitAttempts; attempt++ {
		e.RideLocks.Lock(q.RideID)
		ride, err := e.Rides.GetRide(q.RideID)
		if err != nil {
			e.RideLocks.Unlock(q.RideID)
			return err
		}
		if ride.AvailableSeats <= 0 {
			e.RideLocks.Unlock(q.RideID)
			observability.DeferredTotal.Inc()
			return apperrors.ErrSeatsExhausted
		}
		snapshot := append([]models.Coord(nil), ride.Route...)
		e.RideLocks.Unlock(q.RideID)

		// the oracle round-trips happen with no lock held
		optCtx := ctx
		if e.OptimizerDeadline > 0 {
			var cancel context.CancelFunc
			optCtx, cancel = context.WithTimeout(ctx, e.OptimizerDeadline)
			defer cancel()
		}
		ins, err := optimizer.BestInsertion(optCtx, e.Oracle, snapshot, q.Pickup, q.Dropoff)
		if err != nil {
			observability.DeferredTotal.Inc()
			e.logger().Warn("admission deferred, optimizer failed", "request", q.ID, "error", err)
			return err
		}

		e.RideLocks.Lock(q.RideID)
		ride, err = e.Rides.GetRide(q.RideID)
		if err != nil {
			e.RideLocks.Unlock(q.RideID)
			return err
		}
		// validate the measurement against live state before committing
		if ride.AvailableSeats <= 0 {
			e.RideLocks.Unlock(q.RideID)
			observability.DeferredTotal.Inc()
			return apperrors.ErrSeatsExhausted
		}
		if !sameRoute(ride.Route, snapshot) {
			e.RideLocks.Unlock(q.RideID)
			continue
		}
		if err := roster.AddPassenger(ride, q.ClientID); err != nil {
			e.RideLocks.Unlock(q.RideID)
			return err
		}
		ride.Route = ins.Route
		if err := e.Rides.UpdateRide(ride); err != nil {
			e.RideLocks.Unlock(q.RideID)
			return err
		}
		e.RideLocks.Unlock(q.RideID)

		if u, err := e.Users.GetUser(q.ClientID); err == nil {
			u.InRide = q.RideID
			u.Pickup = q.Pickup
			u.Dropoff = q.Dropoff
			if err := e.Users.UpdateUser(u); err != nil {
				e.logger().Error("update admitted user", "client", q.ClientID, "error", err)
			}
		}

		q.Status = models.RequestAccepted
		if err := e.Requests.UpdateRequest(q); err != nil {
			return err
		}
		observability.AdmissionsTotal.Inc()
		observability.PendingRequests.Dec()
		return nil
	}
	observability.DeferredTotal.Inc()
	return ErrRideChanged
}

// afterAdmission runs with no locks held: the newly seated passenger becomes
// a voter on every other still-pending request for the ride.
func (e *Engine) afterAdmission(ctx context.Context, q *models.JoinRequest) {
	pending, err := e.Requests.PendingByRide(q.RideID)
	if err != nil {
		e.logger().Error("list pending after admission", "ride", q.RideID, "error", err)
	}
	for _, other := range pending {
		if other.ID == q.ID || other.ClientID == q.ClientID {
			continue
		}
		e.RequestLocks.Lock(other.ID)
		fresh, err := e.Requests.GetRequest(other.ID)
		if err == nil && fresh.Status == models.RequestPending && ballotIndex(fresh.Approvals, q.ClientID) < 0 {
			fresh.Approvals = append(fresh.Approvals, models.Approval{VoterID: q.ClientID, Role: models.RoleClient, Decision: models.DecisionUndecided})
			if err := e.Requests.UpdateRequest(fresh); err != nil {
				e.logger().Error("extend ballot", "request", other.ID, "error", err)
			}
		}
		e.RequestLocks.Unlock(other.ID)
	}
	e.notify(q.ClientID, models.Event{Type: models.EventRequestAccepted, RideID: q.RideID, RequestID: q.ID, ClientID: q.ClientID})
}

// OnParticipantDeparture reworks the ride's pending requests after a client
// leaves or is removed: the departer's own requests are deleted, their ballot
// entries disappear from everyone else's requests, and any request that
// became unanimously approved by that removal is admitted late. The caller
// must not hold the ride's lock.
func (e *Engine) OnParticipantDeparture(ctx context.Context, rideID, departedClientID string) {
	if err := e.Requests.DeleteByClient(rideID, departedClientID); err != nil {
		e.logger().Error("delete departing client requests", "ride", rideID, "client", departedClientID, "error", err)
	}

	pending, err := e.Requests.PendingByRide(rideID)
	if err != nil {
		e.logger().Error("list pending on departure", "ride", rideID, "error", err)
		return
	}
	for _, q := range pending {
		admitted := false
		e.RequestLocks.Lock(q.ID)
		fresh, err := e.Requests.GetRequest(q.ID)
		if err == nil && fresh.Status == models.RequestPending {
			approvals, removed := removeBallot(fresh.Approvals, departedClientID)
			if removed {
				fresh.Approvals = approvals
				if err := e.Requests.UpdateRequest(fresh); err != nil {
					e.logger().Error("shrink ballot", "request", fresh.ID, "error", err)
				} else if recomputeBallotStatus(fresh.Approvals) == models.RequestAccepted {
					if err := e.tryAdmit(ctx, fresh); err != nil {
						e.logger().Warn("delayed admission deferred", "request", fresh.ID, "error", err)
					} else {
						admitted = true
					}
				}
			}
		}
		e.RequestLocks.Unlock(q.ID)
		if admitted {
			e.afterAdmission(ctx, fresh)
		}
	}
}

// AnnotatedRequest is a pending request plus the insertion the optimizer
// would commit right now; the annotation is nil while the oracle is down.
type AnnotatedRequest struct {
	Request   *models.JoinRequest  `json:"request"`
	Insertion *optimizer.Insertion `json:"insertion,omitempty"`
}

// PendingForRide lists the ride's pending requests, each annotated with its
// would-be optimized insertion computed on demand.
func (e *Engine) PendingForRide(ctx context.Context, rideID string) ([]AnnotatedRequest, error) {
	ride, err := e.Rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	pending, err := e.Requests.PendingByRide(rideID)
	if err != nil {
		return nil, err
	}
	out := make([]AnnotatedRequest, 0, len(pending))
	for _, q := range pending {
		ar := AnnotatedRequest{Request: q}
		optCtx := ctx
		if e.OptimizerDeadline > 0 {
			var cancel context.CancelFunc
			optCtx, cancel = context.WithTimeout(ctx, e.OptimizerDeadline)
			defer cancel()
		}
		if ins, err := optimizer.BestInsertion(optCtx, e.Oracle, ride.Route, q.Pickup, q.Dropoff); err == nil {
			ar.Insertion = &ins
		}
		out = append(out, ar)
	}
	return out, nil
}

func (e *Engine) notify(userID string, ev models.Event) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(userID, ev); err != nil {
		e.logger().Debug("notify failed", "user", userID, "type", ev.Type, "error", err)
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func sameRoute(a, b []models.Coord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
