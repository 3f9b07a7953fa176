package storage

import (
	"sync"
	"time"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/models"
)

// RideStore defines persistence operations for rides. Read-modify-write is
// race-free only when callers serialize mutations per ride id.
type RideStore interface {
	SaveRide(r *models.Ride) error
	GetRide(id string) (*models.Ride, error)
	UpdateRide(r *models.Ride) error
	DeleteRide(id string) error
	ListRides() ([]*models.Ride, error)
}

// RequestStore defines persistence for join requests. Pending requests have a
// bounded lifetime enforced by the store itself: expired records are simply
// invisible, mirroring a record-level TTL. Resolved requests never expire.
type RequestStore interface {
	SaveRequest(q *models.JoinRequest) error
	GetRequest(id string) (*models.JoinRequest, error)
	UpdateRequest(q *models.JoinRequest) error
	DeleteRequest(id string) error
	PendingByRide(rideID string) ([]*models.JoinRequest, error)
	DeleteByRide(rideID string) error
	DeleteByClient(rideID, clientID string) error
}

type UserStore interface {
	SaveUser(u *models.User) error
	GetUser(id string) (*models.User, error)
	UpdateUser(u *models.User) error
}

type MemoryRideStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryRideStore() *MemoryRideStore {
	return &MemoryRideStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryRideStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryRideStore) GetRide(id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, apperrors.ErrRideNotFound
	}
	return cloneRide(r), nil
}

func (m *MemoryRideStore) UpdateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return apperrors.ErrRideNotFound
	}
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryRideStore) DeleteRide(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rides, id)
	return nil
}

func (m *MemoryRideStore) ListRides() ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		out = append(out, cloneRide(r))
	}
	return out, nil
}

type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]*models.JoinRequest
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryRequestStore builds a request store whose pending records expire
// ttl after creation. ttl <= 0 disables expiry.
func NewMemoryRequestStore(ttl time.Duration) *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]*models.JoinRequest), ttl: ttl, now: time.Now}
}

func (m *MemoryRequestStore) expired(q *models.JoinRequest) bool {
	return m.ttl > 0 && q.Status == models.RequestPending && m.now().Sub(q.CreatedAt) > m.ttl
}

func (m *MemoryRequestStore) SaveRequest(q *models.JoinRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[q.ID] = cloneRequest(q)
	return nil
}

func (m *MemoryRequestStore) GetRequest(id string) (*models.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.requests[id]
	if !ok {
		return nil, apperrors.ErrRequestNotFound
	}
	if m.expired(q) {
		delete(m.requests, id)
		return nil, apperrors.ErrRequestNotFound
	}
	return cloneRequest(q), nil
}

func (m *MemoryRequestStore) UpdateRequest(q *models.JoinRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.requests[q.ID]
	if !ok || m.expired(old) {
		delete(m.requests, q.ID)
		return apperrors.ErrRequestNotFound
	}
	m.requests[q.ID] = cloneRequest(q)
	return nil
}

func (m *MemoryRequestStore) DeleteRequest(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
	return nil
}

func (m *MemoryRequestStore) PendingByRide(rideID string) ([]*models.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JoinRequest
	for id, q := range m.requests {
		if q.RideID != rideID || q.Status != models.RequestPending {
			continue
		}
		if m.expired(q) {
			delete(m.requests, id)
			continue
		}
		out = append(out, cloneRequest(q))
	}
	return out, nil
}

func (m *MemoryRequestStore) DeleteByRide(rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, q := range m.requests {
		if q.RideID == rideID {
			delete(m.requests, id)
		}
	}
	return nil
}

func (m *MemoryRequestStore) DeleteByClient(rideID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, q := range m.requests {
		if q.RideID == rideID && q.ClientID == clientID {
			delete(m.requests, id)
		}
	}
	return nil
}

type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*models.User)}
}

func (m *MemoryUserStore) SaveUser(u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryUserStore) GetUser(id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryUserStore) UpdateUser(u *models.User) error {
	return m.SaveUser(u)
}

// clones keep callers' read-modify-write cycles off the store's own records
func cloneRide(r *models.Ride) *models.Ride {
	cp := *r
	cp.Route = append([]models.Coord(nil), r.Route...)
	cp.Passengers = append([]string(nil), r.Passengers...)
	cp.RejectedClients = append([]string(nil), r.RejectedClients...)
	cp.LeftClients = append([]string(nil), r.LeftClients...)
	cp.KickedClients = append([]string(nil), r.KickedClients...)
	return &cp
}

func cloneRequest(q *models.JoinRequest) *models.JoinRequest {
	cp := *q
	cp.Approvals = append([]models.Approval(nil), q.Approvals...)
	return &cp
}
