package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/models"
)

// PostgresStore persists rides, join requests, and users in one database.
// Pending join requests carry an expires_at column; queries filter expired
// rows so a timed-out request is simply gone, TTL-style.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewPostgresStore(dsn string, requestTTL time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, ttl: requestTTL}, nil
}

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	route, err := json.Marshal(r.Route)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`INSERT INTO rides(id, driver_id, route, passengers, available_seats, capacity, rejected_clients, left_clients, kicked_clients, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.DriverID, route, pq.Array(r.Passengers), r.AvailableSeats, r.Capacity,
		pq.Array(r.RejectedClients), pq.Array(r.LeftClients), pq.Array(r.KickedClients), r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(id string) (*models.Ride, error) {
	row := p.db.QueryRow(`SELECT id, driver_id, route, passengers, available_seats, capacity, rejected_clients, left_clients, kicked_clients, created_at, updated_at FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	route, err := json.Marshal(r.Route)
	if err != nil {
		return err
	}
	res, err := p.db.Exec(`UPDATE rides SET route=$1, passengers=$2, available_seats=$3, rejected_clients=$4, left_clients=$5, kicked_clients=$6, updated_at=$7 WHERE id=$8`,
		route, pq.Array(r.Passengers), r.AvailableSeats,
		pq.Array(r.RejectedClients), pq.Array(r.LeftClients), pq.Array(r.KickedClients), time.Now(), r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrRideNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteRide(id string) error {
	_, err := p.db.Exec(`DELETE FROM rides WHERE id=$1`, id)
	return err
}

func (p *PostgresStore) ListRides() ([]*models.Ride, error) {
	rows, err := p.db.Query(`SELECT id, driver_id, route, passengers, available_seats, capacity, rejected_clients, left_clients, kicked_clients, created_at, updated_at FROM rides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var route []byte
	err := row.Scan(&r.ID, &r.DriverID, &route, pq.Array(&r.Passengers), &r.AvailableSeats, &r.Capacity,
		pq.Array(&r.RejectedClients), pq.Array(&r.LeftClients), pq.Array(&r.KickedClients), &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(route, &r.Route); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) SaveRequest(q *models.JoinRequest) error {
	approvals, err := json.Marshal(q.Approvals)
	if err != nil {
		return err
	}
	var expires *time.Time
	if p.ttl > 0 {
		t := q.CreatedAt.Add(p.ttl)
		expires = &t
	}
	_, err = p.db.Exec(`INSERT INTO join_requests(id, ride_id, client_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, approvals, status, created_at, expires_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		q.ID, q.RideID, q.ClientID, q.Pickup.Lat, q.Pickup.Lon, q.Dropoff.Lat, q.Dropoff.Lon, approvals, q.Status, q.CreatedAt, expires)
	return err
}

const requestCols = `id, ride_id, client_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, approvals, status, created_at`

// live filters out pending rows past their expiry; resolved rows never expire
const liveRequest = `(status <> 'pending' OR expires_at IS NULL OR expires_at > now())`

func (p *PostgresStore) GetRequest(id string) (*models.JoinRequest, error) {
	row := p.db.QueryRow(`SELECT `+requestCols+` FROM join_requests WHERE id=$1 AND `+liveRequest, id)
	return scanRequest(row)
}

func (p *PostgresStore) UpdateRequest(q *models.JoinRequest) error {
	approvals, err := json.Marshal(q.Approvals)
	if err != nil {
		return err
	}
	// resolving a request clears its expiry
	res, err := p.db.Exec(`UPDATE join_requests SET approvals=$1, status=$2, expires_at=CASE WHEN $2 <> 'pending' THEN NULL ELSE expires_at END WHERE id=$3 AND `+liveRequest,
		approvals, q.Status, q.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrRequestNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteRequest(id string) error {
	_, err := p.db.Exec(`DELETE FROM join_requests WHERE id=$1`, id)
	return err
}

func (p *PostgresStore) PendingByRide(rideID string) ([]*models.JoinRequest, error) {
	rows, err := p.db.Query(`SELECT `+requestCols+` FROM join_requests WHERE ride_id=$1 AND status='pending' AND `+liveRequest+` ORDER BY created_at`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.JoinRequest
	for rows.Next() {
		q, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteByRide(rideID string) error {
	_, err := p.db.Exec(`DELETE FROM join_requests WHERE ride_id=$1`, rideID)
	return err
}

func (p *PostgresStore) DeleteByClient(rideID, clientID string) error {
	_, err := p.db.Exec(`DELETE FROM join_requests WHERE ride_id=$1 AND client_id=$2`, rideID, clientID)
	return err
}

func scanRequest(row rowScanner) (*models.JoinRequest, error) {
	var q models.JoinRequest
	var approvals []byte
	err := row.Scan(&q.ID, &q.RideID, &q.ClientID, &q.Pickup.Lat, &q.Pickup.Lon, &q.Dropoff.Lat, &q.Dropoff.Lon, &approvals, &q.Status, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(approvals, &q.Approvals); err != nil {
		return nil, err
	}
	return &q, nil
}

func (p *PostgresStore) SaveUser(u *models.User) error {
	_, err := p.db.Exec(`INSERT INTO users(id, role, in_ride, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, loc_lat, loc_lon, updated)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET role=$2, in_ride=$3, pickup_lat=$4, pickup_lon=$5, dropoff_lat=$6, dropoff_lon=$7, loc_lat=$8, loc_lon=$9, updated=$10`,
		u.ID, u.Role, u.InRide, u.Pickup.Lat, u.Pickup.Lon, u.Dropoff.Lat, u.Dropoff.Lon, u.Loc.Lat, u.Loc.Lon, time.Now())
	return err
}

func (p *PostgresStore) GetUser(id string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRow(`SELECT id, role, in_ride, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, loc_lat, loc_lon, updated FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Role, &u.InRide, &u.Pickup.Lat, &u.Pickup.Lon, &u.Dropoff.Lat, &u.Dropoff.Lon, &u.Loc.Lat, &u.Loc.Lon, &u.Updated)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) UpdateUser(u *models.User) error {
	return p.SaveUser(u)
}
