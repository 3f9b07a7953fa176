package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/models"
)

// RedisRequestStore keeps join requests as JSON values with a native key TTL
// while pending; resolving a request persists it indefinitely. A per-ride set
// indexes request ids, and ids whose value has expired are pruned on read.
type RedisRequestStore struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

func NewRedisRequestStore(addr, password string, ttl time.Duration) *RedisRequestStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisRequestStore{client: c, ttl: ttl, ctx: context.Background()}
}

func reqKey(id string) string      { return "joinreq:" + id }
func rideSetKey(id string) string  { return "ride:" + id + ":joinreqs" }

func (s *RedisRequestStore) SaveRequest(q *models.JoinRequest) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if q.Status != models.RequestPending {
		ttl = 0
	}
	if err := s.client.Set(s.ctx, reqKey(q.ID), b, ttl).Err(); err != nil {
		return err
	}
	return s.client.SAdd(s.ctx, rideSetKey(q.RideID), q.ID).Err()
}

func (s *RedisRequestStore) GetRequest(id string) (*models.JoinRequest, error) {
	b, err := s.client.Get(s.ctx, reqKey(id)).Bytes()
	if err == redis.Nil {
		return nil, apperrors.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	var q models.JoinRequest
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *RedisRequestStore) UpdateRequest(q *models.JoinRequest) error {
	exists, err := s.client.Exists(s.ctx, reqKey(q.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return apperrors.ErrRequestNotFound
	}
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	if q.Status == models.RequestPending {
		// keep the original countdown running
		return s.client.Set(s.ctx, reqKey(q.ID), b, redis.KeepTTL).Err()
	}
	return s.client.Set(s.ctx, reqKey(q.ID), b, 0).Err()
}

func (s *RedisRequestStore) DeleteRequest(id string) error {
	q, err := s.GetRequest(id)
	if err == nil {
		_ = s.client.SRem(s.ctx, rideSetKey(q.RideID), id).Err()
	}
	return s.client.Del(s.ctx, reqKey(id)).Err()
}

func (s *RedisRequestStore) PendingByRide(rideID string) ([]*models.JoinRequest, error) {
	ids, err := s.client.SMembers(s.ctx, rideSetKey(rideID)).Result()
	if err != nil {
		return nil, err
	}
	var out []*models.JoinRequest
	for _, id := range ids {
		q, err := s.GetRequest(id)
		if err == apperrors.ErrRequestNotFound {
			// value expired under the index entry
			_ = s.client.SRem(s.ctx, rideSetKey(rideID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if q.Status == models.RequestPending {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *RedisRequestStore) DeleteByRide(rideID string) error {
	ids, err := s.client.SMembers(s.ctx, rideSetKey(rideID)).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.client.Del(s.ctx, reqKey(id)).Err(); err != nil {
			return err
		}
	}
	return s.client.Del(s.ctx, rideSetKey(rideID)).Err()
}

func (s *RedisRequestStore) DeleteByClient(rideID, clientID string) error {
	ids, err := s.client.SMembers(s.ctx, rideSetKey(rideID)).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		q, err := s.GetRequest(id)
		if err != nil {
			continue
		}
		if q.ClientID == clientID {
			if err := s.DeleteRequest(id); err != nil {
				return err
			}
		}
	}
	return nil
}
