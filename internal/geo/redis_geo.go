package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands, with a hash per user for
// role and freshness metadata.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(e Entry) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: e.Loc.Lon, Latitude: e.Loc.Lat, Name: e.UserID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(e.UserID), map[string]interface{}{
		"role":    string(e.Role),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Lookup(userID string) (Entry, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, userID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return Entry{}, false
	}
	e := Entry{UserID: userID, Loc: models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}}
	if m, err := r.client.HGetAll(r.ctx, metaKey(userID)).Result(); err == nil {
		if v, ok := m["role"]; ok {
			e.Role = models.Role(v)
		}
		if v, ok := m["updated"]; ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				e.Updated = t
			}
		}
	}
	return e, true
}

func (r *RedisGeo) Nearby(lat, lon float64, limit int) []Entry {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: 10000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]Entry, 0, len(res))
	for _, g := range res {
		e := Entry{UserID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["role"]; ok {
				e.Role = models.Role(v)
			}
		}
		out = append(out, e)
	}
	return out
}

func metaKey(id string) string { return "user:loc:meta:" + id }
