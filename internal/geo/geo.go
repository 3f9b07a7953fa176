package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/carpool/internal/models"
)

// Entry is one user's last known position.
type Entry struct {
	UserID  string
	Role    models.Role
	Loc     models.Coord
	Updated time.Time
}

// Geo is the minimal live-location interface required by the service layer.
type Geo interface {
	Upsert(e Entry)
	Lookup(userID string) (Entry, bool)
	Nearby(lat, lon float64, limit int) []Entry
}

// Valid reports whether a coordinate is within WGS84 bounds.
func Valid(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// FilterValid drops out-of-range coordinates, preserving order.
func FilterValid(route []models.Coord) []models.Coord {
	out := make([]models.Coord, 0, len(route))
	for _, c := range route {
		if Valid(c) {
			out = append(out, c)
		}
	}
	return out
}

type Index struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]Entry)}
}

func (g *Index) Upsert(e Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.Updated = time.Now()
	g.entries[e.UserID] = e
}

func (g *Index) Lookup(userID string) (Entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[userID]
	return e, ok
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon float64, limit int) []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		e    Entry
		dist float64
	}
	arr := make([]pair, 0, len(g.entries))
	for _, e := range g.entries {
		arr = append(arr, pair{e, Haversine(lat, lon, e.Loc.Lat, e.Loc.Lon)})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].e)
	}
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
