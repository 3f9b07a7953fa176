// Package optimizer searches pickup/dropoff insertion positions in an
// existing multi-stop route and picks the one adding the least travel time.
package optimizer

import (
	"context"
	"errors"
	"time"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/routing"
)

var (
	// ErrNoBaseRoute: the unmodified route itself could not be measured.
	ErrNoBaseRoute = errors.New("optimizer: base route not measurable")
	// ErrNoValidInsertion: every candidate measurement failed.
	ErrNoValidInsertion = errors.New("optimizer: no measurable insertion")
)

// Insertion is the winning candidate: the spliced route, where the pickup
// and dropoff landed, and the cost relative to the unmodified route.
type Insertion struct {
	Route         []models.Coord `json:"route"`
	PickupIndex   int            `json:"pickup_index"`
	DropoffIndex  int            `json:"dropoff_index"`
	DeltaDistance float64        `json:"delta_distance"`
	DeltaDuration float64        `json:"delta_duration"`
}

// BestInsertion enumerates every slot pair (i, j) with 1 <= i <= j <= len(route),
// splicing pickup at i and dropoff at j+1, so the dropoff is always strictly
// after the pickup and index 0 (the driver's position) never moves. Candidates
// that fail to measure are skipped. The winner minimizes additional duration
// over the base route; ties keep the first candidate in enumeration order.
//
// This issues O(n^2) sequential oracle calls, which is fine only because
// per-ride routes stay at single-digit stop counts. The ctx deadline bounds
// the whole search.
func BestInsertion(ctx context.Context, oracle routing.Oracle, route []models.Coord, pickup, dropoff models.Coord) (Insertion, error) {
	start := time.Now()
	defer func() { observability.InsertionLatency.Observe(time.Since(start).Seconds()) }()

	base, err := oracle.Measure(ctx, route)
	if err != nil {
		return Insertion{}, ErrNoBaseRoute
	}

	var best Insertion
	found := false
	for i := 1; i <= len(route); i++ {
		for j := i; j <= len(route); j++ {
			if ctx.Err() != nil {
				if found {
					return best, nil
				}
				return Insertion{}, ErrNoValidInsertion
			}
			candidate := insertAt(route, i, pickup)
			candidate = insertAt(candidate, j+1, dropoff)
			m, err := oracle.Measure(ctx, candidate)
			if err != nil {
				continue // one bad candidate never fails the search
			}
			dd := m.DurationSeconds - base.DurationSeconds
			if !found || dd < best.DeltaDuration {
				best = Insertion{
					Route:         candidate,
					PickupIndex:   i,
					DropoffIndex:  j + 1,
					DeltaDistance: m.DistanceMeters - base.DistanceMeters,
					DeltaDuration: dd,
				}
				found = true
			}
		}
	}
	if !found {
		return Insertion{}, ErrNoValidInsertion
	}
	return best, nil
}

func insertAt(route []models.Coord, idx int, p models.Coord) []models.Coord {
	out := make([]models.Coord, 0, len(route)+1)
	out = append(out, route[:idx]...)
	out = append(out, p)
	out = append(out, route[idx:]...)
	return out
}
