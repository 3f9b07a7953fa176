package optimizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/routing"
)

var (
	ptA = models.Coord{Lat: 0, Lon: 0}
	ptB = models.Coord{Lat: 0, Lon: 1}
	ptP = models.Coord{Lat: 0.5, Lon: 0.2}
	ptD = models.Coord{Lat: 0.5, Lon: 0.8}
)

// scriptOracle answers with per-sequence durations and fails anything not scripted.
type scriptOracle struct {
	durations map[string]float64
	calls     int
}

func seqKey(route []models.Coord) string {
	parts := make([]string, len(route))
	for i, p := range route {
		parts[i] = fmt.Sprintf("%.1f,%.1f", p.Lat, p.Lon)
	}
	return strings.Join(parts, ";")
}

func (s *scriptOracle) Measure(_ context.Context, route []models.Coord) (routing.Measurement, error) {
	s.calls++
	d, ok := s.durations[seqKey(route)]
	if !ok {
		return routing.Measurement{}, routing.ErrNoRoute
	}
	return routing.Measurement{DistanceMeters: d * 10, DurationSeconds: d}, nil
}

func TestBestInsertionPicksSmallestAddedDuration(t *testing.T) {
	o := &scriptOracle{durations: map[string]float64{
		seqKey([]models.Coord{ptA, ptB}):           600,
		seqKey([]models.Coord{ptA, ptP, ptD, ptB}): 650,
		seqKey([]models.Coord{ptA, ptP, ptB, ptD}): 700,
		seqKey([]models.Coord{ptA, ptB, ptP, ptD}): 800,
	}}
	ins, err := BestInsertion(context.Background(), o, []models.Coord{ptA, ptB}, ptP, ptD)
	if err != nil {
		t.Fatalf("best insertion: %v", err)
	}
	if ins.PickupIndex != 1 || ins.DropoffIndex != 2 {
		t.Fatalf("expected slot (1,2), got (%d,%d)", ins.PickupIndex, ins.DropoffIndex)
	}
	if ins.DeltaDuration != 50 {
		t.Fatalf("expected delta 50s, got %f", ins.DeltaDuration)
	}
	if seqKey(ins.Route) != seqKey([]models.Coord{ptA, ptP, ptD, ptB}) {
		t.Fatalf("unexpected winning route: %v", ins.Route)
	}
	// base + 3 candidates for a 2-point route
	if o.calls != 4 {
		t.Fatalf("expected 4 oracle calls, got %d", o.calls)
	}
}

func TestBestInsertionDropoffAlwaysAfterPickup(t *testing.T) {
	route := []models.Coord{ptA, ptB, {Lat: 0, Lon: 2}}
	durations := map[string]float64{seqKey(route): 100}
	o := &scriptOracle{durations: durations}
	// make every candidate measurable with the same duration
	measureAll := &permissiveOracle{}
	ins, err := BestInsertion(context.Background(), measureAll, route, ptP, ptD)
	if err != nil {
		t.Fatalf("best insertion: %v", err)
	}
	_ = o
	if ins.PickupIndex < 1 {
		t.Fatalf("pickup may not displace the driver position, got index %d", ins.PickupIndex)
	}
	if ins.DropoffIndex <= ins.PickupIndex {
		t.Fatalf("dropoff must come strictly after pickup, got (%d,%d)", ins.PickupIndex, ins.DropoffIndex)
	}
	if ins.Route[ins.PickupIndex] != ptP || ins.Route[ins.DropoffIndex] != ptD {
		t.Fatalf("indices do not point at the spliced stops: %v", ins.Route)
	}
}

// permissiveOracle measures everything with a constant duration, so ties are
// settled purely by enumeration order.
type permissiveOracle struct{ calls int }

func (p *permissiveOracle) Measure(_ context.Context, route []models.Coord) (routing.Measurement, error) {
	p.calls++
	return routing.Measurement{DistanceMeters: 1000, DurationSeconds: 500}, nil
}

func TestBestInsertionTieKeepsFirstCandidate(t *testing.T) {
	o := &permissiveOracle{}
	ins, err := BestInsertion(context.Background(), o, []models.Coord{ptA, ptB}, ptP, ptD)
	if err != nil {
		t.Fatalf("best insertion: %v", err)
	}
	// first enumerated slot is (1,1): pickup at 1, dropoff at 2
	if ins.PickupIndex != 1 || ins.DropoffIndex != 2 {
		t.Fatalf("tie must keep slot (1,2), got (%d,%d)", ins.PickupIndex, ins.DropoffIndex)
	}
}

func TestBestInsertionBaseFailure(t *testing.T) {
	o := &scriptOracle{durations: map[string]float64{}}
	_, err := BestInsertion(context.Background(), o, []models.Coord{ptA, ptB}, ptP, ptD)
	if !errors.Is(err, ErrNoBaseRoute) {
		t.Fatalf("expected ErrNoBaseRoute, got %v", err)
	}
	if o.calls != 1 {
		t.Fatalf("must not enumerate candidates without a base measurement, got %d calls", o.calls)
	}
}

func TestBestInsertionAllCandidatesFail(t *testing.T) {
	o := &scriptOracle{durations: map[string]float64{
		seqKey([]models.Coord{ptA, ptB}): 600,
	}}
	_, err := BestInsertion(context.Background(), o, []models.Coord{ptA, ptB}, ptP, ptD)
	if !errors.Is(err, ErrNoValidInsertion) {
		t.Fatalf("expected ErrNoValidInsertion, got %v", err)
	}
}

func TestBestInsertionSkipsUnmeasurableCandidates(t *testing.T) {
	// only the worst candidate is measurable; the search must settle on it
	o := &scriptOracle{durations: map[string]float64{
		seqKey([]models.Coord{ptA, ptB}):           600,
		seqKey([]models.Coord{ptA, ptB, ptP, ptD}): 900,
	}}
	ins, err := BestInsertion(context.Background(), o, []models.Coord{ptA, ptB}, ptP, ptD)
	if err != nil {
		t.Fatalf("best insertion: %v", err)
	}
	if ins.PickupIndex != 2 || ins.DropoffIndex != 3 {
		t.Fatalf("expected the only measurable slot (2,3), got (%d,%d)", ins.PickupIndex, ins.DropoffIndex)
	}
	if ins.DeltaDuration != 300 {
		t.Fatalf("expected delta 300s, got %f", ins.DeltaDuration)
	}
}

func TestBestInsertionDoesNotMutateInput(t *testing.T) {
	route := []models.Coord{ptA, ptB}
	o := &permissiveOracle{}
	if _, err := BestInsertion(context.Background(), o, route, ptP, ptD); err != nil {
		t.Fatalf("best insertion: %v", err)
	}
	if len(route) != 2 || route[0] != ptA || route[1] != ptB {
		t.Fatalf("input route mutated: %v", route)
	}
}
