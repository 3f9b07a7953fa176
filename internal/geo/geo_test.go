package geo

import (
	"testing"

	"github.com/example/carpool/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestValidBounds(t *testing.T) {
	if !Valid(models.Coord{Lat: 90, Lon: -180}) {
		t.Fatal("boundary coordinate should be valid")
	}
	if Valid(models.Coord{Lat: 90.01, Lon: 0}) {
		t.Fatal("lat above 90 should be invalid")
	}
	if Valid(models.Coord{Lat: 0, Lon: 180.5}) {
		t.Fatal("lon above 180 should be invalid")
	}
}

func TestFilterValidPreservesOrder(t *testing.T) {
	in := []models.Coord{{Lat: 1, Lon: 1}, {Lat: 200, Lon: 0}, {Lat: 2, Lon: 2}}
	out := FilterValid(in)
	if len(out) != 2 || out[0].Lat != 1 || out[1].Lat != 2 {
		t.Fatalf("unexpected filter result: %v", out)
	}
}

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	g := NewIndex()
	g.Upsert(Entry{UserID: "far", Loc: models.Coord{Lat: 1, Lon: 1}})
	g.Upsert(Entry{UserID: "near", Loc: models.Coord{Lat: 0.01, Lon: 0.01}})
	got := g.Nearby(0, 0, 2)
	if len(got) != 2 || got[0].UserID != "near" {
		t.Fatalf("expected near first, got %v", got)
	}
}
