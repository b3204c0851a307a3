package geo

import (
	"math"
	"testing"

	"github.com/example/request-marketplace/internal/models"
)

var (
	joburg  = models.Coord{Lat: -26.2041, Lon: 28.0473}
	sandton = models.Coord{Lat: -26.1076, Lon: 28.0567}
)

func TestDistanceSymmetry(t *testing.T) {
	if d := DistanceKm(joburg, joburg); d != 0 {
		t.Fatalf("expected 0 for identical points, got %f", d)
	}
	ab := DistanceKm(joburg, sandton)
	ba := DistanceKm(sandton, joburg)
	if ab != ba {
		t.Fatalf("distance not symmetric: %f vs %f", ab, ba)
	}
	// Joburg CBD to Sandton is roughly 10-11km straight line
	if ab < 9 || ab > 12 {
		t.Fatalf("implausible distance %f", ab)
	}
}

func TestAwayKmAppliesRoadFactor(t *testing.T) {
	raw := DistanceKm(joburg, sandton)
	away := AwayKm(joburg, sandton)
	want := math.Round(raw*RoadFactor*10) / 10
	if away != want {
		t.Fatalf("away=%f want=%f", away, want)
	}
	if away <= raw {
		t.Fatalf("road estimate %f should exceed raw %f", away, raw)
	}
}

func TestIsEligibleConjunctive(t *testing.T) {
	sp := &models.ServiceProvider{Code: "SP1", ServiceTypes: []string{"car"}, Loc: &models.Coord{Lat: -26.1, Lon: 28.0}}
	req := &models.ClientRequest{ServiceType: "car", Pickup: &joburg}

	if !IsEligible(sp, req, 30) {
		t.Fatal("expected eligible within radius with matching service")
	}
	// flip service type only
	other := *req
	other.ServiceType = "bus"
	if IsEligible(sp, &other, 30) {
		t.Fatal("service mismatch must fail regardless of distance")
	}
	// flip distance only
	if IsEligible(sp, req, 1) {
		t.Fatal("out of radius must fail regardless of service match")
	}
}

func TestIsEligibleMissingLocations(t *testing.T) {
	req := &models.ClientRequest{ServiceType: "car", Pickup: &joburg}
	noLoc := &models.ServiceProvider{Code: "SP2", ServiceTypes: []string{"car"}}
	if IsEligible(noLoc, req, 100) {
		t.Fatal("provider without location must not be eligible")
	}
	sp := &models.ServiceProvider{Code: "SP3", ServiceTypes: []string{"bus-tour"}, Loc: &sandton}
	tour := &models.ClientRequest{ServiceType: "bus-tour"} // tours carry no pickup
	if IsEligible(sp, tour, 100) {
		t.Fatal("request without pickup must not be geo-eligible")
	}
}

func TestIndexCandidates(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.ServiceProvider{Code: "near", Loc: &sandton})
	idx.Upsert(models.ServiceProvider{Code: "far", Loc: &models.Coord{Lat: -33.92, Lon: 18.42}}) // Cape Town
	idx.Upsert(models.ServiceProvider{Code: "nowhere"})

	got := idx.Candidates(joburg.Lat, joburg.Lon, 30)
	if len(got) != 1 || got[0].Code != "near" {
		t.Fatalf("expected only the nearby provider, got %v", got)
	}
}
