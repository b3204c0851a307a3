package geo

import (
	"math"
	"sync"

	"github.com/example/request-marketplace/internal/models"
)

const earthRadiusKm = 6371.0

// RoadFactor inflates straight-line distance to approximate road distance.
// It is applied only to "distance away" estimates shown to providers; the
// eligibility filter always uses the raw great-circle value.
const RoadFactor = 1.40

// DistanceKm returns the haversine great-circle distance in kilometres.
func DistanceKm(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// AwayKm estimates the road distance from a provider to a pickup point,
// rounded to one decimal like the client-facing display.
func AwayKm(from, to models.Coord) float64 {
	return math.Round(DistanceKm(from, to)*RoadFactor*10) / 10
}

// IsEligible decides whether a provider may see or be notified of a request.
// The check is conjunctive: the provider must be registered for the request's
// service type AND be within radiusKm of the pickup. Requests without a
// pickup (tours) never pass here; they are served by a separate listing.
func IsEligible(sp *models.ServiceProvider, req *models.ClientRequest, radiusKm float64) bool {
	if !sp.Offers(req.ServiceType) {
		return false
	}
	if sp.Loc == nil || req.Pickup == nil {
		return false
	}
	return DistanceKm(*sp.Loc, *req.Pickup) <= radiusKm
}

// Locator is the minimal provider lookup needed by the dispatch fan-out.
type Locator interface {
	Candidates(lat, lon, radiusKm float64) []models.ServiceProvider
	Upsert(sp models.ServiceProvider)
}

// Index is an in-memory locator used when Redis is not configured.
type Index struct {
	mu        sync.RWMutex
	providers map[string]models.ServiceProvider
}

func NewIndex() *Index {
	return &Index{providers: make(map[string]models.ServiceProvider)}
}

func (g *Index) Upsert(sp models.ServiceProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[sp.Code] = sp
}

// Candidates returns providers whose last-known location is within radiusKm.
// Naive scan; the Redis GEO index takes over at scale.
func (g *Index) Candidates(lat, lon, radiusKm float64) []models.ServiceProvider {
	g.mu.RLock()
	defer g.mu.RUnlock()
	origin := models.Coord{Lat: lat, Lon: lon}
	out := make([]models.ServiceProvider, 0, len(g.providers))
	for _, sp := range g.providers {
		if sp.Loc == nil {
			continue
		}
		if DistanceKm(origin, *sp.Loc) <= radiusKm {
			out = append(out, sp)
		}
	}
	return out
}
