package geo

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/request-marketplace/internal/models"
)

// RedisGeo implements Locator on top of Redis GEO commands. Provider
// locations live in a single GEO key; service types and push tokens are
// mirrored into per-provider hashes so a radius query can return complete
// candidates without touching the primary store.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(sp models.ServiceProvider) {
	if sp.Loc == nil {
		return
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: sp.Loc.Lon, Latitude: sp.Loc.Lat, Name: sp.Code}).Result()
	_ = r.client.HSet(r.ctx, metaKey(sp.Code), map[string]interface{}{
		"services":   strings.Join(sp.ServiceTypes, ","),
		"push_token": sp.PushToken,
		"updated":    time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Candidates(lat, lon, radiusKm float64) []models.ServiceProvider {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithCoord: true, WithDist: true, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.ServiceProvider, 0, len(res))
	for _, g := range res {
		sp := models.ServiceProvider{Code: g.Name, Loc: &models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["services"]; ok && v != "" {
				sp.ServiceTypes = strings.Split(v, ",")
			}
			sp.PushToken = m["push_token"]
		}
		out = append(out, sp)
	}
	return out
}

func metaKey(code string) string { return "sp:meta:" + code }
