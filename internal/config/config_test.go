package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RequestTTL != 5*time.Minute {
		t.Fatalf("RequestTTL=%v", cfg.RequestTTL)
	}
	if cfg.MaxResponses != 5 {
		t.Fatalf("MaxResponses=%d", cfg.MaxResponses)
	}
	if cfg.NotifyRadiusKm != 10 || cfg.BrowseRadiusKm != 30 {
		t.Fatalf("radii %v/%v", cfg.NotifyRadiusKm, cfg.BrowseRadiusKm)
	}
	if cfg.RedisGeoKey != "providers_geo" || cfg.KafkaTopic != "provider-locations" {
		t.Fatalf("geo key %q topic %q", cfg.RedisGeoKey, cfg.KafkaTopic)
	}
}

func TestEnvOverridesAndValidation(t *testing.T) {
	t.Setenv("REQUEST_TTL", "90s")
	t.Setenv("MAX_RESPONSES", "3")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RequestTTL != 90*time.Second || cfg.MaxResponses != 3 {
		t.Fatalf("overrides not applied: %v %d", cfg.RequestTTL, cfg.MaxResponses)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers %v", cfg.KafkaBrokers)
	}

	t.Setenv("MAX_RESPONSES", "0")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("MAX_RESPONSES=0 must be rejected")
	}

	t.Setenv("MAX_RESPONSES", "5")
	t.Setenv("REQUEST_TTL", "not-a-duration")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("bad duration must be rejected")
	}
}
