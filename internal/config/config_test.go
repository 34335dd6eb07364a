package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.TickInterval)
	}
	if cfg.PlaylistRefreshTicks != 300 || cfg.TokenRefreshTicks != 3500 || cfg.SweepTicks != 30 {
		t.Errorf("ticks = %d/%d/%d", cfg.PlaylistRefreshTicks, cfg.TokenRefreshTicks, cfg.SweepTicks)
	}
	if cfg.HostGrace != time.Minute {
		t.Errorf("HostGrace = %v", cfg.HostGrace)
	}
	if cfg.KafkaTopic != "room-events" {
		t.Errorf("KafkaTopic = %q", cfg.KafkaTopic)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "1s")
	t.Setenv("HOST_GRACE_SECONDS", "5")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("FRONTEND_URL", "https://rooms.example/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != time.Second || cfg.HostGrace != 5*time.Second {
		t.Errorf("tick %v grace %v", cfg.TickInterval, cfg.HostGrace)
	}
	if want := []string{"a:9092", "b:9092"}; !reflect.DeepEqual(cfg.KafkaBrokers, want) {
		t.Errorf("KafkaBrokers = %v, want %v", cfg.KafkaBrokers, want)
	}
	if cfg.FrontendURL != "https://rooms.example" {
		t.Errorf("FrontendURL = %q", cfg.FrontendURL)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("SWEEP_TICKS", "often")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric SWEEP_TICKS")
	}
}

func TestValidateProduction(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected JWT_SECRET to be required in production")
	}
}
