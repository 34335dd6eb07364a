package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration, read from the environment.
type Config struct {
	AppEnv      string // APP_ENV
	Port        string // PORT
	FrontendURL string // FRONTEND_URL
	CORSOrigins []string

	Spotify struct {
		ClientID     string
		ClientSecret string
		RedirectURI  string
		AccountsURL  string
		APIURL       string
	}

	MySQL struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
	}

	Redis struct {
		Host     string
		Port     string
		Password string
	}

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string
	JWTTTL    time.Duration

	// Room reconciliation
	TickInterval         time.Duration
	PlaylistRefreshTicks int
	TokenRefreshTicks    int
	SweepTicks           int
	HostGrace            time.Duration
}

// Load loads config from environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	tick, err := time.ParseDuration(getEnv("TICK_INTERVAL", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("config: TICK_INTERVAL: %w", err)
	}
	jwtTTL, err := time.ParseDuration(getEnv("JWT_TTL", "168h"))
	if err != nil {
		return nil, fmt.Errorf("config: JWT_TTL: %w", err)
	}
	playlistTicks, err := getInt("PLAYLIST_REFRESH_TICKS", 300)
	if err != nil {
		return nil, err
	}
	tokenTicks, err := getInt("TOKEN_REFRESH_TICKS", 3500)
	if err != nil {
		return nil, err
	}
	sweepTicks, err := getInt("SWEEP_TICKS", 30)
	if err != nil {
		return nil, err
	}
	graceSeconds, err := getInt("HOST_GRACE_SECONDS", 60)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		FrontendURL:          strings.TrimSuffix(getEnv("FRONTEND_URL", "/"), "/"),
		CORSOrigins:          splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		KafkaBrokers:         splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "room-events"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		JWTTTL:               jwtTTL,
		TickInterval:         tick,
		PlaylistRefreshTicks: playlistTicks,
		TokenRefreshTicks:    tokenTicks,
		SweepTicks:           sweepTicks,
		HostGrace:            time.Duration(graceSeconds) * time.Second,
	}
	cfg.Spotify.ClientID = getEnv("SPOTIFY_CLIENT_ID", "")
	cfg.Spotify.ClientSecret = getEnv("SPOTIFY_CLIENT_SECRET", "")
	cfg.Spotify.RedirectURI = getEnv("SPOTIFY_REDIRECT_URI", "http://localhost:8080/api/v1/auth/callback")
	cfg.Spotify.AccountsURL = getEnv("SPOTIFY_ACCOUNTS_URL", "https://accounts.spotify.com")
	cfg.Spotify.APIURL = getEnv("SPOTIFY_API_URL", "https://api.spotify.com")
	cfg.MySQL.Host = getEnv("MYSQL_HOST", "localhost")
	cfg.MySQL.Port = getEnv("MYSQL_PORT", "3306")
	cfg.MySQL.User = getEnv("MYSQL_USER", "root")
	cfg.MySQL.Password = getEnv("MYSQL_PASSWORD", "")
	cfg.MySQL.Database = getEnv("MYSQL_DATABASE", "music_rooms")
	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnv("REDIS_PORT", "6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	return cfg, nil
}

// Validate checks required fields and production safety.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return errors.New("config: SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are required")
	}
	if c.TickInterval <= 0 {
		return errors.New("config: TICK_INTERVAL must be positive")
	}
	if c.HostGrace <= 0 {
		return errors.New("config: HOST_GRACE_SECONDS must be positive")
	}
	if c.Production() && c.JWTSecret == "" {
		return errors.New("config: in production JWT_SECRET is required")
	}
	return nil
}

func (c *Config) Production() bool {
	return c.AppEnv == "production"
}

// Addr returns listen address for HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) RedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
