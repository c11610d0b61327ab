package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TTLs holds the per-source cache lifetimes. Sources differ in volatility
// and in how rate-limited their upstreams are, so each gets its own knob.
type TTLs struct {
	Weather  time.Duration
	River    time.Duration
	Road     time.Duration
	Traffic  time.Duration
	Registry time.Duration
	News     time.Duration
	Air      time.Duration
	Rail     time.Duration
	Water    time.Duration
	Power    time.Duration
	Boundary time.Duration
}

type AppConfig struct {
	GeorisquesAPIToken string

	// RefreshInterval controls the background snapshot rebuild cadence.
	RefreshInterval time.Duration

	// HTTP client tuning shared by every upstream call.
	HTTPTimeout    time.Duration
	FetchRetries   int
	FetchBaseDelay time.Duration

	TTLs TTLs

	// PriorityStations flags river gauges whose name or commune matches.
	PriorityStations []string
	// MonitoredCommunes scopes the risk-registry query.
	MonitoredCommunes []string

	// RiverStationLimit caps how many gauges the river payload carries.
	RiverStationLimit int

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.GeorisquesAPIToken = os.Getenv("GEORISQUES_API_TOKEN")

	refreshStr := getenvDefault("REFRESH_INTERVAL", "90s")
	refresh, err := time.ParseDuration(refreshStr)
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL: %w", err)
	}
	cfg.RefreshInterval = refresh

	timeoutStr := getenvDefault("HTTP_TIMEOUT", "12s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	cfg.FetchRetries = getenvInt("FETCH_RETRIES", 2)
	cfg.FetchBaseDelay = time.Duration(getenvInt("FETCH_BASE_DELAY_MS", 700)) * time.Millisecond

	cfg.TTLs = TTLs{
		Weather:  ttlSeconds("TTL_WEATHER", 180),
		River:    ttlSeconds("TTL_RIVER", 300),
		Road:     ttlSeconds("TTL_ROAD", 180),
		Traffic:  ttlSeconds("TTL_TRAFFIC", 600),
		Registry: ttlSeconds("TTL_RISK_REGISTRY", 900),
		News:     ttlSeconds("TTL_NEWS", 600),
		Air:      ttlSeconds("TTL_AIR", 900),
		Rail:     ttlSeconds("TTL_RAIL", 180),
		Water:    ttlSeconds("TTL_WATER", 900),
		Power:    ttlSeconds("TTL_POWER", 300),
		Boundary: ttlSeconds("TTL_BOUNDARY", 900),
	}

	cfg.PriorityStations = splitList(getenvDefault("PRIORITY_STATIONS", "Grenoble"))
	cfg.MonitoredCommunes = splitList(getenvDefault("MONITORED_COMMUNES", "Grenoble,Bourgoin-Jallieu,Vienne,Voiron"))
	cfg.RiverStationLimit = getenvInt("RIVER_STATION_LIMIT", 24)
	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

func ttlSeconds(key string, def int) time.Duration {
	return time.Duration(getenvInt(key, def)) * time.Second
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
