package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains runtime configuration required by the service.
type Config struct {
	Addr      string
	DBURL     string
	APIKeys   map[string]string // apiKey -> producerID
	CacheTTL  time.Duration
	LogLevel  string
	LogFormat string
}

// Load reads required values from environment variables.
// API_KEYS format: "producer1:key1,producer2:key2"
func Load() (Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("DB_URL"))
	if dbURL == "" {
		return Config{}, errors.New("DB_URL required")
	}

	addr := strings.TrimSpace(os.Getenv("ADDR"))
	if addr == "" {
		addr = ":8080"
	}

	cacheTTL := 5 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("CACHE_TTL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("CACHE_TTL must be a positive duration, got %q", raw)
		}
		cacheTTL = d
	}

	apiKeys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Addr:      addr,
		DBURL:     dbURL,
		APIKeys:   apiKeys,
		CacheTTL:  cacheTTL,
		LogLevel:  os.Getenv("LOG_LEVEL"),
		LogFormat: os.Getenv("LOG_FORMAT"),
	}, nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}

	for _, p := range strings.Split(strings.TrimSpace(raw), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "producer:key,producer:key"`)
		}
		producer := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if producer == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "producer:key,producer:key"`)
		}
		apiKeys[key] = producer
	}

	// Local dev fallback so the service runs out-of-the-box.
	if len(apiKeys) == 0 {
		apiKeys["producer-key-123"] = "producer1"
	}

	return apiKeys, nil
}
