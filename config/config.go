// Package config reads service and run settings from the environment, with
// an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/tariff-engine/engine"
)

type Config struct {
	Port           string
	DBPath         string
	MappingFile    string
	AllowedOrigins []string
	InboxDir       string
	InboxInterval  time.Duration

	K                 int
	Workers           int
	IncludeSpecial    bool
	SpecialFacilities []string
	ExcludedClients   []string
	AllowedStatuses   []string
	NearbyRadiusKm    float64
	RevisitMinDays    int
	RevisitMaxDays    int
}

// Load reads the given .env files (default ".env"), then the environment.
// Missing files are ignored and variables already set win.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	return Config{
		Port:           GetEnv("PORT", "8080"),
		DBPath:         GetEnv("DB_PATH", "tariffs.db"),
		MappingFile:    GetEnv("MAPPING_FILE", ""),
		AllowedOrigins: GetEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
		InboxDir:       GetEnv("INBOX_DIR", ""),
		InboxInterval:  GetEnvDuration("INBOX_INTERVAL", time.Minute),

		K:                 GetEnvInt("NEAREST_K", engine.DefaultK),
		Workers:           GetEnvInt("WORKERS", 0),
		IncludeSpecial:    GetEnvBool("INCLUDE_SPECIAL", false),
		SpecialFacilities: GetEnvList("SPECIAL_FACILITIES", engine.DefaultSpecialFacilities),
		ExcludedClients:   GetEnvList("EXCLUDED_CLIENTS", engine.DefaultExcludedClients),
		AllowedStatuses:   GetEnvList("ALLOWED_STATUSES", nil),
		NearbyRadiusKm:    GetEnvFloat("NEARBY_RADIUS_KM", engine.DefaultNearbyRadiusKm),
		RevisitMinDays:    GetEnvInt("REVISIT_MIN_DAYS", engine.DefaultRevisitMinDays),
		RevisitMaxDays:    GetEnvInt("REVISIT_MAX_DAYS", engine.DefaultRevisitMaxDays),
	}
}

// RunOptions maps the run settings onto engine options.
func (c Config) RunOptions() engine.RunOptions {
	return engine.RunOptions{
		K:       c.K,
		Workers: c.Workers,
		Directory: engine.DirectoryOptions{
			SpecialPatterns: c.SpecialFacilities,
			IncludeSpecial:  c.IncludeSpecial,
		},
		Filter: engine.PaymentFilter{
			ExcludedClients: c.ExcludedClients,
			AllowedStatuses: c.AllowedStatuses,
		},
		NearbyRadiusKm: c.NearbyRadiusKm,
		RevisitMinDays: c.RevisitMinDays,
		RevisitMaxDays: c.RevisitMaxDays,
	}
}

// GetEnv gets environment variable with default
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets integer environment variable with default
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvFloat gets float environment variable with default
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvDuration gets a duration ("90s", "5m") environment variable with
// default
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// GetEnvBool gets boolean environment variable with default
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

// GetEnvList splits a ';'-separated variable. Names may contain commas, so
// commas are not separators. An unset variable gives defaultValue.
func GetEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
