package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                 string
	DatabaseURL          string
	TimeZone             string
	ToggleInterval       time.Duration
	CapacityScanInterval time.Duration
	RealtimePollInterval time.Duration
	RealtimeBatchSize    int
	RateLimitPerMinute   int
	RateLimitBurst       int
	RateLimitWritePerMin int
	RateLimitWriteBurst  int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	timeZone := os.Getenv("CLINIC_TZ")
	if timeZone == "" {
		timeZone = "Asia/Tokyo"
	}

	return Config{
		Port:                 port,
		DatabaseURL:          os.Getenv("DB_DSN"),
		TimeZone:             timeZone,
		ToggleInterval:       readDurationSeconds("TOGGLE_INTERVAL_SECONDS", 60),
		CapacityScanInterval: readDurationSeconds("CAPACITY_SCAN_INTERVAL_SECONDS", 60),
		RealtimePollInterval: readDurationSeconds("REALTIME_POLL_SECONDS", 1),
		RealtimeBatchSize:    readInt("REALTIME_BATCH_SIZE", 100),
		RateLimitPerMinute:   readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:       readInt("RATE_LIMIT_BURST", 30),
		RateLimitWritePerMin: readInt("RATE_LIMIT_WRITE_PER_MIN", 60),
		RateLimitWriteBurst:  readInt("RATE_LIMIT_WRITE_BURST", 15),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
