// Package config reads process settings from .env and the environment.
package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	AllowedOrigin   string
	MapsDir         string
	TickRate        int
	BroadcastEvery  int
	MaxCatchUpSteps int
	GracePeriod     time.Duration
	RecorderBuffer  int
}

func Defaults() Config {
	return Config{
		Port:            "8080",
		AllowedOrigin:   "*",
		MapsDir:         "assets/maps",
		TickRate:        60,
		BroadcastEvery:  3,
		MaxCatchUpSteps: 5,
		GracePeriod:     15 * time.Second,
		RecorderBuffer:  256,
	}
}

// Load reads the given .env files (default ".env"), then the environment.
// Missing files are ignored and invalid values keep their defaults.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[config.Load] could not read %s: %v", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function so tests can avoid touching
// the process environment.
func FromEnv(lookup func(string) (string, bool)) Config {
	cfg := Defaults()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	positive := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Printf("[config] invalid %s=%q, keeping %d", key, v, *dst)
			return
		}
		*dst = n
	}

	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("ALLOWED_ORIGIN", &cfg.AllowedOrigin)
	str("MAPS_DIR", &cfg.MapsDir)
	positive("TICK_RATE", &cfg.TickRate)
	positive("BROADCAST_EVERY", &cfg.BroadcastEvery)
	positive("MAX_CATCHUP_STEPS", &cfg.MaxCatchUpSteps)
	positive("RECORDER_BUFFER", &cfg.RecorderBuffer)

	if v, ok := lookup("GRACE_PERIOD"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Printf("[config] invalid GRACE_PERIOD=%q, keeping %v", v, cfg.GracePeriod)
		} else {
			cfg.GracePeriod = d
		}
	}
	return cfg
}
