// Package config loads and holds the pseudonymization subsystem configuration.
// Settings start from defaults, overridden by privacy-config.json if present,
// then by PRIVACY_* environment variables.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// Config holds the full subsystem configuration.
type Config struct {
	// DBPath is the SQLite file holding the identity mapping table.
	// The file contains real names and must never leave the machine.
	DBPath string `json:"dbPath"`
	// PseudonymPrefix prefixes generated pseudonym ids (ELEVE_001, ...).
	PseudonymPrefix string `json:"pseudonymPrefix"`
	// NERCachePath is the bbolt file caching detected person spans.
	// Empty keeps the cache in memory only.
	NERCachePath string `json:"nerCachePath"`
	// NERCacheSize bounds the in-memory span cache entry count.
	NERCacheSize int `json:"nerCacheSize"`
	LogLevel     string `json:"logLevel"`
}

// Load returns config with defaults overridden by privacy-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "privacy-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		DBPath:          "data/privacy.db",
		PseudonymPrefix: "ELEVE_",
		NERCachePath:    "",
		NERCacheSize:    4096,
		LogLevel:        "info",
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("PRIVACY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PRIVACY_PSEUDONYM_PREFIX"); v != "" {
		cfg.PseudonymPrefix = v
	}
	if v := os.Getenv("PRIVACY_NER_CACHE_PATH"); v != "" {
		cfg.NERCachePath = v
	}
	if v := os.Getenv("PRIVACY_NER_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NERCacheSize = n
		}
	}
	if v := os.Getenv("PRIVACY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
