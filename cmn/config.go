// Package cmn holds corevault's node-wide configuration and the read-mostly
// feature-flag accessor hot paths consult: a struct loaded once at startup,
// and a small set of atomics refreshed from it so the serving path never
// takes a lock to check "files_over_p2p".
/*
 * Copyright (c) 2024, corevault authors.
 */
package cmn

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
)

// Config is the node's environment: data directory, API endpoint and
// credentials injected at construction, and feature flags.
type Config struct {
	DataDir      string `json:"data_directory"`
	APIEndpoint  string `json:"api_endpoint"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	FilesOverP2P bool   `json:"files_over_p2p"`
}

func (c *Config) ThumbnailDir() string { return filepath.Join(c.DataDir, "thumbnails") }

// LoadConfig reads a JSON config file, falling back to defaults for any field
// left unset; data_directory always defaults to the current working
// directory's "corevault-data" so a bare `corevaultd` run is usable.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{DataDir: "corevault-data"}
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readMostly is assigned once at startup (Rom.Set in corevaultd's main) and
// consulted on every hot-path request without locking.
type readMostly struct {
	filesOverP2P atomic.Bool
}

// Rom is the process-wide read-mostly config view.
var Rom readMostly

func (r *readMostly) Set(cfg *Config) { r.filesOverP2P.Store(cfg.FilesOverP2P) }

func (r *readMostly) FilesOverP2P() bool { return r.filesOverP2P.Load() }
