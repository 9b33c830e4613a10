// Package config loads the server's HCL configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the complete server configuration.
type Config struct {
	Server ServerSettings `hcl:"server,block"`
	Rooms  []RoomConfig   `hcl:"room,block"`
}

// ServerSettings is the process-level configuration.
type ServerSettings struct {
	HTTPAddr     string `hcl:"http_addr,optional"`
	RealtimeAddr string `hcl:"realtime_addr,optional"`
	Database     string `hcl:"database,optional"`
	TokenSecret  string `hcl:"token_secret,optional"`
	LogLevel     string `hcl:"log_level,optional"`
	LogFormat    string `hcl:"log_format,optional"`

	// Engine tunables, in seconds.
	TurnTimeoutSeconds    int `hcl:"turn_timeout_seconds,optional"`
	InterHandDelaySeconds int `hcl:"inter_hand_delay_seconds,optional"`
	StartGraceSeconds     int `hcl:"start_grace_seconds,optional"`
	ReclaimWindowSeconds  int `hcl:"reclaim_window_seconds,optional"`
}

// RoomConfig declares a room to seed into the store at startup, keyed
// by name. Existing rooms with the same name are left alone.
type RoomConfig struct {
	Name       string `hcl:"name,label"`
	SmallBlind int64  `hcl:"small_blind"`
	MinBuyIn   int64  `hcl:"min_buy_in,optional"`
	MaxBuyIn   int64  `hcl:"max_buy_in,optional"`
	MaxPlayers int    `hcl:"max_players,optional"`
}

// BigBlind derives the big blind from the small blind.
func (r RoomConfig) BigBlind() int64 { return 2 * r.SmallBlind }

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			HTTPAddr:              ":8080",
			RealtimeAddr:          ":8081",
			Database:              "holdem.db",
			LogLevel:              "info",
			LogFormat:             "text",
			TurnTimeoutSeconds:    30,
			InterHandDelaySeconds: 5,
			StartGraceSeconds:     2,
			ReclaimWindowSeconds:  60,
		},
	}
}

// Load reads the HCL file at path, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %s", path, diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %s", path, diags.Error())
	}

	defaults := Default().Server
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = defaults.HTTPAddr
	}
	if cfg.Server.RealtimeAddr == "" {
		cfg.Server.RealtimeAddr = defaults.RealtimeAddr
	}
	if cfg.Server.Database == "" {
		cfg.Server.Database = defaults.Database
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaults.LogLevel
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = defaults.LogFormat
	}
	if cfg.Server.TurnTimeoutSeconds == 0 {
		cfg.Server.TurnTimeoutSeconds = defaults.TurnTimeoutSeconds
	}
	if cfg.Server.InterHandDelaySeconds == 0 {
		cfg.Server.InterHandDelaySeconds = defaults.InterHandDelaySeconds
	}
	if cfg.Server.StartGraceSeconds == 0 {
		cfg.Server.StartGraceSeconds = defaults.StartGraceSeconds
	}
	if cfg.Server.ReclaimWindowSeconds == 0 {
		cfg.Server.ReclaimWindowSeconds = defaults.ReclaimWindowSeconds
	}

	for i := range cfg.Rooms {
		room := &cfg.Rooms[i]
		if room.MaxPlayers == 0 {
			room.MaxPlayers = 6
		}
		if room.MinBuyIn == 0 {
			room.MinBuyIn = 10 * room.BigBlind()
		}
		if room.MaxBuyIn == 0 {
			room.MaxBuyIn = 100 * room.BigBlind()
		}
	}

	return &cfg, nil
}

// Validate enforces the blind and buy-in rules on every declared room.
func (c *Config) Validate() error {
	for _, room := range c.Rooms {
		if room.SmallBlind <= 0 {
			return fmt.Errorf("room %s: small blind must be positive", room.Name)
		}
		if room.MinBuyIn < 10*room.BigBlind() {
			return fmt.Errorf("room %s: minimum buy-in must be at least 10 big blinds", room.Name)
		}
		if room.MaxBuyIn < room.MinBuyIn {
			return fmt.Errorf("room %s: maximum buy-in must be at least the minimum", room.Name)
		}
		if room.MaxPlayers < 2 || room.MaxPlayers > 9 {
			return fmt.Errorf("room %s: max players must be between 2 and 9", room.Name)
		}
	}
	if c.Server.TurnTimeoutSeconds <= 0 {
		return fmt.Errorf("turn timeout must be positive")
	}
	return nil
}

// TurnTimeout returns the configured per-turn deadline.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Server.TurnTimeoutSeconds) * time.Second
}

// InterHandDelay returns the pause between hands.
func (c *Config) InterHandDelay() time.Duration {
	return time.Duration(c.Server.InterHandDelaySeconds) * time.Second
}

// StartGrace returns the delay before the first hand starts.
func (c *Config) StartGrace() time.Duration {
	return time.Duration(c.Server.StartGraceSeconds) * time.Second
}

// ReclaimWindow returns how long unclaimed seats survive.
func (c *Config) ReclaimWindow() time.Duration {
	return time.Duration(c.Server.ReclaimWindowSeconds) * time.Second
}
