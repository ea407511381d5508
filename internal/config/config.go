// Package config loads the tunables that size a SessionClient and the
// CacheMap beneath it, from a TOML file.
package config

import (
	"github.com/BurntSushi/toml"
)

// Client holds the SessionClient's tunables.
type Client struct {
	TickMS           uint64 `toml:"tick_ms"`
	RTTTicks         uint64 `toml:"rtt_ticks"`
	RTTMultiple      uint64 `toml:"rtt_multiple"`
	RequestQueueMax  int    `toml:"request_queue_max"`
	PingTimeoutTicks uint64 `toml:"ping_timeout_ticks"`
}

// Cache holds the CacheMap/SetAssocCache's tunables.
type Cache struct {
	Sets               int `toml:"sets"`
	Ways               int `toml:"ways"`
	StashCapacity      int `toml:"stash_capacity"`
	ScopeValueCountMax int `toml:"scope_value_count_max"`
}

// Config is the top-level configuration document.
type Config struct {
	Client Client `toml:"client"`
	Cache  Cache  `toml:"cache"`
}

// Default returns the baseline tunables, used whenever no config file is
// supplied.
func Default() Config {
	return Config{
		Client: Client{
			TickMS:           10,
			RTTTicks:         200,
			RTTMultiple:      2,
			RequestQueueMax:  32,
			PingTimeoutTicks: 3000,
		},
		Cache: Cache{
			Sets:               2048,
			Ways:               8,
			StashCapacity:      65536,
			ScopeValueCountMax: 8192,
		},
	}
}

// Load reads and decodes a TOML config file at path. Fields absent from the
// file keep their zero value - callers that want Default's values as a
// base should start from Default() and decode on top of it via LoadInto.
func Load(path string) (Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}

// LoadInto decodes the TOML file at path on top of an existing Config,
// typically Default(), so an incomplete file only overrides the fields it
// sets.
func LoadInto(path string, cfg *Config) error {
	_, err := toml.DecodeFile(path, cfg)
	return err
}
