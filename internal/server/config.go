package server

import "time"

// Config holds the gateway configuration
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string `json:"listen_addr"`

	// DefaultWidth is the desktop width requested when a connect
	// request leaves it unset
	DefaultWidth int `json:"default_width"`

	// DefaultHeight is the desktop height requested when a connect
	// request leaves it unset
	DefaultHeight int `json:"default_height"`

	// DefaultQuality is the preset used when a connect request leaves
	// quality unset: ultra, high, balanced, performance, low_bandwidth
	DefaultQuality string `json:"default_quality"`

	// DialTimeout bounds the TCP connect to the remote host
	DialTimeout time.Duration `json:"dial_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		DefaultWidth:    1280,
		DefaultHeight:   800,
		DefaultQuality:  "balanced",
		DialTimeout:     10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}
