package session

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Options tunes discovery, connection and streaming.
type Options struct {
	ScanWindow           time.Duration `default:"1s"`
	DiscoveryTimeout     time.Duration // 0: discovery runs until the caller's context ends
	ScanFailureThreshold uint32        `default:"3"`
	ScanCooldown         time.Duration `default:"5s"`
	ConnectTimeout       time.Duration `default:"30s"`
	SettleDelay          time.Duration `default:"500ms"`
	QueueSize            int           `default:"256"`
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}
