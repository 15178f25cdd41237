//go:build rp2040

package main

import "time"

// ModeConfig determines which mode to run
type ModeConfig struct {
	// Standalone records straight to the external flash at boot instead of
	// waiting for host commands.
	Standalone bool
}

// StandaloneSession is the recording made in standalone mode.
type StandaloneSession struct {
	SampleRate uint32
	Window     int
	Warmup     time.Duration
	Duration   time.Duration
}

// GetMode returns the compile-time mode configuration.
func GetMode() ModeConfig {
	return ModeConfig{
		Standalone: false,
	}
}

// GetStandaloneSession returns the standalone recording parameters.
func GetStandaloneSession() StandaloneSession {
	return StandaloneSession{
		SampleRate: 8000,
		Window:     64,
		Warmup:     100 * time.Millisecond,
		Duration:   30 * time.Second,
	}
}
