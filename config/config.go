// Package config holds the kernel's boot-time parameters: the fixed user
// address space layout handed to loaded programs, system limits and logging.
package config

import "fmt"

import "github.com/kelseyhightower/envconfig"

// Config holds all kernel configuration.
type Config struct {
	Machine MachineConfig
	Layout  LayoutConfig
	Limits  LimitConfig
	Logging LogConfig
}

// MachineConfig describes the simulated machine.
type MachineConfig struct {
	Arch   string `envconfig:"BISC_ARCH" default:"x86_64"`
	Npages int    `envconfig:"BISC_NPAGES" default:"16384"`
}

// LayoutConfig fixes the user virtual address layout. these addresses are
// part of the ABI seen by loaded programs.
type LayoutConfig struct {
	UserBase   uint64 `envconfig:"BISC_USER_BASE" default:"0x1000"`
	UserSize   uint64 `envconfig:"BISC_USER_SIZE" default:"0x7fffffffe000"`
	StackTop   uint64 `envconfig:"BISC_STACK_TOP" default:"0x7fff00000000"`
	StackSize  uint64 `envconfig:"BISC_STACK_SIZE" default:"0x80000"`
	HeapBase   uint64 `envconfig:"BISC_HEAP_BASE" default:"0x40000000"`
	HeapSize   uint64 `envconfig:"BISC_HEAP_SIZE" default:"0x10000"`
	InterpBase uint64 `envconfig:"BISC_INTERP_BASE" default:"0x400000000"`
	Trampoline uint64 `envconfig:"BISC_TRAMPOLINE" default:"0x60000000"`
}

// LimitConfig holds system-wide limits.
type LimitConfig struct {
	MaxProcs    int `envconfig:"BISC_MAX_PROCS" default:"10000"`
	MaxFutexes  int `envconfig:"BISC_MAX_FUTEXES" default:"1024"`
	InterpDepth int `envconfig:"BISC_INTERP_DEPTH" default:"4"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"BISC_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"BISC_LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the configuration Load produces with an empty
// environment.
func Default() *Config {
	return &Config{
		Machine: MachineConfig{
			Arch:   "x86_64",
			Npages: 16384,
		},
		Layout: LayoutConfig{
			UserBase:   0x1000,
			UserSize:   0x7fffffffe000,
			StackTop:   0x7fff00000000,
			StackSize:  0x80000,
			HeapBase:   0x40000000,
			HeapSize:   0x10000,
			InterpBase: 0x400000000,
			Trampoline: 0x60000000,
		},
		Limits: LimitConfig{
			MaxProcs:    10000,
			MaxFutexes:  1024,
			InterpDepth: 4,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

const pgoff = 0xfff

// Validate checks that the layout is page aligned and that every fixed
// region lies inside the user range.
func (c *Config) Validate() error {
	l := &c.Layout
	for _, a := range []struct {
		name string
		v    uint64
	}{
		{"user base", l.UserBase}, {"user size", l.UserSize},
		{"stack top", l.StackTop}, {"stack size", l.StackSize},
		{"heap base", l.HeapBase}, {"heap size", l.HeapSize},
		{"interp base", l.InterpBase}, {"trampoline", l.Trampoline},
	} {
		if a.v&pgoff != 0 {
			return fmt.Errorf("%s %#x is not page aligned", a.name, a.v)
		}
	}
	end := l.UserBase + l.UserSize
	in := func(start, size uint64) bool {
		return start >= l.UserBase && start+size <= end && start+size >= start
	}
	if !in(l.StackTop-l.StackSize, l.StackSize) {
		return fmt.Errorf("stack outside user range")
	}
	if !in(l.HeapBase, l.HeapSize) {
		return fmt.Errorf("heap outside user range")
	}
	if !in(l.Trampoline, pgoff+1) {
		return fmt.Errorf("trampoline outside user range")
	}
	if c.Machine.Npages <= 0 {
		return fmt.Errorf("bad page count %d", c.Machine.Npages)
	}
	return nil
}
