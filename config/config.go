// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package config implements the layered configuration of the core:
// compiled-in defaults, overridden by an HCL config file, overridden by
// explicit overrides passed at startup. There is no environment variable
// layer.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/devicelab/core/corerr"
)

// SchedulerConfig mirrors scheduler.Config's tunables so they can be set
// from file instead of only programmatically. Durations are parsed from
// their HCL string form in a second pass: HCL has no native duration
// type, so the raw string round-trips through its own field first.
type SchedulerConfig struct {
	ShuffleLabs bool `hcl:"shuffle_labs,optional"`

	IdlePassInterval    time.Duration `hcl:"-"`
	IdlePassIntervalHCL string        `hcl:"idle_pass_interval,optional"`

	JobYieldInterval    time.Duration `hcl:"-"`
	JobYieldIntervalHCL string        `hcl:"job_yield_interval,optional"`
}

// SessionConfig mirrors session.Config.
type SessionConfig struct {
	MaxConcurrentSessions int64 `hcl:"max_concurrent_sessions,optional"`
}

// PersistenceConfig selects and configures the allocation store's
// persistence backend.
type PersistenceConfig struct {
	Backend string `hcl:"backend,optional"` // "noop", "mem", "bolt"
	BoltDB  string `hcl:"bolt_db_path,optional"`
}

// MonitorConfig mirrors monitor.Config.
type MonitorConfig struct {
	Cadence string `hcl:"cadence,optional"`

	PullInterval    time.Duration `hcl:"-"`
	PullIntervalHCL string        `hcl:"pull_interval,optional"`
}

// PlannerConfig mirrors planner.Config.
type PlannerConfig struct {
	XTSRoot string `hcl:"xts_root,optional"`
	GenRoot string `hcl:"gen_root,optional"`
}

// Config is the root of the HCL-parseable configuration tree.
type Config struct {
	BindAddr string `hcl:"bind_addr,optional"`
	LogLevel string `hcl:"log_level,optional"`
	LogJSON  bool   `hcl:"log_json,optional"`

	Scheduler   SchedulerConfig   `hcl:"scheduler,block"`
	Session     SessionConfig     `hcl:"session,block"`
	Persistence PersistenceConfig `hcl:"persistence,block"`
	Monitor     MonitorConfig     `hcl:"monitor,block"`
	Planner     PlannerConfig     `hcl:"planner,block"`
}

// Default returns the compiled-in baseline every deployment starts from.
func Default() *Config {
	return &Config{
		BindAddr: "127.0.0.1:8620",
		LogLevel: "INFO",
		Scheduler: SchedulerConfig{
			IdlePassInterval: 50 * time.Millisecond,
			JobYieldInterval: 10 * time.Millisecond,
		},
		Session: SessionConfig{
			MaxConcurrentSessions: 32,
		},
		Persistence: PersistenceConfig{Backend: "mem"},
		Monitor: MonitorConfig{
			PullInterval: 30 * time.Second,
		},
	}
}

// LoadFile parses an HCL file at path and merges it over Default().
func LoadFile(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, corerr.Wrap(corerr.ConfigParseError, "read config file "+path, err)
	}
	return Load(src, path)
}

// Load parses HCL source and merges it over Default(). filename is used
// only for diagnostic positions.
func Load(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, corerr.Wrap(corerr.ConfigParseError, "parse "+filename, diags)
	}

	cfg := Default()
	if diags := gohcl.DecodeBody(file.Body, nil, cfg); diags.HasErrors() {
		return nil, corerr.Wrap(corerr.ConfigParseError, "decode "+filename, diags)
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, corerr.Wrap(corerr.ConfigParseError, "parse "+filename, err)
	}
	return cfg, nil
}

// parseDurations converts the *_HCL string fields set during decode into
// their time.Duration counterparts, leaving the compiled-in default when
// the HCL form was left blank.
func (c *Config) parseDurations() error {
	if c.Scheduler.IdlePassIntervalHCL != "" {
		d, err := time.ParseDuration(c.Scheduler.IdlePassIntervalHCL)
		if err != nil {
			return err
		}
		c.Scheduler.IdlePassInterval = d
	}
	if c.Scheduler.JobYieldIntervalHCL != "" {
		d, err := time.ParseDuration(c.Scheduler.JobYieldIntervalHCL)
		if err != nil {
			return err
		}
		c.Scheduler.JobYieldInterval = d
	}
	if c.Monitor.PullIntervalHCL != "" {
		d, err := time.ParseDuration(c.Monitor.PullIntervalHCL)
		if err != nil {
			return err
		}
		c.Monitor.PullInterval = d
	}
	return nil
}
