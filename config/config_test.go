// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devicelab/core/corerr"
)

func TestDefault_HasSaneBaseline(t *testing.T) {
	cfg := Default()
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, "mem", cfg.Persistence.Backend)
	require.Equal(t, 50*time.Millisecond, cfg.Scheduler.IdlePassInterval)
}

func TestLoad_ParsesAndMergesOverDefaults(t *testing.T) {
	src := []byte(`
bind_addr = "0.0.0.0:9000"
log_level = "DEBUG"

scheduler {
  shuffle_labs       = true
  idle_pass_interval = "100ms"
  job_yield_interval = "20ms"
}

persistence {
  backend      = "bolt"
  bolt_db_path = "/var/lib/devicelab/alloc.db"
}
`)
	cfg, err := Load(src, "test.hcl")
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9000", cfg.BindAddr)
	require.Equal(t, "DEBUG", cfg.LogLevel)
	require.True(t, cfg.Scheduler.ShuffleLabs)
	require.Equal(t, 100*time.Millisecond, cfg.Scheduler.IdlePassInterval)
	require.Equal(t, 20*time.Millisecond, cfg.Scheduler.JobYieldInterval)
	require.Equal(t, "bolt", cfg.Persistence.Backend)
	require.Equal(t, "/var/lib/devicelab/alloc.db", cfg.Persistence.BoltDB)

	// Untouched defaults survive the merge.
	require.Equal(t, int64(32), cfg.Session.MaxConcurrentSessions)
}

func TestLoad_InvalidHCLReturnsConfigParseError(t *testing.T) {
	_, err := Load([]byte(`not valid hcl {{{`), "bad.hcl")
	require.Error(t, err)
	require.True(t, corerr.Is(err, corerr.ConfigParseError))
}

func TestApplyOverrides_DecodesWeaklyTypedValues(t *testing.T) {
	cfg := Default()
	err := ApplyOverrides(cfg, map[string]interface{}{
		"bind_addr": "10.0.0.1:8620",
		"log_json":  "true",
	})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:8620", cfg.BindAddr)
	require.True(t, cfg.LogJSON)
}
