// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "OmniFocus", cfg.HostApp)
	assert.Equal(t, 32000, cfg.Script.SoftLimit)
	assert.Equal(t, 64000, cfg.Script.HardLimit)
	assert.Equal(t, 60*time.Second, cfg.Engine.Timeout)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.TaskTTL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Script.SoftLimit, cfg.Script.SoftLimit)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host_app: OmniFocus
script:
  soft_limit: 10000
  hard_limit: 20000
engine:
  timeout: 30s
  max_concurrent: 2
  max_output_mb: 8
cache:
  enabled: false
  task_ttl: 10s
  project_ttl: 1m
  tag_ttl: 1m
  folder_ttl: 2m
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.Script.SoftLimit)
	assert.Equal(t, 30*time.Second, cfg.Engine.Timeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host_app: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
script:
  soft_limit: 50000
  hard_limit: 100
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err, "hard limit below soft limit must be rejected")
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	big := make([]byte, maxConfigFileBytes+1)
	for i := range big {
		big[i] = '#'
	}
	require.NoError(t, os.WriteFile(path, big, 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrConfigTooLarge)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host_app: OmniFocus\n"), 0o644))

	t.Setenv("TASKBRIDGE_HOST_APP", "OmniFocus 4")
	t.Setenv("TASKBRIDGE_TIMEOUT", "90s")
	t.Setenv("TASKBRIDGE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "OmniFocus 4", cfg.HostApp)
	assert.Equal(t, 90*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInvalidLogLevelRejected(t *testing.T) {
	t.Setenv("TASKBRIDGE_LOG_LEVEL", "loud")
	_, err := Load("")
	assert.Error(t, err)
}

func TestCacheTTLsMap(t *testing.T) {
	ttls := Default().Cache.TTLs()
	assert.Equal(t, 30*time.Second, ttls[operation.EntityTask])
	assert.Equal(t, 5*time.Minute, ttls[operation.EntityProject])
	assert.Equal(t, 10*time.Minute, ttls[operation.EntityFolder])
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host_app: OmniFocus\n"), 0o644))

	reloaded := make(chan Config, 1)
	w, err := NewWatcher(path, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, os.WriteFile(path, []byte("host_app: OmniFocus 4\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "OmniFocus 4", cfg.HostApp)
	case <-time.After(5 * time.Second):
		t.Fatal("reload handler was not called")
	}
}

func TestWatcherKeepsPreviousConfigOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host_app: OmniFocus\n"), 0o644))

	calls := make(chan Config, 4)
	w, err := NewWatcher(path, func(cfg Config) { calls <- cfg }, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// invalid content: handler must not fire
	require.NoError(t, os.WriteFile(path, []byte("host_app: [broken"), 0o644))

	select {
	case cfg := <-calls:
		t.Fatalf("handler fired for invalid config: %+v", cfg)
	case <-time.After(time.Second):
	}
}
