// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads bridge configuration with priority
// env > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// maxConfigFileBytes caps how much of a config file is read. A config
// larger than this is malformed by definition.
const maxConfigFileBytes = 1 << 20

// ErrConfigTooLarge indicates the config file exceeds the size cap.
var ErrConfigTooLarge = errors.New("config file too large")

// Config is the complete bridge configuration.
type Config struct {
	// HostApp is the automation target application.
	HostApp string `yaml:"host_app" validate:"required"`

	// Interpreter overrides the interpreter binary. Empty means the
	// system default.
	Interpreter string `yaml:"interpreter"`

	Script ScriptConfig `yaml:"script"`
	Engine EngineConfig `yaml:"engine"`
	Cache  CacheConfig  `yaml:"cache"`
	Log    LogConfig    `yaml:"log"`
}

// ScriptConfig tunes generation and the size guard.
type ScriptConfig struct {
	// SoftLimit triggers a minimal-variant re-render, in runes.
	SoftLimit int `yaml:"soft_limit" validate:"gt=0"`
	// HardLimit rejects the operation outright, in runes.
	HardLimit int `yaml:"hard_limit" validate:"gt=0,gtefield=SoftLimit"`
}

// EngineConfig tunes script execution.
type EngineConfig struct {
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxConcurrent int           `yaml:"max_concurrent" validate:"gt=0,lte=64"`
	MaxOutputMB   int           `yaml:"max_output_mb" validate:"gt=0,lte=256"`
}

// CacheConfig tunes result caching.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TaskTTL    time.Duration `yaml:"task_ttl" validate:"gt=0"`
	ProjectTTL time.Duration `yaml:"project_ttl" validate:"gt=0"`
	TagTTL     time.Duration `yaml:"tag_ttl" validate:"gt=0"`
	FolderTTL  time.Duration `yaml:"folder_ttl" validate:"gt=0"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
}

// TTLs converts the cache section to the per-class map the cache
// manager consumes.
func (c CacheConfig) TTLs() map[operation.EntityClass]time.Duration {
	return map[operation.EntityClass]time.Duration{
		operation.EntityTask:    c.TaskTTL,
		operation.EntityProject: c.ProjectTTL,
		operation.EntityTag:     c.TagTTL,
		operation.EntityFolder:  c.FolderTTL,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HostApp: "OmniFocus",
		Script: ScriptConfig{
			SoftLimit: 32000,
			HardLimit: 64000,
		},
		Engine: EngineConfig{
			Timeout:       60 * time.Second,
			MaxConcurrent: 4,
			MaxOutputMB:   4,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TaskTTL:    30 * time.Second,
			ProjectTTL: 5 * time.Minute,
			TagTTL:     5 * time.Minute,
			FolderTTL:  10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load merges configuration with priority env > file > defaults.
//
// Inputs:
//   - path: YAML config file. Empty or missing file falls through to
//     defaults silently; a present but invalid file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() > maxConfigFileBytes {
		return fmt.Errorf("%w: %d bytes", ErrConfigTooLarge, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("TASKBRIDGE_HOST_APP"); v != "" {
		cfg.HostApp = v
	}
	if v := os.Getenv("TASKBRIDGE_INTERPRETER"); v != "" {
		cfg.Interpreter = v
	}
	if v := os.Getenv("TASKBRIDGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Timeout = d
		}
	}
	if v := os.Getenv("TASKBRIDGE_MAX_CONCURRENT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxConcurrent = i
		}
	}
	if v := os.Getenv("TASKBRIDGE_SOFT_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Script.SoftLimit = i
		}
	}
	if v := os.Getenv("TASKBRIDGE_HARD_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Script.HardLimit = i
		}
	}
	if v := os.Getenv("TASKBRIDGE_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = b
		}
	}
	if v := os.Getenv("TASKBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
