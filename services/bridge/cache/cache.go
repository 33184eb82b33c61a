// Copyright (C) 2025 Harborline Systems (oss@harborline.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache holds validated read results keyed by operation
// fingerprint.
//
// Entries expire by per-entity-class TTL and carry a checksum of their
// stored payload. A checksum mismatch on read means the entry was
// corrupted in memory; the entry is dropped and the read reported as a
// miss. Corruption never reaches callers as data or as an error.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/harborline/taskbridge/services/bridge/operation"
)

// =============================================================================
// CACHE MANAGER
// =============================================================================

// Default TTLs per entity class. Task state churns fastest.
var DefaultTTLs = map[operation.EntityClass]time.Duration{
	operation.EntityTask:    30 * time.Second,
	operation.EntityProject: 5 * time.Minute,
	operation.EntityTag:     5 * time.Minute,
	operation.EntityFolder:  10 * time.Minute,
}

// entry is one cached result.
type entry struct {
	payload   any
	checksum  uint64
	expiresAt time.Time
	classes   []operation.EntityClass
}

// Manager is an in-memory result cache with TTL expiry, checksum
// verification, and entity-class invalidation.
//
// Thread Safety: safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttls    map[operation.EntityClass]time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithTTLs overrides per-class TTLs. Classes absent from m keep their
// defaults.
func WithTTLs(m map[operation.EntityClass]time.Duration) ManagerOption {
	return func(c *Manager) {
		for class, ttl := range m {
			if ttl > 0 {
				c.ttls[class] = ttl
			}
		}
	}
}

// WithClock injects the time source. Used by tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(c *Manager) {
		if now != nil {
			c.now = now
		}
	}
}

// NewManager creates a Manager with default TTLs.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ttls := make(map[operation.EntityClass]time.Duration, len(DefaultTTLs))
	for class, ttl := range DefaultTTLs {
		ttls[class] = ttl
	}
	c := &Manager{
		entries: make(map[string]*entry),
		ttls:    ttls,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached payload for an operation fingerprint.
//
// Description:
//
//	A hit requires the entry to exist, to be inside its TTL, and to
//	pass checksum verification. Expired and corrupt entries are removed
//	on the way out. Corruption is logged and counted but surfaces only
//	as a miss.
func (c *Manager) Get(ctx context.Context, fingerprint string) (any, bool) {
	ctx, span := startCacheSpan(ctx, "Get", fingerprint)
	defer span.End()

	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok {
		recordMiss(ctx, "absent")
		return nil, false
	}

	if c.now().After(e.expiresAt) {
		c.remove(fingerprint, e)
		recordMiss(ctx, "expired")
		return nil, false
	}

	if checksum(e.payload) != e.checksum {
		c.remove(fingerprint, e)
		recordCorruption(ctx)
		recordMiss(ctx, "corrupt")
		c.logger.Warn("cache entry failed checksum, dropping",
			"fingerprint", fingerprint)
		return nil, false
	}

	recordHit(ctx)
	return e.payload, true
}

// Set stores a payload for an operation. The TTL is the tightest TTL
// among the entity classes the operation depends on.
func (c *Manager) Set(ctx context.Context, op *operation.Compiled, payload any) {
	if op == nil {
		return
	}
	_, span := startCacheSpan(ctx, "Set", op.Fingerprint)
	defer span.End()

	classes := op.DependsOn()
	ttl := c.ttlFor(classes)

	c.mu.Lock()
	c.entries[op.Fingerprint] = &entry{
		payload:   payload,
		checksum:  checksum(payload),
		expiresAt: c.now().Add(ttl),
		classes:   classes,
	}
	c.mu.Unlock()

	c.logger.Debug("cache entry stored",
		"fingerprint", op.Fingerprint,
		"ttl", ttl,
		"classes", classNames(classes))
}

// Invalidate drops every entry depending on the given entity class.
// Called after any successful write touching that class.
func (c *Manager) Invalidate(ctx context.Context, class operation.EntityClass) int {
	c.mu.Lock()
	var dropped int
	for fp, e := range c.entries {
		for _, dep := range e.classes {
			if dep == class {
				delete(c.entries, fp)
				dropped++
				break
			}
		}
	}
	c.mu.Unlock()

	if dropped > 0 {
		recordInvalidations(ctx, string(class), int64(dropped))
		c.logger.Debug("cache invalidated",
			"class", string(class),
			"dropped", dropped)
	}
	return dropped
}

// Len reports the number of live entries, expired or not.
func (c *Manager) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge empties the cache.
func (c *Manager) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// remove deletes fingerprint only if it still maps to the same entry,
// so a concurrent Set is never clobbered.
func (c *Manager) remove(fingerprint string, e *entry) {
	c.mu.Lock()
	if cur, ok := c.entries[fingerprint]; ok && cur == e {
		delete(c.entries, fingerprint)
	}
	c.mu.Unlock()
}

// ttlFor picks the strictest TTL across the dependency classes.
func (c *Manager) ttlFor(classes []operation.EntityClass) time.Duration {
	ttl := time.Duration(0)
	for _, class := range classes {
		t, ok := c.ttls[class]
		if !ok {
			continue
		}
		if ttl == 0 || t < ttl {
			ttl = t
		}
	}
	if ttl == 0 {
		ttl = DefaultTTLs[operation.EntityTask]
	}
	return ttl
}

// checksum hashes the payload's canonical JSON form. Payloads come out
// of encoding/json so re-marshaling is total for everything stored.
func checksum(payload any) uint64 {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

func classNames(classes []operation.EntityClass) []string {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = string(c)
	}
	return names
}
