// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package health runs a registry of named readiness checks against the
// sync core's own components (mirror readiness, sync manager connection,
// credential vault, local store) and exposes their
// combined status over HTTP.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sagesync/syncroom/internal/logger"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one named health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// HealthCheck is a single probe; a non-nil error marks the component unhealthy.
type HealthCheck func(ctx context.Context) error

type cachedResult struct {
	result    *CheckResult
	expiresAt time.Time
}

// HealthChecker runs a set of named checks, caching each result for a short
// TTL so a busy /healthz endpoint doesn't re-dial the relay or re-open the
// mirror file on every scrape.
type HealthChecker struct {
	mu       sync.RWMutex
	checks   map[string]HealthCheck
	timeout  time.Duration
	logger   logger.Logger
	cacheTTL time.Duration
	cache    map[string]*cachedResult
}

// NewHealthChecker creates a HealthChecker whose individual checks are each
// bounded by timeout (default 5s if zero).
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:   make(map[string]HealthCheck),
		timeout:  timeout,
		logger:   logger.GetDefaultLogger(),
		cacheTTL: 10 * time.Second,
		cache:    make(map[string]*cachedResult),
	}
}

// SetLogger overrides the logger used for check registration/failure events.
func (h *HealthChecker) SetLogger(l logger.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = l
}

// SetCacheTTL overrides how long a check result is reused before re-running.
func (h *HealthChecker) SetCacheTTL(ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cacheTTL = ttl
}

// RegisterCheck adds or replaces the named check.
func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
	h.logger.Info("health check registered", logger.String("name", name))
}

// UnregisterCheck removes the named check and any cached result for it.
func (h *HealthChecker) UnregisterCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
	delete(h.cache, name)
	h.logger.Info("health check unregistered", logger.String("name", name))
}

// Check runs (or returns the cached result for) the named check.
func (h *HealthChecker) Check(ctx context.Context, name string) (*CheckResult, error) {
	h.mu.RLock()
	check, exists := h.checks[name]
	h.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("health check not found: %s", name)
	}

	if cached := h.getCachedResult(name); cached != nil {
		return cached, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	duration := time.Since(start)

	result := &CheckResult{
		Name:      name,
		Timestamp: time.Now(),
		Duration:  duration,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		h.logger.Warn("health check failed",
			logger.String("name", name), logger.Error(err), logger.Duration("duration", duration))
	} else {
		result.Status = StatusHealthy
		h.logger.Debug("health check passed",
			logger.String("name", name), logger.Duration("duration", duration))
	}

	h.cacheResult(name, result)
	return result, nil
}

// CheckAll runs every registered check concurrently.
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]*CheckResult {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()

	results := make(map[string]*CheckResult, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			result, err := h.Check(ctx, name)
			if err != nil {
				result = &CheckResult{Name: name, Status: StatusUnhealthy, Message: err.Error(), Timestamp: time.Now()}
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// GetOverallStatus collapses every registered check to one Status: healthy
// unless at least one check is unhealthy or degraded.
func (h *HealthChecker) GetOverallStatus(ctx context.Context) Status {
	results := h.CheckAll(ctx)
	if len(results) == 0 {
		return StatusHealthy
	}

	degraded := false
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *HealthChecker) getCachedResult(name string) *CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cached, exists := h.cache[name]
	if !exists || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.result
}

func (h *HealthChecker) cacheResult(name string, result *CheckResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache[name] = &cachedResult{result: result, expiresAt: time.Now().Add(h.cacheTTL)}
}

// ClearCache discards every cached result, forcing the next Check to re-run.
func (h *HealthChecker) ClearCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = make(map[string]*cachedResult)
	h.logger.Debug("health check cache cleared")
}

// SystemHealth is the aggregate view returned by GetSystemHealth.
type SystemHealth struct {
	Status    Status                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks"`
}

// GetSystemHealth runs every check and reports them alongside the overall status.
func (h *HealthChecker) GetSystemHealth(ctx context.Context) *SystemHealth {
	checks := h.CheckAll(ctx)
	return &SystemHealth{
		Status:    h.GetOverallStatus(ctx),
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// KeyStoreHealthCheck adapts a synchronous keystore probe (e.g.
// credentialvault.Vault.Exists) into a context-aware HealthCheck.
func KeyStoreHealthCheck(checker func() error) HealthCheck {
	return func(ctx context.Context) error {
		if checker == nil {
			return fmt.Errorf("keystore checker not configured")
		}
		done := make(chan error, 1)
		go func() { done <- checker() }()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		}
	}
}

// DatabaseHealthCheck adapts a store's Ping method (localstore.Store,
// postgres pool, bbolt file) into a HealthCheck.
func DatabaseHealthCheck(ping func(context.Context) error) HealthCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return fmt.Errorf("database ping function not configured")
		}
		return ping(ctx)
	}
}

// ServiceHealthCheck adapts a reachability probe against an external
// service URL (the sync relay) into a HealthCheck.
func ServiceHealthCheck(url string, checker func(context.Context, string) error) HealthCheck {
	return func(ctx context.Context) error {
		if checker == nil {
			return fmt.Errorf("service checker not configured")
		}
		return checker(ctx, url)
	}
}
