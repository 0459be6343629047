// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthRegistry aggregates named health checkers and caches their results.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	cache    map[string]HealthResult
	cacheTTL time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewHealthRegistry creates a registry. A zero cacheTTL disables caching;
// a zero checkTimeout defaults to 2s per checker.
func NewHealthRegistry(cacheTTL, checkTimeout time.Duration) *HealthRegistry {
	if checkTimeout <= 0 {
		checkTimeout = 2 * time.Second
	}
	return &HealthRegistry{
		checkers: make(map[string]HealthChecker),
		cache:    make(map[string]HealthResult),
		cacheTTL: cacheTTL,
		timeout:  checkTimeout,
		now:      time.Now,
	}
}

// Register adds or replaces the checker for a component.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
	delete(r.cache, name)
}

// Check checks the health of a specific component.
func (r *HealthRegistry) Check(ctx context.Context, name string) (HealthResult, error) {
	r.mu.RLock()
	checker, exists := r.checkers[name]
	r.mu.RUnlock()

	if !exists {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	return r.run(ctx, name, checker), nil
}

// CheckAll checks every registered component concurrently.
// Results are sorted by component name; the overall status is the worst one.
func (r *HealthRegistry) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	checkers := make(map[string]HealthChecker, len(r.checkers))
	for name, c := range r.checkers {
		names = append(names, name)
		checkers[name] = c
	}
	r.mu.RUnlock()
	sort.Strings(names)

	results := make([]HealthResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = r.run(ctx, name, checkers[name])
		}(i, name)
	}
	wg.Wait()

	statuses := make([]HealthStatus, len(results))
	for i, res := range results {
		statuses[i] = res.Status
	}
	return results, Worst(statuses...)
}

func (r *HealthRegistry) run(ctx context.Context, name string, checker HealthChecker) HealthResult {
	if r.cacheTTL > 0 {
		r.mu.RLock()
		cached, ok := r.cache[name]
		r.mu.RUnlock()
		if ok && r.now().Sub(cached.LastCheck) < r.cacheTTL {
			return cached
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	result := checker.Check(checkCtx)
	result.Component = name
	if result.LastCheck.IsZero() {
		result.LastCheck = r.now()
	}
	if result.Status == "" {
		result.Status = HealthUnhealthy
	}

	if r.cacheTTL > 0 {
		r.mu.Lock()
		r.cache[name] = result
		r.mu.Unlock()
	}
	return result
}

// StaticHealthChecker returns a constant status.
type StaticHealthChecker struct {
	status  HealthStatus
	message string
}

// NewStaticHealthChecker creates a checker with a fixed result.
func NewStaticHealthChecker(status HealthStatus, message string) *StaticHealthChecker {
	return &StaticHealthChecker{status: status, message: message}
}

// Check returns the constant health status.
func (s *StaticHealthChecker) Check(context.Context) HealthResult {
	return HealthResult{
		Status:    s.status,
		Message:   s.message,
		LastCheck: time.Now(),
	}
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) HealthResult

// Check calls f.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult {
	return f(ctx)
}
