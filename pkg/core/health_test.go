// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorst(t *testing.T) {
	tests := []struct {
		name     string
		statuses []HealthStatus
		want     HealthStatus
	}{
		{"empty", nil, HealthHealthy},
		{"all healthy", []HealthStatus{HealthHealthy, HealthHealthy}, HealthHealthy},
		{"degraded", []HealthStatus{HealthHealthy, HealthDegraded}, HealthDegraded},
		{"unhealthy wins", []HealthStatus{HealthDegraded, HealthUnhealthy, HealthHealthy}, HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Worst(tt.statuses...); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHealthRegistryCheckAll(t *testing.T) {
	reg := NewHealthRegistry(0, time.Second)
	reg.Register("search", NewStaticHealthChecker(HealthHealthy, "ok"))
	reg.Register("code", NewStaticHealthChecker(HealthDegraded, "slow"))
	reg.Register("discussion", NewStaticHealthChecker(HealthUnhealthy, "down"))

	results, overall := reg.CheckAll(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if overall != HealthUnhealthy {
		t.Errorf("expected Unhealthy overall, got %v", overall)
	}
	want := []string{"code", "discussion", "search"}
	for i, res := range results {
		if res.Component != want[i] {
			t.Errorf("result %d: expected component %q, got %q", i, want[i], res.Component)
		}
	}
}

func TestHealthRegistryCheckNotFound(t *testing.T) {
	reg := NewHealthRegistry(0, 0)
	if _, err := reg.Check(context.Background(), "missing"); err == nil {
		t.Errorf("expected error for unregistered checker")
	}
}

func TestHealthRegistryAppliesTimeout(t *testing.T) {
	reg := NewHealthRegistry(0, 20*time.Millisecond)
	reg.Register("slow", HealthCheckFunc(func(ctx context.Context) HealthResult {
		select {
		case <-ctx.Done():
			return HealthResult{Status: HealthUnhealthy, Message: "timeout"}
		case <-time.After(time.Second):
			return HealthResult{Status: HealthHealthy}
		}
	}))

	start := time.Now()
	res, err := reg.Check(context.Background(), "slow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != HealthUnhealthy {
		t.Errorf("expected Unhealthy due to timeout, got %v", res.Status)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("check did not honour timeout")
	}
	if res.LastCheck.IsZero() {
		t.Errorf("expected LastCheck to be set")
	}
}

func TestHealthRegistryCachesResults(t *testing.T) {
	var calls atomic.Int32
	reg := NewHealthRegistry(time.Minute, 0)
	reg.Register("svc", HealthCheckFunc(func(context.Context) HealthResult {
		calls.Add(1)
		return HealthResult{Status: HealthHealthy}
	}))

	for i := 0; i < 3; i++ {
		if _, err := reg.Check(context.Background(), "svc"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call with caching, got %d", calls.Load())
	}
}

func TestHealthRegistryEmptyStatusIsUnhealthy(t *testing.T) {
	reg := NewHealthRegistry(0, 0)
	reg.Register("blank", HealthCheckFunc(func(context.Context) HealthResult { return HealthResult{} }))

	res, _ := reg.Check(context.Background(), "blank")
	if res.Status != HealthUnhealthy {
		t.Errorf("expected Unhealthy for empty status, got %v", res.Status)
	}
}
