package main

import (
	"net/http"
	"testing"
)

func TestStateVolumeLimit(t *testing.T) {
	setupTestEnv(t)

	limit := routeLimits[routeState].max
	for i := 0; i < limit; i++ {
		if !allowRoute(routeState, "10.6.0.1") {
			t.Fatalf("request %d rejected inside the window limit of %d", i+1, limit)
		}
	}
	for i := 0; i < 5; i++ {
		if allowRoute(routeState, "10.6.0.1") {
			t.Errorf("request %d allowed past the window limit of %d", limit+i+1, limit)
		}
	}

	// A different address gets its own budget.
	if !allowRoute(routeState, "10.6.0.2") {
		t.Error("fresh address rejected after another address was exhausted")
	}
}

func TestPlaceVolumeLimitIsOnePerWindow(t *testing.T) {
	setupTestEnv(t)

	if !allowRoute(routePlace, "10.6.1.1") {
		t.Fatal("first placement rejected")
	}
	if allowRoute(routePlace, "10.6.1.1") {
		t.Error("second placement in the same window allowed")
	}
	if !allowRoute(routePlace, "10.6.1.2") {
		t.Error("placement from a different address rejected")
	}
}

func TestUnknownRouteIsUnlimited(t *testing.T) {
	setupTestEnv(t)

	for i := 0; i < 100; i++ {
		if !allowRoute("no-such-route", "10.6.2.1") {
			t.Fatal("route without a configured limit was throttled")
		}
	}
}

func TestLimitedHandlerReturns429(t *testing.T) {
	setupTestEnv(t)

	handler := limited(routeState, handleHello)
	limit := routeLimits[routeState].max
	for i := 0; i < limit; i++ {
		rr := executeRequest(handler, "GET", "/hello", nil, func(r *http.Request) {
			r.RemoteAddr = "10.6.3.1:40000"
		})
		if rr.Code != 200 {
			t.Fatalf("request %d: got %d, want 200", i+1, rr.Code)
		}
	}
	rr := executeRequest(handler, "GET", "/hello", nil, func(r *http.Request) {
		r.RemoteAddr = "10.6.3.1:40000"
	})
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("request past the limit: got %d, want 429", rr.Code)
	}
}

func TestVisitorKeysAreRouteScoped(t *testing.T) {
	setupTestEnv(t)

	// Exhausting the place budget must not consume the state budget.
	if !allowRoute(routePlace, "10.6.4.1") {
		t.Fatal("first placement rejected")
	}
	if allowRoute(routePlace, "10.6.4.1") {
		t.Fatal("second placement allowed")
	}
	if !allowRoute(routeState, "10.6.4.1") {
		t.Error("state read throttled by the place budget")
	}

	visitorLock.Lock()
	defer visitorLock.Unlock()
	for _, key := range []string{"place|10.6.4.1", "state|10.6.4.1"} {
		if _, ok := visitors[key]; !ok {
			t.Errorf("missing visitor entry %s", key)
		}
	}
}
