package server

import (
	"net"
	"testing"

	"github.com/dgraph-io/ristretto"
)

func mustRistrettoCache(t *testing.T) *ristretto.Cache {
	t.Helper()
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e3,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		t.Fatalf("ristretto.NewCache: %v", err)
	}
	return cache
}

// allow is Allow followed by cache.Wait, since ristretto's writes are
// applied asynchronously and the throttle's own Allow does not block on
// that for the hot path.
func allow(throttle *ristrettoThrottle, ip net.IP) bool {
	ok := throttle.Allow(ip)
	throttle.cache.Wait()
	return ok
}

func release(throttle *ristrettoThrottle, ip net.IP) {
	throttle.Release(ip)
	throttle.cache.Wait()
}

func TestDefaultThrottleAllowsUpToMax(t *testing.T) {
	throttle := &ristrettoThrottle{max: 2, cache: mustRistrettoCache(t)}
	ip := net.IPv4(10, 0, 0, 1)

	if !allow(throttle, ip) {
		t.Fatal("expected first connection to be allowed")
	}
	if !allow(throttle, ip) {
		t.Fatal("expected second connection to be allowed")
	}
	if allow(throttle, ip) {
		t.Fatal("expected third connection to be refused once max is reached")
	}
}

func TestDefaultThrottleReleaseFreesASlot(t *testing.T) {
	throttle := &ristrettoThrottle{max: 1, cache: mustRistrettoCache(t)}
	ip := net.IPv4(10, 0, 0, 2)

	if !allow(throttle, ip) {
		t.Fatal("expected first connection to be allowed")
	}
	if allow(throttle, ip) {
		t.Fatal("expected second connection to be refused")
	}
	release(throttle, ip)
	if !allow(throttle, ip) {
		t.Fatal("expected a connection to be allowed again after Release")
	}
}

func TestDefaultThrottleTracksIPsIndependently(t *testing.T) {
	throttle := &ristrettoThrottle{max: 1, cache: mustRistrettoCache(t)}
	a, b := net.IPv4(10, 0, 0, 3), net.IPv4(10, 0, 0, 4)

	if !allow(throttle, a) {
		t.Fatal("expected IP a to be allowed")
	}
	if !allow(throttle, b) {
		t.Fatal("expected IP b to be allowed independently of IP a's count")
	}
}

func TestAllowAllThrottleNeverRefuses(t *testing.T) {
	throttle := allowAllThrottle{}
	ip := net.IPv4(10, 0, 0, 5)
	for i := 0; i < 100; i++ {
		if !throttle.Allow(ip) {
			t.Fatal("allowAllThrottle must never refuse")
		}
	}
	throttle.Release(ip)
}
