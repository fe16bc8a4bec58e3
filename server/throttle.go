package server

import (
	"net"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultThrottleWindow is how long a per-IP connection count is retained
// before ristretto's TTL expires the entry and the counter resets.
const DefaultThrottleWindow = time.Minute

// DefaultThrottleMaxConnsPerWindow is how many concurrent connections one
// remote IP may hold open before new ones are refused.
const DefaultThrottleMaxConnsPerWindow = 20

// ristrettoThrottle is a ConnectionThrottle backed by a ristretto cache: a
// per-IP counter with a sliding TTL. Counts are best-effort, not linearized
// across concurrent Allow calls for the same IP, which is an acceptable
// tradeoff for a connection-admission throttle rather than a billing meter.
type ristrettoThrottle struct {
	cache *ristretto.Cache
	max   int64
}

// NewDefaultThrottle returns a ConnectionThrottle that allows up to
// DefaultThrottleMaxConnsPerWindow concurrent connections per remote IP.
func NewDefaultThrottle() ConnectionThrottle {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		// The config constants above are fixed at compile time, so this
		// branch is unreachable in practice; fail open rather than panic.
		return allowAllThrottle{}
	}
	return &ristrettoThrottle{cache: cache, max: DefaultThrottleMaxConnsPerWindow}
}

func (t *ristrettoThrottle) Allow(remoteIP net.IP) bool {
	key := remoteIP.String()
	var count int64
	if v, ok := t.cache.Get(key); ok {
		count, _ = v.(int64)
	}
	if count >= t.max {
		return false
	}
	t.cache.SetWithTTL(key, count+1, 1, DefaultThrottleWindow)
	return true
}

func (t *ristrettoThrottle) Release(remoteIP net.IP) {
	key := remoteIP.String()
	v, ok := t.cache.Get(key)
	if !ok {
		return
	}
	count, _ := v.(int64)
	if count <= 0 {
		return
	}
	t.cache.SetWithTTL(key, count-1, 1, DefaultThrottleWindow)
}

// allowAllThrottle is the degraded-mode fallback if the ristretto cache
// itself cannot be constructed.
type allowAllThrottle struct{}

func (allowAllThrottle) Allow(net.IP) bool { return true }
func (allowAllThrottle) Release(net.IP)    {}
