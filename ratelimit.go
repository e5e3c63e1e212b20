package main

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Route names for the per-IP volume limiters. These blunt IP-level
// abuse independent of the per-identity cooldown, which is enforced
// separately from the verified token inside the placement pipeline.
const (
	routeState    = "state"
	routePlace    = "place"
	routeRegister = "register"
)

type routeLimit struct {
	window time.Duration
	max    int
}

var routeLimits map[string]routeLimit

func initRateLimits() {
	routeLimits = map[string]routeLimit{
		// Polling clients read state every second or two.
		routeState: {window: 20 * time.Second, max: 20},
		// One placement per cooldown window per IP.
		routePlace: {window: time.Duration(Config.CooldownSeconds) * time.Second, max: 1},
		// Registration is the abusable path (identity minting + captcha
		// spend), so it gets the coarsest cap.
		routeRegister: {window: time.Hour, max: 5},
	}
}

type visitor struct {
	lim      *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

var (
	visitors    = make(map[string]*visitor)
	visitorLock sync.Mutex
)

// allowRoute is the (IP, route) volume gate. Limiters are created
// lazily on first sight and swept once idle.
func allowRoute(route, ip string) bool {
	rl, ok := routeLimits[route]
	if !ok {
		return true
	}
	key := route + "|" + ip

	visitorLock.Lock()
	defer visitorLock.Unlock()
	v, ok := visitors[key]
	if !ok {
		v = &visitor{
			lim:    rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.max)), rl.max),
			window: rl.window,
		}
		visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.lim.Allow()
}

func sweepVisitors(quit <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			now := time.Now()
			visitorLock.Lock()
			for key, v := range visitors {
				if now.Sub(v.lastSeen) > 2*v.window {
					delete(visitors, key)
				}
			}
			visitorLock.Unlock()
		}
	}
}

// limited wraps a handler with a route's volume gate.
func limited(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowRoute(route, clientIP(r)) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
