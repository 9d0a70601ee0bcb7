package geocode

import (
	"context"
	"sync"
)

// Result is a completed resolution.
type Result struct {
	Latitude  float64
	Longitude float64
	Address   string
}

type request struct {
	lat, lon float64
}

// AsyncResolver runs an AddressResolver off the caller's goroutine.
//
// At most one request is in flight. A Submit while busy replaces any queued
// request, so only the newest fix is resolved next.
type AsyncResolver struct {
	resolver AddressResolver
	results  chan Result

	mu      sync.Mutex
	busy    bool
	pending *request
}

// NewAsyncResolver wraps resolver.
func NewAsyncResolver(resolver AddressResolver) *AsyncResolver {
	return &AsyncResolver{
		resolver: resolver,
		results:  make(chan Result, 1),
	}
}

// Submit schedules resolution of lat/lon. It never blocks.
//
// Returns true if a worker was started, false if the request was queued
// behind the one in flight.
func (a *AsyncResolver) Submit(ctx context.Context, lat, lon float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.busy {
		a.pending = &request{lat: lat, lon: lon}
		return false
	}
	a.busy = true
	go a.work(ctx, request{lat: lat, lon: lon})
	return true
}

// Results delivers completed resolutions.
func (a *AsyncResolver) Results() <-chan Result {
	return a.results
}

// Busy reports whether a request is in flight.
func (a *AsyncResolver) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

func (a *AsyncResolver) work(ctx context.Context, req request) {
	for {
		addr := a.resolver.Resolve(ctx, req.lat, req.lon)

		select {
		case a.results <- Result{Latitude: req.lat, Longitude: req.lon, Address: addr}:
		case <-ctx.Done():
			a.mu.Lock()
			a.busy = false
			a.pending = nil
			a.mu.Unlock()
			return
		}

		a.mu.Lock()
		if a.pending == nil {
			a.busy = false
			a.mu.Unlock()
			return
		}
		req = *a.pending
		a.pending = nil
		a.mu.Unlock()
	}
}
