package proxy

import "sync/atomic"

// Rotator hands out endpoints round-robin. A Rotator over an empty list
// always returns nil, meaning "connect from the host's own network".
// It is safe for concurrent use.
type Rotator struct {
	endpoints []Endpoint
	next      atomic.Uint64
}

// NewRotator creates a Rotator over a copy of endpoints.
func NewRotator(endpoints []Endpoint) *Rotator {
	eps := make([]Endpoint, len(endpoints))
	copy(eps, endpoints)
	return &Rotator{endpoints: eps}
}

// Next returns the next endpoint, or nil when there are none.
func (r *Rotator) Next() *Endpoint {
	if r == nil || len(r.endpoints) == 0 {
		return nil
	}
	i := r.next.Add(1) - 1
	ep := r.endpoints[i%uint64(len(r.endpoints))]
	return &ep
}

// Len returns the number of endpoints in rotation.
func (r *Rotator) Len() int {
	if r == nil {
		return 0
	}
	return len(r.endpoints)
}
