package engine

import (
	"strings"
	"sync"
	"time"
)

// HostMemory holds the hosts escalated off the plain route after serving a
// challenge page there. An escalation lasts ttl from the latest sighting;
// expired hosts fall back to the static route table.
type HostMemory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	hosts map[string]escalation

	stop     chan struct{}
	stopOnce sync.Once
}

type escalation struct {
	route     string
	until     time.Time
	sightings int
}

// NewHostMemory starts a memory whose escalations last ttl. Expired hosts
// are swept in the background until Stop.
func NewHostMemory(ttl time.Duration) *HostMemory {
	m := newHostMemory(ttl, time.Now)
	go m.sweepLoop(sweepInterval(ttl))
	return m
}

func newHostMemory(ttl time.Duration, now func() time.Time) *HostMemory {
	return &HostMemory{
		ttl:   ttl,
		now:   now,
		hosts: make(map[string]escalation),
		stop:  make(chan struct{}),
	}
}

// sweepInterval keeps expired hosts from lingering much past their TTL
// without waking up constantly for long TTLs.
func sweepInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	switch {
	case d < time.Second:
		return time.Second
	case d > 10*time.Minute:
		return 10 * time.Minute
	}
	return d
}

// Record escalates host to route and returns how many times the host has
// been seen serving a challenge while escalated. A repeat sighting extends
// the escalation.
func (m *HostMemory) Record(host, route string) int {
	host = strings.ToLower(host)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.hosts[host]
	if !ok || now.After(e.until) {
		e = escalation{}
	}
	e.route = route
	e.until = now.Add(m.ttl)
	e.sightings++
	m.hosts[host] = e
	return e.sightings
}

// Route returns the route host is escalated to.
func (m *HostMemory) Route(host string) (string, bool) {
	host = strings.ToLower(host)

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.hosts[host]
	if !ok {
		return "", false
	}
	if m.now().After(e.until) {
		delete(m.hosts, host)
		return "", false
	}
	return e.route, true
}

// Forget drops host's escalation.
func (m *HostMemory) Forget(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hosts, strings.ToLower(host))
}

// Len reports the number of hosts currently held, expired or not.
func (m *HostMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hosts)
}

// Stop ends the background sweep. It is safe to call more than once.
func (m *HostMemory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *HostMemory) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for host, e := range m.hosts {
		if now.After(e.until) {
			delete(m.hosts, host)
		}
	}
}

func (m *HostMemory) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}
