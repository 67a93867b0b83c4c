package identity

import (
	"math/rand/v2"
	"sync"
)

// BrowserSpec allows one browser family within an inclusive version range.
type BrowserSpec struct {
	Family     string
	MinVersion int
	MaxVersion int
}

// DeviceSpec pairs a device class with the operating systems it may run.
type DeviceSpec struct {
	Class            string
	OperatingSystems []string
}

// Policy enumerates the allowed values of every identity dimension.
type Policy struct {
	Name     string
	Browsers []BrowserSpec
	Devices  []DeviceSpec
	Locales  []string
}

// Policy profile names.
const (
	ProfileGeneral  = "general"
	ProfileRegional = "regional"
)

// General returns the broad-mix profile used for ordinary hosts.
func General() Policy {
	return Policy{
		Name: ProfileGeneral,
		Browsers: []BrowserSpec{
			{Family: Chrome, MinVersion: 120, MaxVersion: 131},
			{Family: Firefox, MinVersion: 115, MaxVersion: 128},
		},
		Devices: []DeviceSpec{
			{Class: Desktop, OperatingSystems: []string{Windows, MacOS, Linux}},
			{Class: Mobile, OperatingSystems: []string{Android, IOS}},
		},
		Locales: []string{"en-US", "en-GB"},
	}
}

// Regional returns the narrower profile used for region-targeted hosts.
// With no locales it falls back to Spanish.
func Regional(locales ...string) Policy {
	if len(locales) == 0 {
		locales = []string{"es-ES", "es"}
	}
	return Policy{
		Name: ProfileRegional,
		Browsers: []BrowserSpec{
			{Family: Chrome, MinVersion: 124, MaxVersion: 131},
		},
		Devices: []DeviceSpec{
			{Class: Desktop, OperatingSystems: []string{Windows, MacOS}},
		},
		Locales: append([]string(nil), locales...),
	}
}

// Combinations enumerates every identity the policy declares.
func (p Policy) Combinations() []Identity {
	var out []Identity
	for _, b := range p.Browsers {
		for v := b.MinVersion; v <= max(b.MinVersion, b.MaxVersion); v++ {
			for _, d := range p.Devices {
				for _, os := range d.OperatingSystems {
					for _, loc := range p.Locales {
						out = append(out, Identity{
							BrowserFamily:  b.Family,
							BrowserVersion: v,
							OSFamily:       os,
							DeviceClass:    d.Class,
							Locale:         loc,
						})
					}
				}
			}
		}
	}
	return out
}

// Sampler draws identities from policies. It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler creates a Sampler. A nil rng uses a randomly seeded source.
func NewSampler(rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sampler{rng: rng}
}

// Sample draws one identity. Every dimension is drawn uniformly and
// independently, so every declared combination is reachable.
func (s *Sampler) Sample(p Policy) Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id Identity
	if len(p.Browsers) > 0 {
		b := p.Browsers[s.rng.IntN(len(p.Browsers))]
		id.BrowserFamily = b.Family
		id.BrowserVersion = b.MinVersion
		if span := b.MaxVersion - b.MinVersion; span > 0 {
			id.BrowserVersion += s.rng.IntN(span + 1)
		}
	}
	if len(p.Devices) > 0 {
		d := p.Devices[s.rng.IntN(len(p.Devices))]
		id.DeviceClass = d.Class
		if len(d.OperatingSystems) > 0 {
			id.OSFamily = d.OperatingSystems[s.rng.IntN(len(d.OperatingSystems))]
		}
	}
	if len(p.Locales) > 0 {
		id.Locale = p.Locales[s.rng.IntN(len(p.Locales))]
	}
	return id
}
