package auth

import (
	"errors"

	"metaserver/internal/observability/metrics"
)

// ErrUnauthorized is returned when a key holds none of the tokens an
// operation accepts. Handlers translate it to a fixed 401 body that never
// echoes which tokens were required.
var ErrUnauthorized = errors.New("unauthorized")

// Gate authorises operations against the capability table. Grants are
// disjunctive: an operation names every token that could allow it, and
// holding any one suffices.
type Gate struct {
	caps    *CapabilityStore
	metrics *metrics.Recorder
}

// NewGate constructs a Gate over the capability store.
func NewGate(caps *CapabilityStore, recorder *metrics.Recorder) *Gate {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Gate{caps: caps, metrics: recorder}
}

// Authorize checks that the key holds verb+target for at least one of the
// targets.
func (g *Gate) Authorize(key, verb string, targets ...string) error {
	grants := g.caps.Lookup(key)
	for _, target := range targets {
		if grants.Has(verb + target) {
			return nil
		}
	}
	g.metrics.AuthorizationDenied(verb)
	return ErrUnauthorized
}

// AuthorizeListing checks a collection read. Every listing needs a plain
// read token; a listing with no filters additionally needs an unfiltered
// token, since it dumps the whole collection.
func (g *Gate) AuthorizeListing(key, collection string, filtered bool) error {
	grants := g.caps.Lookup(key)
	if !grants.HasAny("GET"+collection, "GETelements") {
		g.metrics.AuthorizationDenied("GET")
		return ErrUnauthorized
	}
	if !filtered && !grants.HasAny("GETunfiltered"+collection, "GETunfilteredelements") {
		g.metrics.AuthorizationDenied("GETunfiltered")
		return ErrUnauthorized
	}
	return nil
}
