package storage

import (
	"errors"

	"github.com/ztdns/gateway/pkg/types"
)

// ErrNotFound is returned when a lookup misses. Callers use errors.Is to
// distinguish missing entities from I/O failures.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when a create collides with an existing key
var ErrExists = errors.New("already exists")

// Store defines the interface for the gateway's registry of endpoints,
// zones, and routes. Implementations enforce the referential invariants:
// access lists only reference existing endpoints, routes only reference
// existing service endpoints, and zone/route ownership stays consistent
// across mutations.
type Store interface {
	// Endpoints
	CreateEndpoint(ep *types.Endpoint) error
	GetEndpoint(cn string) (*types.Endpoint, error)
	ListEndpoints() ([]*types.Endpoint, error)
	// DeleteEndpoint removes the endpoint and, atomically, every
	// reference to its CN: access-list entries, and for service CNs the
	// route and all zones it owns.
	DeleteEndpoint(cn string) error

	// Zones
	CreateZone(zone *types.Zone) error
	GetZone(name string) (*types.Zone, error)
	ListZones() ([]*types.Zone, error)
	// MatchZone returns the longest zone that name equals or is a
	// subdomain of. The name must already be normalized.
	MatchZone(name string) (*types.Zone, bool)
	Authorize(zone, cn string) error
	Deauthorize(zone, cn string) error

	// Routes
	CreateRoute(route *types.Route) error
	GetRoute(cn string) (*types.Route, error)
	ListRoutes() ([]*types.Route, error)

	// RegisterService creates a service endpoint, its route, and its
	// zones in a single transaction.
	RegisterService(ep *types.Endpoint, route *types.Route, zones []*types.Zone) error

	// Utility
	Close() error
}
