package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ztdns/gateway/pkg/types"
)

const (
	fileEndpoints = "endpoints.json"
	fileZones     = "zones.json"
	fileRoutes    = "routes.json"
)

// FileStore implements Store over three JSON documents in a data
// directory. All reads are served from an in-memory mirror; mutations
// hold the writer lock, flush the affected documents atomically
// (write-to-temp, rename), and only then replace the mirror, so a failed
// flush leaves memory matching the unmodified disk state.
type FileStore struct {
	dir string

	mu        sync.RWMutex
	endpoints map[string]*types.Endpoint
	zones     map[string]*types.Zone
	routes    map[string]*types.Route
}

// NewFileStore opens the data directory and loads the three documents
func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, "data")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &FileStore{
		dir:       dir,
		endpoints: make(map[string]*types.Endpoint),
		zones:     make(map[string]*types.Zone),
		routes:    make(map[string]*types.Route),
	}

	if err := loadJSON(filepath.Join(dir, fileEndpoints), &s.endpoints); err != nil {
		return nil, fmt.Errorf("failed to load endpoints: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, fileZones), &s.zones); err != nil {
		return nil, fmt.Errorf("failed to load zones: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, fileRoutes), &s.routes); err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}

	return s, nil
}

// Close releases the store. The file-backed store has nothing to flush;
// every mutation already persisted.
func (s *FileStore) Close() error {
	return nil
}

// Endpoint operations

func (s *FileStore) CreateEndpoint(ep *types.Endpoint) error {
	if !types.ValidCN(ep.CN) {
		return fmt.Errorf("invalid endpoint CN: %q", ep.CN)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[ep.CN]; ok {
		return fmt.Errorf("endpoint %s: %w", ep.CN, ErrExists)
	}

	endpoints := cloneEndpoints(s.endpoints)
	endpoints[ep.CN] = cloneEndpoint(ep)

	if err := s.commit(doc{fileEndpoints, endpoints}); err != nil {
		return err
	}
	s.endpoints = endpoints
	return nil
}

func (s *FileStore) GetEndpoint(cn string) (*types.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[cn]
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", cn, ErrNotFound)
	}
	return cloneEndpoint(ep), nil
}

func (s *FileStore) ListEndpoints() ([]*types.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eps := make([]*types.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		eps = append(eps, cloneEndpoint(ep))
	}
	return eps, nil
}

func (s *FileStore) DeleteEndpoint(cn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[cn]
	if !ok {
		return fmt.Errorf("endpoint %s: %w", cn, ErrNotFound)
	}

	endpoints := cloneEndpoints(s.endpoints)
	delete(endpoints, cn)

	// Prune the CN from every access list; a service CN also takes its
	// route and owned zones with it.
	zones := make(map[string]*types.Zone, len(s.zones))
	for name, z := range s.zones {
		if ep.Role == types.EndpointRoleService && z.ServiceCN == cn {
			continue
		}
		zc := cloneZone(z)
		zc.AllowedEndpoints = removeString(zc.AllowedEndpoints, cn)
		zones[name] = zc
	}

	routes := cloneRoutes(s.routes)
	if ep.Role == types.EndpointRoleService {
		delete(routes, cn)
	}

	if err := s.commit(
		doc{fileEndpoints, endpoints},
		doc{fileZones, zones},
		doc{fileRoutes, routes},
	); err != nil {
		return err
	}

	s.endpoints = endpoints
	s.zones = zones
	s.routes = routes
	return nil
}

// Zone operations

func (s *FileStore) CreateZone(zone *types.Zone) error {
	z := cloneZone(zone)
	z.Name = types.NormalizeZone(z.Name)
	if z.Name == "" {
		return fmt.Errorf("zone name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.zones[z.Name]; ok {
		return fmt.Errorf("zone %s: %w", z.Name, ErrExists)
	}
	if err := s.checkZoneRefs(z); err != nil {
		return err
	}

	zones := cloneZones(s.zones)
	zones[z.Name] = z

	if err := s.commit(doc{fileZones, zones}); err != nil {
		return err
	}
	s.zones = zones
	return nil
}

func (s *FileStore) GetZone(name string) (*types.Zone, error) {
	name = types.NormalizeZone(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[name]
	if !ok {
		return nil, fmt.Errorf("zone %s: %w", name, ErrNotFound)
	}
	return cloneZone(z), nil
}

func (s *FileStore) ListZones() ([]*types.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zones := make([]*types.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		zones = append(zones, cloneZone(z))
	}
	return zones, nil
}

func (s *FileStore) MatchZone(name string) (*types.Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *types.Zone
	for _, z := range s.zones {
		if !types.InZone(name, z.Name) {
			continue
		}
		if best == nil || len(z.Name) > len(best.Name) {
			best = z
		}
	}
	if best == nil {
		return nil, false
	}
	return cloneZone(best), true
}

func (s *FileStore) Authorize(zone, cn string) error {
	zone = types.NormalizeZone(zone)

	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[zone]
	if !ok {
		return fmt.Errorf("zone %s: %w", zone, ErrNotFound)
	}
	if _, ok := s.endpoints[cn]; !ok {
		return fmt.Errorf("endpoint %s: %w", cn, ErrNotFound)
	}
	if z.Allowed(cn) {
		return nil
	}

	zones := cloneZones(s.zones)
	zc := zones[zone]
	zc.AllowedEndpoints = append(zc.AllowedEndpoints, cn)

	if err := s.commit(doc{fileZones, zones}); err != nil {
		return err
	}
	s.zones = zones
	return nil
}

func (s *FileStore) Deauthorize(zone, cn string) error {
	zone = types.NormalizeZone(zone)

	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[zone]
	if !ok {
		return fmt.Errorf("zone %s: %w", zone, ErrNotFound)
	}
	if !z.Allowed(cn) {
		return nil
	}

	zones := cloneZones(s.zones)
	zc := zones[zone]
	zc.AllowedEndpoints = removeString(zc.AllowedEndpoints, cn)

	if err := s.commit(doc{fileZones, zones}); err != nil {
		return err
	}
	s.zones = zones
	return nil
}

// Route operations

func (s *FileStore) CreateRoute(route *types.Route) error {
	if err := types.ValidatePort(route.Port); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[route.CN]
	if !ok {
		return fmt.Errorf("endpoint %s: %w", route.CN, ErrNotFound)
	}
	if ep.Role != types.EndpointRoleService {
		return fmt.Errorf("endpoint %s is not a service", route.CN)
	}
	if _, ok := s.routes[route.CN]; ok {
		return fmt.Errorf("route %s: %w", route.CN, ErrExists)
	}

	routes := cloneRoutes(s.routes)
	routes[route.CN] = cloneRoute(route)

	if err := s.commit(doc{fileRoutes, routes}); err != nil {
		return err
	}
	s.routes = routes
	return nil
}

func (s *FileStore) GetRoute(cn string) (*types.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.routes[cn]
	if !ok {
		return nil, fmt.Errorf("route %s: %w", cn, ErrNotFound)
	}
	return cloneRoute(r), nil
}

func (s *FileStore) ListRoutes() ([]*types.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	routes := make([]*types.Route, 0, len(s.routes))
	for _, r := range s.routes {
		routes = append(routes, cloneRoute(r))
	}
	return routes, nil
}

// RegisterService creates a service endpoint, its route, and its zones as
// one transaction: either all three documents flush or none of them is
// visible.
func (s *FileStore) RegisterService(ep *types.Endpoint, route *types.Route, zoneList []*types.Zone) error {
	if !types.ValidCN(ep.CN) {
		return fmt.Errorf("invalid endpoint CN: %q", ep.CN)
	}
	if ep.Role != types.EndpointRoleService {
		return fmt.Errorf("endpoint %s is not a service", ep.CN)
	}
	if route.CN != ep.CN {
		return fmt.Errorf("route CN %s does not match endpoint %s", route.CN, ep.CN)
	}
	if err := types.ValidatePort(route.Port); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[ep.CN]; ok {
		return fmt.Errorf("endpoint %s: %w", ep.CN, ErrExists)
	}

	endpoints := cloneEndpoints(s.endpoints)
	endpoints[ep.CN] = cloneEndpoint(ep)

	routes := cloneRoutes(s.routes)
	routes[ep.CN] = cloneRoute(route)

	zones := cloneZones(s.zones)
	for _, zone := range zoneList {
		z := cloneZone(zone)
		z.Name = types.NormalizeZone(z.Name)
		if z.Name == "" {
			return fmt.Errorf("zone name is empty")
		}
		if _, ok := zones[z.Name]; ok {
			return fmt.Errorf("zone %s: %w", z.Name, ErrExists)
		}
		if z.ServiceCN != ep.CN {
			return fmt.Errorf("zone %s service CN %s does not match endpoint %s", z.Name, z.ServiceCN, ep.CN)
		}
		zones[z.Name] = z
	}

	if err := s.commit(
		doc{fileEndpoints, endpoints},
		doc{fileZones, zones},
		doc{fileRoutes, routes},
	); err != nil {
		return err
	}

	s.endpoints = endpoints
	s.zones = zones
	s.routes = routes
	return nil
}

// checkZoneRefs verifies a zone's references against current state.
// Caller holds the lock.
func (s *FileStore) checkZoneRefs(z *types.Zone) error {
	for _, cn := range z.AllowedEndpoints {
		if _, ok := s.endpoints[cn]; !ok {
			return fmt.Errorf("access list endpoint %s: %w", cn, ErrNotFound)
		}
	}
	if z.ServiceCN != "" {
		if _, ok := s.routes[z.ServiceCN]; !ok {
			return fmt.Errorf("route %s: %w", z.ServiceCN, ErrNotFound)
		}
	}
	return nil
}

// doc pairs a document file name with the state to flush into it
type doc struct {
	name string
	v    interface{}
}

// commit flushes the given documents. Each is marshaled and written to a
// temp file in the data directory first; renames happen only after every
// temp write succeeded, keeping the window for a partial commit to the
// rename syscalls themselves.
func (s *FileStore) commit(docs ...doc) error {
	type staged struct {
		tmp, dst string
	}
	var stage []staged

	cleanup := func() {
		for _, st := range stage {
			os.Remove(st.tmp)
		}
	}

	for _, d := range docs {
		data, err := json.MarshalIndent(d.v, "", "  ")
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to marshal %s: %w", d.name, err)
		}

		tmp, err := os.CreateTemp(s.dir, "."+d.name+".*")
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to create temp for %s: %w", d.name, err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			cleanup()
			return fmt.Errorf("failed to write %s: %w", d.name, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			cleanup()
			return fmt.Errorf("failed to close %s: %w", d.name, err)
		}

		stage = append(stage, staged{tmp: tmp.Name(), dst: filepath.Join(s.dir, d.name)})
	}

	for _, st := range stage {
		if err := os.Rename(st.tmp, st.dst); err != nil {
			cleanup()
			return fmt.Errorf("failed to commit %s: %w", filepath.Base(st.dst), err)
		}
	}
	return nil
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Clone helpers. Getters hand out copies so the resolver and proxy can
// work on a consistent snapshot outside the lock.

func cloneEndpoint(ep *types.Endpoint) *types.Endpoint {
	c := *ep
	c.Domains = append([]string(nil), ep.Domains...)
	return &c
}

func cloneZone(z *types.Zone) *types.Zone {
	c := *z
	c.AllowedEndpoints = append([]string(nil), z.AllowedEndpoints...)
	c.Records = make(map[string][]types.Record, len(z.Records))
	for label, recs := range z.Records {
		c.Records[label] = append([]types.Record(nil), recs...)
	}
	return &c
}

func cloneRoute(r *types.Route) *types.Route {
	c := *r
	c.Domains = append([]string(nil), r.Domains...)
	return &c
}

func cloneEndpoints(m map[string]*types.Endpoint) map[string]*types.Endpoint {
	c := make(map[string]*types.Endpoint, len(m))
	for k, v := range m {
		c[k] = cloneEndpoint(v)
	}
	return c
}

func cloneZones(m map[string]*types.Zone) map[string]*types.Zone {
	c := make(map[string]*types.Zone, len(m))
	for k, v := range m {
		c[k] = cloneZone(v)
	}
	return c
}

func cloneRoutes(m map[string]*types.Route) map[string]*types.Route {
	c := make(map[string]*types.Route, len(m))
	for k, v := range m {
		c[k] = cloneRoute(v)
	}
	return c
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
