package metrics

import (
	"time"

	"github.com/ztdns/gateway/pkg/storage"
	"github.com/ztdns/gateway/pkg/types"
)

// Collector refreshes the registry gauges from the data store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if eps, err := c.store.ListEndpoints(); err == nil {
		counts := map[types.EndpointRole]int{}
		for _, ep := range eps {
			counts[ep.Role]++
		}
		EndpointsTotal.WithLabelValues(string(types.EndpointRoleClient)).Set(float64(counts[types.EndpointRoleClient]))
		EndpointsTotal.WithLabelValues(string(types.EndpointRoleService)).Set(float64(counts[types.EndpointRoleService]))
	}

	if zones, err := c.store.ListZones(); err == nil {
		ZonesTotal.Set(float64(len(zones)))
	}

	if routes, err := c.store.ListRoutes(); err == nil {
		RoutesTotal.Set(float64(len(routes)))
	}
}
