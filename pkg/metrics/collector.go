package metrics

import (
	"time"

	"github.com/cuemby/tablestore/pkg/types"
)

// Source is the subset of the Coordinator this collector polls.
// Kept as an interface (rather than importing pkg/manager directly)
// to avoid metrics depending on every component package it reports on.
type Source interface {
	ListTablets() []*types.Tablet
	ListTables() []*types.Table
	ListOPs() []*types.OPData
	ReplicaClusterCount() int
	IsLeader() bool
}

// Collector polls a Coordinator on a fixed interval and republishes its
// state into the package-level Prometheus gauges.
type Collector struct {
	source Source
	stopCh chan struct{}
}

func NewCollector(source Source) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
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

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTablets()
	c.collectCatalog()
	c.collectOps()
	c.collectRaft()
	ReplicaClustersTotal.Set(float64(c.source.ReplicaClusterCount()))
}

func (c *Collector) collectTablets() {
	counts := make(map[types.TabletState]int)
	for _, t := range c.source.ListTablets() {
		counts[t.State]++
	}
	for state, n := range counts {
		TabletsTotal.WithLabelValues(string(state)).Set(float64(n))
	}
}

func (c *Collector) collectCatalog() {
	tables := c.source.ListTables()
	TablesTotal.Set(float64(len(tables)))

	dbs := make(map[string]struct{})
	for _, t := range tables {
		dbs[t.Db] = struct{}{}
	}
	DatabasesTotal.Set(float64(len(dbs)))
}

func (c *Collector) collectOps() {
	OpsInFlight.Set(float64(len(c.source.ListOPs())))
}

func (c *Collector) collectRaft() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}
