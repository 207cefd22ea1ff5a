package metrics

import (
	"strconv"
	"time"
)

// RaftStatsSource is implemented by raftnode.Node; kept as a narrow
// interface here so pkg/metrics never has to import pkg/raftnode.
type RaftStatsSource interface {
	IsLeader() bool
	Stats() map[string]string
}

// LockLister counts currently-held locks without pkg/metrics needing to
// import lockstore's concrete Lock type.
type LockLister interface {
	Count() int
}

// Collector polls a Node and a lock store on a fixed interval and updates
// the Prometheus gauges that can't be updated inline at the call site.
type Collector struct {
	raft   RaftStatsSource
	locks  LockLister
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over raft and locks.
func NewCollector(raft RaftStatsSource, locks LockLister) *Collector {
	return &Collector{
		raft:   raft,
		locks:  locks,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, in the background.
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectLockMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectLockMetrics() {
	if c.locks == nil {
		return
	}
	LocksHeld.Set(float64(c.locks.Count()))
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}

	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.raft.Stats()
	if lastIndex, err := strconv.ParseUint(stats["last_log_index"], 10, 64); err == nil {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, err := strconv.ParseUint(stats["applied_index"], 10, 64); err == nil {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if numPeers, err := strconv.Atoi(stats["num_peers"]); err == nil {
		RaftPeers.Set(float64(numPeers + 1))
	}
}
