/*
Package metrics exposes lockring's Prometheus instrumentation.

Metrics fall into three groups: lock operations (acquire/release/extend
counts, durations, and currently-held gauge), Raft health (leadership,
log/applied index, peer count, commit latency), and cross-region quorum
outcomes. All metrics are registered against the default Prometheus
registry at package init and served by Handler(), which callers mount
alongside the liveness/readiness endpoints in pkg/api.

A Collector polls Raft and lock-store state every 15 seconds for the
gauges that have no natural call site to update inline (leader state,
log indices, peer count, held-lock count); counters and histograms for
individual operations are updated directly by pkg/lockservice and
pkg/region at the point each operation completes.
*/
package metrics
