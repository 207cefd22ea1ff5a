/*
Package events provides an in-memory event broker for lockring's
pub/sub notifications.

Broker fans out Event values of a fixed EventType (lock acquired/
released/expired, Raft leadership changes, cross-region quorum
outcomes) to any number of Subscribe()'d channels. Delivery is
best-effort: a subscriber whose buffered channel is full silently
misses the event rather than blocking the broker, so subscribers are
for observability and operator tooling, never for correctness.
*/
package events
