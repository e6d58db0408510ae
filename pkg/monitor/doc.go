// Package monitor implements monitored items: server-side watches on one
// attribute of one node, sampled on a fixed interval.
//
// # Sampling and Filtering
//
// Each item reads its attribute through an AttributeReader on its
// sampling interval. A sample passes into the item's bounded notification
// queue when the configured data-change filter accepts it: without a
// filter every sample qualifies; with a DataChangeFilter a sample
// qualifies when the status condition changes or the value moves beyond
// the deadband (absolute, or percent of the node's engineering-unit
// range). The queued value becomes the new comparison baseline.
//
// # Queue and Overflow
//
// The queue holds at most QueueSize values. On overflow the oldest or the
// incoming-newest sample is dropped according to the discard policy, and
// an overflow flag is latched; the flag is stamped onto the first
// notification of the next extracted batch and then cleared.
//
// # Monitoring Mode
//
// Disabled items never read their attribute. Sampling and Reporting items
// both sample and queue; whether queued notifications are reported is
// decided by the owning subscription's publish cycle, not here.
//
// # Scheduling
//
// The Scheduler groups items by sampling interval into poll groups, each
// driven by one timer on an injected clock.Clock, so tests advance a
// testclock instead of sleeping.
package monitor
