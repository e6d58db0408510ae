// Package subscription implements the publish side of the monitoring
// pipeline: subscriptions that own monitored items and a triggering
// table, assemble notification messages on a periodic publish cycle,
// and a publish engine that matches assembled messages against queued
// publish requests.
//
// # Publish Cycle
//
// Each subscription runs one timer at its publishing interval. A cycle
// collects the queued notifications of every Reporting item, resolves
// triggering links (a firing trigger flushes its Sampling-mode linked
// items), and wraps the result in a NotificationMessage carrying the
// next sequence number. The message is matched against the oldest
// pending publish request; with no request available the subscription
// goes Late and the message is held until one arrives.
//
// # Keep-Alive and Lifetime
//
// Cycles that produce no data decrement the keep-alive counter; at zero
// an empty message carrying the next unconsumed sequence number is
// sent. Cycles in which no request services the subscription decrement
// the lifetime counter; at zero the subscription closes and reports
// BadTimeout through a status-change notification.
//
// # Triggering
//
// Links are armed at creation: a link fires only once the triggering
// item has queued a notification after the link was added. Data queued
// before link creation never retroactively triggers.
package subscription
