// Package service exposes the subscription core to the session layer.
//
// A Session owns one publish engine, one sampling scheduler, and the
// subscriptions a client creates on it. Its methods mirror the wire
// service set: status-coded per-entry results, no faults. Responses to
// publish requests are delivered asynchronously through the session's
// ResponseSender.
package service
