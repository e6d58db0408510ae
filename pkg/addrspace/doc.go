// Package addrspace provides the address-space collaborator consumed by
// the monitoring layer.
//
// The subscription core does not own the node model; it only needs to
// read attribute values and detect node removal. Memory is a small
// thread-safe implementation backing tests and the demo server. Removing
// a node does not disturb monitored items watching it: subsequent reads
// yield a BadNodeIDUnknown data value, which the monitoring layer turns
// into a single bad-status notification.
package addrspace
