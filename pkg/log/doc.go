// Package log defines the protocol event logging interface for the ITP
// subscription core.
//
// Components in pkg/monitor, pkg/subscription, and pkg/service emit
// structured events describing sampling activity, publish cycles,
// keep-alives, subscription state transitions, triggering edits, and
// request faults. Applications implement Logger (or use SlogAdapter) to
// observe them; a nil or NoopLogger disables logging.
//
// Events use CBOR integer keys so captures stay compact when persisted.
package log
