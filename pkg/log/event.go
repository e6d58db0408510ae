package log

import (
	"time"

	"github.com/itp-protocol/itp-go/pkg/wire"
)

// Event represents a protocol log event captured in the subscription core.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"2,keyasint"`

	// SessionID identifies the owning session (UUID), if any.
	SessionID string `cbor:"3,keyasint,omitempty"`

	// SubscriptionID identifies the subscription, if any.
	SubscriptionID uint32 `cbor:"4,keyasint,omitempty"`

	// MonitoredItemID identifies the monitored item, if any.
	MonitoredItemID uint32 `cbor:"5,keyasint,omitempty"`

	// SequenceNumber is the notification sequence number, if any.
	SequenceNumber uint32 `cbor:"6,keyasint,omitempty"`

	// Status carries the status code of faults and state changes.
	Status wire.StatusCode `cbor:"7,keyasint,omitempty"`

	// State is the subscription state name after a transition.
	State string `cbor:"8,keyasint,omitempty"`

	// Detail is an optional free-form description.
	Detail string `cbor:"9,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategorySample records a sampling-clock read that queued a change.
	CategorySample Category = 1

	// CategoryOverflow records a monitored-item queue overflow.
	CategoryOverflow Category = 2

	// CategoryPublish records a notification message handed to transport.
	CategoryPublish Category = 3

	// CategoryKeepAlive records a keep-alive message.
	CategoryKeepAlive Category = 4

	// CategoryStateChange records a subscription state transition.
	CategoryStateChange Category = 5

	// CategoryTriggering records a triggering-link edit.
	CategoryTriggering Category = 6

	// CategoryRequest records publish-request intake and retirement.
	CategoryRequest Category = 7

	// CategoryFault records a status-coded failure.
	CategoryFault Category = 8
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategorySample:
		return "SAMPLE"
	case CategoryOverflow:
		return "OVERFLOW"
	case CategoryPublish:
		return "PUBLISH"
	case CategoryKeepAlive:
		return "KEEPALIVE"
	case CategoryStateChange:
		return "STATE_CHANGE"
	case CategoryTriggering:
		return "TRIGGERING"
	case CategoryRequest:
		return "REQUEST"
	case CategoryFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}
