package wire

import (
	"fmt"
	"time"
)

// AttributeID identifies an attribute of a node.
type AttributeID uint32

const (
	// AttributeValue is the current-value attribute of a variable node.
	AttributeValue AttributeID = 13
)

// NodeID identifies a node in the address space.
type NodeID struct {
	Namespace uint16 `cbor:"1,keyasint"`
	ID        string `cbor:"2,keyasint"`
}

// String returns the node id in ns=<namespace>;s=<id> form.
func (n NodeID) String() string {
	return fmt.Sprintf("ns=%d;s=%s", n.Namespace, n.ID)
}

// IsZero returns true for the zero node id.
func (n NodeID) IsZero() bool {
	return n.Namespace == 0 && n.ID == ""
}

// ReadValueID names the (node, attribute) pair a monitored item watches.
type ReadValueID struct {
	NodeID      NodeID      `cbor:"1,keyasint"`
	AttributeID AttributeID `cbor:"2,keyasint"`
}

// DataValue is an attribute value with quality and timing information.
type DataValue struct {
	Value           any        `cbor:"1,keyasint,omitempty"`
	Status          StatusCode `cbor:"2,keyasint,omitempty"`
	SourceTimestamp time.Time  `cbor:"3,keyasint,omitempty"`
	ServerTimestamp time.Time  `cbor:"4,keyasint,omitempty"`
}

// WithTimestamps returns a copy carrying only the selected timestamps.
func (v DataValue) WithTimestamps(sel TimestampsToReturn) DataValue {
	switch sel {
	case TimestampsSource:
		v.ServerTimestamp = time.Time{}
	case TimestampsServer:
		v.SourceTimestamp = time.Time{}
	case TimestampsNeither:
		v.SourceTimestamp = time.Time{}
		v.ServerTimestamp = time.Time{}
	}
	return v
}

// DataChangeFilter suppresses notifications for samples that do not
// qualify as changes.
type DataChangeFilter struct {
	Trigger       DataChangeTrigger `cbor:"1,keyasint"`
	DeadbandType  DeadbandType      `cbor:"2,keyasint,omitempty"`
	DeadbandValue float64           `cbor:"3,keyasint,omitempty"`
}

// MonitoringParameters are the client-requested settings of a monitored item.
type MonitoringParameters struct {
	ClientHandle     uint32            `cbor:"1,keyasint"`
	SamplingInterval time.Duration     `cbor:"2,keyasint,omitempty"`
	QueueSize        uint32            `cbor:"3,keyasint,omitempty"`
	DiscardOldest    bool              `cbor:"4,keyasint,omitempty"`
	Filter           *DataChangeFilter `cbor:"5,keyasint,omitempty"`
}

// MonitoredItemCreateRequest asks the server to monitor one attribute.
type MonitoredItemCreateRequest struct {
	ItemToMonitor       ReadValueID          `cbor:"1,keyasint"`
	MonitoringMode      MonitoringMode       `cbor:"2,keyasint"`
	RequestedParameters MonitoringParameters `cbor:"3,keyasint"`
}

// MonitoredItemCreateResult reports the outcome of one create request.
type MonitoredItemCreateResult struct {
	StatusCode              StatusCode    `cbor:"1,keyasint"`
	MonitoredItemID         uint32        `cbor:"2,keyasint,omitempty"`
	RevisedSamplingInterval time.Duration `cbor:"3,keyasint,omitempty"`
	RevisedQueueSize        uint32        `cbor:"4,keyasint,omitempty"`
	FilterResult            StatusCode    `cbor:"5,keyasint,omitempty"`
}

// CreateSubscriptionRequest asks the server for a new subscription.
type CreateSubscriptionRequest struct {
	PublishingInterval         time.Duration `cbor:"1,keyasint,omitempty"`
	LifetimeCount              uint32        `cbor:"2,keyasint,omitempty"`
	MaxKeepAliveCount          uint32        `cbor:"3,keyasint,omitempty"`
	MaxNotificationsPerPublish uint32        `cbor:"4,keyasint,omitempty"`
	PublishingEnabled          bool          `cbor:"5,keyasint"`
}

// CreateSubscriptionResponse reports the assigned id and the revised
// timing parameters.
type CreateSubscriptionResponse struct {
	SubscriptionID            uint32        `cbor:"1,keyasint"`
	RevisedPublishingInterval time.Duration `cbor:"2,keyasint"`
	RevisedLifetimeCount      uint32        `cbor:"3,keyasint"`
	RevisedMaxKeepAliveCount  uint32        `cbor:"4,keyasint"`
}

// SetTriggeringRequest edits the triggering links of one monitored item.
type SetTriggeringRequest struct {
	SubscriptionID   uint32   `cbor:"1,keyasint"`
	TriggeringItemID uint32   `cbor:"2,keyasint"`
	LinksToAdd       []uint32 `cbor:"3,keyasint,omitempty"`
	LinksToRemove    []uint32 `cbor:"4,keyasint,omitempty"`
}

// SetTriggeringResponse reports per-link results in request order.
type SetTriggeringResponse struct {
	StatusCode    StatusCode   `cbor:"1,keyasint"`
	AddResults    []StatusCode `cbor:"2,keyasint,omitempty"`
	RemoveResults []StatusCode `cbor:"3,keyasint,omitempty"`
}

// SubscriptionAcknowledgement confirms receipt of one notification message.
type SubscriptionAcknowledgement struct {
	SubscriptionID uint32 `cbor:"1,keyasint"`
	SequenceNumber uint32 `cbor:"2,keyasint"`
}

// PublishRequest asks for the next notification message of any ready
// subscription and acknowledges previously delivered messages.
type PublishRequest struct {
	RequestHandle                uint32                        `cbor:"1,keyasint"`
	SubscriptionAcknowledgements []SubscriptionAcknowledgement `cbor:"2,keyasint,omitempty"`
}

// PublishResponse binds a notification message to a consumed publish request.
type PublishResponse struct {
	RequestHandle            uint32              `cbor:"1,keyasint"`
	SubscriptionID           uint32              `cbor:"2,keyasint,omitempty"`
	AvailableSequenceNumbers []uint32            `cbor:"3,keyasint,omitempty"`
	MoreNotifications        bool                `cbor:"4,keyasint,omitempty"`
	NotificationMessage      NotificationMessage `cbor:"5,keyasint,omitempty"`
	Results                  []StatusCode        `cbor:"6,keyasint,omitempty"`
	ServiceResult            StatusCode          `cbor:"7,keyasint,omitempty"`
}

// MonitoredItemNotification is one delivered value change.
type MonitoredItemNotification struct {
	ClientHandle uint32    `cbor:"1,keyasint"`
	Value        DataValue `cbor:"2,keyasint"`
}

// DataChangeNotification groups the value changes of one publish cycle.
type DataChangeNotification struct {
	MonitoredItems []MonitoredItemNotification `cbor:"1,keyasint"`
}

// EventFieldList is one delivered event.
type EventFieldList struct {
	ClientHandle uint32 `cbor:"1,keyasint"`
	EventFields  []any  `cbor:"2,keyasint,omitempty"`
}

// EventNotificationList groups the events of one publish cycle.
type EventNotificationList struct {
	Events []EventFieldList `cbor:"1,keyasint"`
}

// StatusChangeNotification reports a subscription state change, e.g. a
// lifetime expiry.
type StatusChangeNotification struct {
	Status StatusCode `cbor:"1,keyasint"`
}

// NotificationData is the union of notification payloads. Exactly one
// field is set per entry.
type NotificationData struct {
	DataChanges  *DataChangeNotification   `cbor:"1,keyasint,omitempty"`
	Events       *EventNotificationList    `cbor:"2,keyasint,omitempty"`
	StatusChange *StatusChangeNotification `cbor:"3,keyasint,omitempty"`
}

// NotificationMessage is the unit of delivery of a subscription.
type NotificationMessage struct {
	SequenceNumber   uint32             `cbor:"1,keyasint"`
	PublishTime      time.Time          `cbor:"2,keyasint"`
	NotificationData []NotificationData `cbor:"3,keyasint,omitempty"`
}

// IsKeepAlive returns true for an empty notification message.
func (m NotificationMessage) IsKeepAlive() bool {
	return len(m.NotificationData) == 0
}

// NotificationCount returns the total number of monitored item
// notifications and events in the message.
func (m NotificationMessage) NotificationCount() int {
	n := 0
	for _, d := range m.NotificationData {
		if d.DataChanges != nil {
			n += len(d.DataChanges.MonitoredItems)
		}
		if d.Events != nil {
			n += len(d.Events.Events)
		}
		if d.StatusChange != nil {
			n++
		}
	}
	return n
}
