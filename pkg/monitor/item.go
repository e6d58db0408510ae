package monitor

import (
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/itp-protocol/itp-go/pkg/log"
	"github.com/itp-protocol/itp-go/pkg/wire"
)

// Monitored-item limits.
const (
	// DefaultSamplingInterval applies when the request leaves the
	// interval unset or negative.
	DefaultSamplingInterval = time.Second

	// MinSamplingInterval is the fastest supported sampling rate.
	MinSamplingInterval = 10 * time.Millisecond

	// MaxSamplingInterval is the slowest supported sampling rate.
	MaxSamplingInterval = 10 * time.Minute

	// DefaultQueueSize applies when the request leaves the queue size unset.
	DefaultQueueSize = 1

	// MaxQueueSize bounds the notification queue of one item.
	MaxQueueSize = 1000
)

// AttributeReader is the address-space capability a monitored item
// consumes: a synchronous attribute read. Reads of removed nodes must
// yield a BadNodeIDUnknown data value rather than fail.
type AttributeReader interface {
	ReadAttribute(rv wire.ReadValueID) wire.DataValue
}

// RangeReader is optionally implemented by address spaces that expose
// engineering-unit ranges, enabling percent deadband filters.
type RangeReader interface {
	EURange(node wire.NodeID) (low, high float64, ok bool)
}

// Item is a monitored item: one sampled, filtered, queued attribute watch.
// All methods are safe for concurrent use.
type Item struct {
	mu sync.Mutex

	id            uint32
	clientHandle  uint32
	itemToMonitor wire.ReadValueID
	mode          wire.MonitoringMode
	interval      time.Duration
	queueSize     int
	discardOldest bool
	timestamps    wire.TimestampsToReturn
	filter        *filterState
	reader        AttributeReader

	queue      deque.Deque[wire.DataValue]
	lastQueued wire.DataValue
	overflow   bool
	enqueued   uint64

	logger log.Logger
}

// NewItem validates and creates a monitored item from a create request,
// revising the sampling interval and queue size into supported bounds.
// On success the returned result carries the revised values; on failure
// the item is nil and the result's StatusCode names the fault. Items
// created in a non-disabled mode take an initial sample immediately.
func NewItem(id uint32, reader AttributeReader, req wire.MonitoredItemCreateRequest, timestamps wire.TimestampsToReturn, logger log.Logger) (*Item, wire.MonitoredItemCreateResult) {
	if !req.MonitoringMode.IsValid() {
		return nil, wire.MonitoredItemCreateResult{StatusCode: wire.BadMonitoringModeInvalid}
	}

	// The node must exist at creation time; only later removal is
	// tolerated and surfaced as a notification.
	initial := reader.ReadAttribute(req.ItemToMonitor)
	if initial.Status == wire.BadNodeIDUnknown || initial.Status == wire.BadAttributeIDInvalid {
		return nil, wire.MonitoredItemCreateResult{StatusCode: initial.Status}
	}

	mi := &Item{
		id:            id,
		clientHandle:  req.RequestedParameters.ClientHandle,
		itemToMonitor: req.ItemToMonitor,
		mode:          req.MonitoringMode,
		discardOldest: req.RequestedParameters.DiscardOldest,
		timestamps:    timestamps,
		reader:        reader,
		lastQueued:    wire.DataValue{Status: wire.BadWaitingForInitialData},
		logger:        log.OrNoop(logger),
	}
	mi.interval = reviseSamplingInterval(req.RequestedParameters.SamplingInterval)
	mi.queueSize = reviseQueueSize(req.RequestedParameters.QueueSize)

	if f := req.RequestedParameters.Filter; f != nil {
		fs, status := newFilterState(f, reader, req.ItemToMonitor.NodeID)
		if status != wire.Good {
			return nil, wire.MonitoredItemCreateResult{StatusCode: status, FilterResult: status}
		}
		mi.filter = fs
	}

	if mi.mode != wire.MonitoringModeDisabled {
		mi.absorb(initial)
	}

	return mi, wire.MonitoredItemCreateResult{
		StatusCode:              wire.Good,
		MonitoredItemID:         id,
		RevisedSamplingInterval: mi.interval,
		RevisedQueueSize:        uint32(mi.queueSize),
	}
}

func reviseSamplingInterval(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return DefaultSamplingInterval
	case requested < MinSamplingInterval:
		return MinSamplingInterval
	case requested > MaxSamplingInterval:
		return MaxSamplingInterval
	default:
		return requested
	}
}

func reviseQueueSize(requested uint32) int {
	switch {
	case requested == 0:
		return DefaultQueueSize
	case requested > MaxQueueSize:
		return MaxQueueSize
	default:
		return int(requested)
	}
}

// ID returns the server-assigned item id.
func (mi *Item) ID() uint32 {
	return mi.id
}

// ClientHandle returns the client-chosen handle used in notifications.
func (mi *Item) ClientHandle() uint32 {
	return mi.clientHandle
}

// ItemToMonitor returns the watched (node, attribute) pair.
func (mi *Item) ItemToMonitor() wire.ReadValueID {
	return mi.itemToMonitor
}

// SamplingInterval returns the revised sampling interval.
func (mi *Item) SamplingInterval() time.Duration {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.interval
}

// QueueSize returns the revised queue size.
func (mi *Item) QueueSize() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.queueSize
}

// MonitoringMode returns the current monitoring mode.
func (mi *Item) MonitoringMode() wire.MonitoringMode {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.mode
}

// SetMonitoringMode changes the monitoring mode. Switching to Disabled
// clears the queue and resets the filter baseline, so re-enabling starts
// fresh with an immediate sample.
func (mi *Item) SetMonitoringMode(mode wire.MonitoringMode) wire.StatusCode {
	if !mode.IsValid() {
		return wire.BadMonitoringModeInvalid
	}

	mi.mu.Lock()
	if mi.mode == mode {
		mi.mu.Unlock()
		return wire.Good
	}
	wasDisabled := mi.mode == wire.MonitoringModeDisabled
	mi.mode = mode
	if mode == wire.MonitoringModeDisabled {
		mi.queue.Clear()
		mi.lastQueued = wire.DataValue{Status: wire.BadWaitingForInitialData}
		mi.overflow = false
		mi.mu.Unlock()
		return wire.Good
	}
	mi.mu.Unlock()

	if wasDisabled {
		mi.Sample()
	}
	return wire.Good
}

// Sample reads the current attribute value and queues it if it passes
// the change filter. Disabled items perform no read at all.
func (mi *Item) Sample() {
	mi.mu.Lock()
	if mi.mode == wire.MonitoringModeDisabled {
		mi.mu.Unlock()
		return
	}
	mi.mu.Unlock()

	// Read outside the lock: a slow address space must not block
	// concurrent extraction or mode changes.
	v := mi.reader.ReadAttribute(mi.itemToMonitor)

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.mode == wire.MonitoringModeDisabled {
		return
	}
	mi.absorb(v)
}

// absorb runs one sampled value through the filter and queue.
// Callers hold mi.mu.
func (mi *Item) absorb(v wire.DataValue) {
	// A persisting bad status (e.g. the node stays removed) produces a
	// single notification, not one per sample.
	if v.Status.IsBad() && v.Status.SameCondition(mi.lastQueued.Status) {
		return
	}
	if !mi.filter.isChange(v, mi.lastQueued) {
		return
	}

	mi.push(v.WithTimestamps(mi.timestamps))
	mi.lastQueued = v
	mi.enqueued++
	mi.logger.Log(log.Event{
		Timestamp:       v.ServerTimestamp,
		Category:        log.CategorySample,
		MonitoredItemID: mi.id,
		Status:          v.Status,
	})
}

// push appends a value, enforcing the queue bound and discard policy.
// Callers hold mi.mu.
func (mi *Item) push(v wire.DataValue) {
	dropped := false
	if mi.discardOldest {
		for mi.queue.Len() >= mi.queueSize {
			mi.queue.PopFront()
			dropped = true
		}
	} else {
		for mi.queue.Len() >= mi.queueSize {
			mi.queue.PopBack()
			dropped = true
		}
	}
	mi.queue.PushBack(v)

	// A size-1 queue replaces silently; only real queues flag overflow.
	if dropped && mi.queueSize > 1 {
		mi.overflow = true
		mi.logger.Log(log.Event{
			Timestamp:       v.ServerTimestamp,
			Category:        log.CategoryOverflow,
			MonitoredItemID: mi.id,
		})
	}
}

// HasPending returns true iff the queue is non-empty and the item is not
// disabled.
func (mi *Item) HasPending() bool {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.mode != wire.MonitoringModeDisabled && mi.queue.Len() > 0
}

// PendingCount returns the number of queued notifications.
func (mi *Item) PendingCount() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.queue.Len()
}

// EnqueueCount returns the total number of values ever queued. Triggering
// links record this at creation so pre-existing queued data cannot fire
// them retroactively.
func (mi *Item) EnqueueCount() uint64 {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.enqueued
}

// Extract drains the queue into wire notifications. The latched overflow
// flag is stamped onto the first notification of the batch and cleared.
func (mi *Item) Extract() []wire.MonitoredItemNotification {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	if mi.queue.Len() == 0 {
		return nil
	}
	out := make([]wire.MonitoredItemNotification, 0, mi.queue.Len())
	for mi.queue.Len() > 0 {
		out = append(out, wire.MonitoredItemNotification{
			ClientHandle: mi.clientHandle,
			Value:        mi.queue.PopFront(),
		})
	}
	if mi.overflow {
		out[0].Value.Status = out[0].Value.Status.WithOverflow()
		mi.overflow = false
	}
	return out
}
