package subscription

import (
	"math"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/juju/clock"

	"github.com/itp-protocol/itp-go/pkg/log"
	"github.com/itp-protocol/itp-go/pkg/monitor"
	"github.com/itp-protocol/itp-go/pkg/wire"
)

// Default subscription limits.
const (
	DefaultPublishingInterval = 1 * time.Second
	MinPublishingInterval     = 50 * time.Millisecond
	MaxPublishingInterval     = 1 * time.Hour

	DefaultMaxKeepAliveCount = 10
	DefaultLifetimeCount     = 30
	DefaultMaxMonitoredItems = 1024
)

// maxRetransmitQueue bounds the per-subscription queue of sent but
// unacknowledged notification messages.
const maxRetransmitQueue = 128

// State is the lifecycle state of a subscription.
type State uint8

const (
	// StateCreating covers construction up to the first completed
	// publish cycle.
	StateCreating State = iota

	// StateNormal is steady-state operation.
	StateNormal

	// StateLate means an assembled message is waiting because no
	// publish request was available to carry it.
	StateLate

	// StateKeepAlive means the last delivered message was an empty
	// keep-alive.
	StateKeepAlive

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreating:
		return "CREATING"
	case StateNormal:
		return "NORMAL"
	case StateLate:
		return "LATE"
	case StateKeepAlive:
		return "KEEPALIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the client-requested subscription parameters. Values
// outside the supported bounds are revised at creation; the revised
// parameters are reported back through Config().
type Config struct {
	// PublishingInterval is the publish-cycle period.
	PublishingInterval time.Duration

	// LifetimeCount is the number of cycles the subscription survives
	// without being serviced by a publish request. Revised up to at
	// least three times MaxKeepAliveCount.
	LifetimeCount uint32

	// MaxKeepAliveCount is the number of empty cycles before an empty
	// keep-alive message is sent.
	MaxKeepAliveCount uint32

	// MaxNotificationsPerPublish caps the notifications carried by one
	// message. Zero means unlimited.
	MaxNotificationsPerPublish uint32

	// MaxMonitoredItems caps the items the subscription will accept.
	MaxMonitoredItems uint32

	// PublishingEnabled gates message assembly. Items keep sampling
	// and keep-alives keep flowing while disabled.
	PublishingEnabled bool
}

// revised clamps the configuration to the supported bounds.
func (c Config) revised() Config {
	if c.PublishingInterval <= 0 {
		c.PublishingInterval = DefaultPublishingInterval
	}
	if c.PublishingInterval < MinPublishingInterval {
		c.PublishingInterval = MinPublishingInterval
	}
	if c.PublishingInterval > MaxPublishingInterval {
		c.PublishingInterval = MaxPublishingInterval
	}
	if c.MaxKeepAliveCount == 0 {
		c.MaxKeepAliveCount = DefaultMaxKeepAliveCount
	}
	if c.LifetimeCount == 0 {
		c.LifetimeCount = DefaultLifetimeCount
	}
	if c.LifetimeCount < 3*c.MaxKeepAliveCount {
		c.LifetimeCount = 3 * c.MaxKeepAliveCount
	}
	if c.MaxMonitoredItems == 0 {
		c.MaxMonitoredItems = DefaultMaxMonitoredItems
	}
	return c
}

// requestBroker is the subscription's view of the publish engine: a
// source of pending publish requests and a sink for responses.
type requestBroker interface {
	popRequest(now time.Time) (*pendingRequest, bool)
	deliver(resp wire.PublishResponse)
	sweep(now time.Time)
}

// Subscription owns a set of monitored items and a triggering table
// and assembles their queued notifications into sequence-numbered
// messages on a periodic publish cycle.
type Subscription struct {
	mu sync.Mutex

	id     uint32
	cfg    Config
	clk    clock.Clock
	logger log.Logger
	reader monitor.AttributeReader
	sched  *monitor.Scheduler
	broker requestBroker

	items      map[uint32]*monitor.Item
	itemOrder  []uint32
	nextItemID uint32
	triggers   *TriggeringTable
	observers  []func(*monitor.Item)

	state             State
	publishingEnabled bool
	seqNum            uint32
	keepAliveCounter  uint32
	lifetimeCounter   uint32

	// outbox holds assembled messages not yet bound to a request.
	outbox deque.Deque[wire.NotificationMessage]

	// retransmit holds sent messages awaiting acknowledgement.
	retransmit deque.Deque[wire.NotificationMessage]

	moreData bool

	started bool
	done    chan struct{}
}

// New creates a subscription with the given id and revised parameters.
// Items created on it sample through reader and are scheduled on sched.
// The subscription is idle until it is attached to an engine and
// Start is called.
func New(id uint32, cfg Config, reader monitor.AttributeReader, sched *monitor.Scheduler, clk clock.Clock, logger log.Logger) *Subscription {
	cfg = cfg.revised()
	return &Subscription{
		id:                id,
		cfg:               cfg,
		clk:               clk,
		logger:            log.OrNoop(logger),
		reader:            reader,
		sched:             sched,
		items:             make(map[uint32]*monitor.Item),
		nextItemID:        1,
		triggers:          NewTriggeringTable(),
		state:             StateCreating,
		publishingEnabled: cfg.PublishingEnabled,
		seqNum:            1,
		keepAliveCounter:  cfg.MaxKeepAliveCount,
		lifetimeCounter:   cfg.LifetimeCount,
	}
}

// ID returns the subscription id.
func (s *Subscription) ID() uint32 {
	return s.id
}

// Config returns the revised parameters.
func (s *Subscription) Config() Config {
	return s.cfg
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// attach binds the subscription to its publish engine.
func (s *Subscription) attach(b requestBroker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broker = b
}

// Start launches the publish-cycle timer. Start is a no-op on a
// started or closed subscription.
func (s *Subscription) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.state == StateClosed {
		return
	}
	s.started = true
	s.done = make(chan struct{})
	go s.run(s.done)
}

func (s *Subscription) run(done chan struct{}) {
	timer := s.clk.NewTimer(s.cfg.PublishingInterval)
	defer timer.Stop()
	for {
		select {
		case now := <-timer.Chan():
			s.tick(now)
			timer.Reset(s.cfg.PublishingInterval)
		case <-done:
			return
		}
	}
}

// Close terminates the subscription: the publish timer stops, all
// items leave the sampling scheduler, and any message still waiting
// for a request is released. Close is idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(true)
}

func (s *Subscription) closeLocked(releaseOutbox bool) {
	if s.state == StateClosed && !s.started {
		return
	}
	if s.started {
		close(s.done)
		s.started = false
	}
	for _, id := range s.itemOrder {
		it := s.items[id]
		s.sched.Unregister(it.SamplingInterval(), it)
	}
	if releaseOutbox {
		s.outbox.Clear()
	}
	s.setStateLocked(StateClosed)
}

// OnItemCreated registers an observer invoked for every item created
// on this subscription after the call.
func (s *Subscription) OnItemCreated(fn func(*monitor.Item)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// CreateItem creates one monitored item and registers it with the
// sampling scheduler.
func (s *Subscription) CreateItem(timestamps wire.TimestampsToReturn, req wire.MonitoredItemCreateRequest) wire.MonitoredItemCreateResult {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return wire.MonitoredItemCreateResult{StatusCode: wire.BadSubscriptionIDInvalid}
	}
	if uint32(len(s.items)) >= s.cfg.MaxMonitoredItems {
		s.mu.Unlock()
		return wire.MonitoredItemCreateResult{StatusCode: wire.BadTooManyMonitoredItems}
	}

	id := s.nextItemID
	item, result := monitor.NewItem(id, s.reader, req, timestamps, s.logger)
	if item == nil {
		s.mu.Unlock()
		return result
	}
	s.nextItemID++
	s.items[id] = item
	s.itemOrder = append(s.itemOrder, id)
	// Registration happens under the lock so a concurrent Close cannot
	// run its unregister pass between the item becoming visible and the
	// listener existing.
	s.sched.Register(item.SamplingInterval(), item)
	observers := make([]func(*monitor.Item), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(item)
	}
	return result
}

// CreateItems is the batch variant of CreateItem, with per-item
// results in request order.
func (s *Subscription) CreateItems(timestamps wire.TimestampsToReturn, reqs []wire.MonitoredItemCreateRequest) []wire.MonitoredItemCreateResult {
	results := make([]wire.MonitoredItemCreateResult, len(reqs))
	for i, req := range reqs {
		results[i] = s.CreateItem(timestamps, req)
	}
	return results
}

// DeleteItems removes the named items. Triggering links referencing a
// deleted item, as trigger or as target, are removed silently.
func (s *Subscription) DeleteItems(ids []uint32) []wire.StatusCode {
	results := make([]wire.StatusCode, len(ids))
	var removed []*monitor.Item
	s.mu.Lock()
	for i, id := range ids {
		it, ok := s.items[id]
		if !ok {
			results[i] = wire.BadMonitoredItemIDInvalid
			continue
		}
		delete(s.items, id)
		for j, ordered := range s.itemOrder {
			if ordered == id {
				s.itemOrder = append(s.itemOrder[:j], s.itemOrder[j+1:]...)
				break
			}
		}
		s.triggers.RemoveItem(id)
		removed = append(removed, it)
		results[i] = wire.Good
	}
	s.mu.Unlock()

	for _, it := range removed {
		s.sched.Unregister(it.SamplingInterval(), it)
	}
	return results
}

// SetMonitoringMode applies one monitoring mode to the named items,
// with per-item results in request order.
func (s *Subscription) SetMonitoringMode(mode wire.MonitoringMode, ids []uint32) []wire.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]wire.StatusCode, len(ids))
	for i, id := range ids {
		it, ok := s.items[id]
		if !ok {
			results[i] = wire.BadMonitoredItemIDInvalid
			continue
		}
		results[i] = it.SetMonitoringMode(mode)
	}
	return results
}

// SetPublishingMode enables or disables publishing. While disabled,
// items keep sampling and queueing; cycles assemble nothing, so only
// keep-alives flow.
func (s *Subscription) SetPublishingMode(enabled bool) wire.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return wire.BadSubscriptionIDInvalid
	}
	s.publishingEnabled = enabled
	return wire.Good
}

// SetTriggering edits the triggering links of one item. Per-link
// results follow the input order; only an empty request or an unknown
// triggering item fails the call as a whole.
func (s *Subscription) SetTriggering(triggeringItemID uint32, linksToAdd, linksToRemove []uint32) wire.SetTriggeringResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(linksToAdd) == 0 && len(linksToRemove) == 0 {
		return wire.SetTriggeringResponse{StatusCode: wire.BadNothingToDo}
	}
	trigger, ok := s.items[triggeringItemID]
	if !ok {
		return wire.SetTriggeringResponse{StatusCode: wire.BadMonitoredItemIDInvalid}
	}

	baseline := trigger.EnqueueCount()
	resp := wire.SetTriggeringResponse{StatusCode: wire.Good}
	if len(linksToAdd) > 0 {
		resp.AddResults = make([]wire.StatusCode, len(linksToAdd))
		for i, id := range linksToAdd {
			if _, ok := s.items[id]; !ok {
				resp.AddResults[i] = wire.BadMonitoredItemIDInvalid
				continue
			}
			s.triggers.Add(triggeringItemID, id, baseline)
			resp.AddResults[i] = wire.Good
		}
	}
	if len(linksToRemove) > 0 {
		resp.RemoveResults = make([]wire.StatusCode, len(linksToRemove))
		for i, id := range linksToRemove {
			if _, ok := s.items[id]; !ok {
				resp.RemoveResults[i] = wire.BadMonitoredItemIDInvalid
				continue
			}
			s.triggers.Remove(triggeringItemID, id)
			resp.RemoveResults[i] = wire.Good
		}
	}

	s.logger.Log(log.Event{
		Timestamp:       s.clk.Now(),
		Category:        log.CategoryTriggering,
		SubscriptionID:  s.id,
		MonitoredItemID: triggeringItemID,
	})
	return resp
}

// Item returns the monitored item with the given id.
func (s *Subscription) Item(id uint32) (*monitor.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

// ItemCount returns the number of monitored items.
func (s *Subscription) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Acknowledge retires the sent message with the given sequence number
// from the retransmission queue.
func (s *Subscription) Acknowledge(sequenceNumber uint32) wire.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for n := s.retransmit.Len(); n > 0; n-- {
		m := s.retransmit.PopFront()
		if m.SequenceNumber == sequenceNumber {
			found = true
			continue
		}
		s.retransmit.PushBack(m)
	}
	if !found {
		return wire.BadSequenceNumberUnknown
	}
	return wire.Good
}

// tick runs one publish cycle. It is invoked by the publish timer and
// directly by tests.
func (s *Subscription) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if s.broker != nil {
		s.broker.sweep(now)
	}

	assembled := false
	if s.publishingEnabled {
		assembled = s.assembleLocked(now)
	}

	serviced := s.flushOutboxLocked(now)

	if !serviced && !assembled && s.outbox.Len() == 0 {
		if s.keepAliveCounter > 0 {
			s.keepAliveCounter--
		}
		if s.keepAliveCounter == 0 && s.broker != nil {
			if req, ok := s.broker.popRequest(now); ok {
				keepAlive := wire.NotificationMessage{
					SequenceNumber: s.seqNum,
					PublishTime:    now,
				}
				s.deliverLocked(req, keepAlive)
				s.setStateLocked(StateKeepAlive)
				serviced = true
				s.logger.Log(log.Event{
					Timestamp:      now,
					Category:       log.CategoryKeepAlive,
					SubscriptionID: s.id,
					SequenceNumber: s.seqNum,
				})
			}
		}
	}

	if serviced {
		s.keepAliveCounter = s.cfg.MaxKeepAliveCount
		s.lifetimeCounter = s.cfg.LifetimeCount
	} else {
		if s.lifetimeCounter > 0 {
			s.lifetimeCounter--
		}
		if s.lifetimeCounter == 0 {
			s.expireLocked(now)
			return
		}
	}

	switch {
	case s.outbox.Len() > 0:
		s.setStateLocked(StateLate)
	case serviced && s.state != StateKeepAlive:
		s.setStateLocked(StateNormal)
	case s.state == StateCreating:
		s.setStateLocked(StateNormal)
	}
}

// assembleLocked evaluates the emission rules and, when any item
// produced data, appends a sequence-numbered message to the outbox.
func (s *Subscription) assembleLocked(now time.Time) bool {
	order, capHit := s.markEmittersLocked()
	if len(order) == 0 {
		s.moreData = false
		return false
	}

	var notifs []wire.MonitoredItemNotification
	for _, id := range order {
		notifs = append(notifs, s.items[id].Extract()...)
	}
	if len(notifs) == 0 {
		s.moreData = false
		return false
	}
	s.moreData = capHit

	msg := wire.NotificationMessage{
		SequenceNumber: s.nextSeqLocked(),
		PublishTime:    now,
		NotificationData: []wire.NotificationData{{
			DataChanges: &wire.DataChangeNotification{MonitoredItems: notifs},
		}},
	}
	s.outbox.PushBack(msg)
	return true
}

// markEmittersLocked returns the item ids to extract this cycle, in
// emission order: items are scanned in creation order, a Reporting
// item with pending data emits, and a firing trigger appends its
// Sampling-mode linked items in link-insertion order. Duplicates are
// suppressed. The second result reports whether the per-publish
// notification cap stopped the scan early.
func (s *Subscription) markEmittersLocked() ([]uint32, bool) {
	max := int(s.cfg.MaxNotificationsPerPublish)
	var order []uint32
	marked := make(map[uint32]bool)
	count := 0

	room := func(n int) bool {
		return max == 0 || count+n <= max || count == 0
	}
	mark := func(id uint32, pending int) bool {
		if marked[id] || !room(pending) {
			return false
		}
		marked[id] = true
		order = append(order, id)
		count += pending
		return true
	}

	capHit := false
	for _, id := range s.itemOrder {
		it := s.items[id]
		mode := it.MonitoringMode()
		if mode == wire.MonitoringModeDisabled {
			continue
		}
		if !it.HasPending() {
			continue
		}
		pending := it.PendingCount()
		if mode == wire.MonitoringModeReporting {
			if !mark(id, pending) && !marked[id] {
				capHit = true
				continue
			}
		}
		for _, link := range s.triggers.LinksFrom(id) {
			if it.EnqueueCount() <= link.baseline {
				continue
			}
			linked, ok := s.items[link.linkedID]
			if !ok {
				continue
			}
			if linked.MonitoringMode() != wire.MonitoringModeSampling || !linked.HasPending() {
				continue
			}
			if !mark(link.linkedID, linked.PendingCount()) && !marked[link.linkedID] {
				capHit = true
			}
		}
	}
	return order, capHit
}

// flushOutboxLocked binds waiting messages to pending requests, oldest
// first, and reports whether at least one message was delivered.
func (s *Subscription) flushOutboxLocked(now time.Time) bool {
	serviced := false
	for s.broker != nil && s.outbox.Len() > 0 {
		req, ok := s.broker.popRequest(now)
		if !ok {
			break
		}
		msg := s.outbox.PopFront()
		s.recordSentLocked(msg)
		s.deliverLocked(req, msg)
		serviced = true
		s.logger.Log(log.Event{
			Timestamp:      now,
			Category:       log.CategoryPublish,
			SubscriptionID: s.id,
			SequenceNumber: msg.SequenceNumber,
		})
	}
	return serviced
}

// recordSentLocked keeps a sent data message for retransmission until
// the client acknowledges its sequence number.
func (s *Subscription) recordSentLocked(msg wire.NotificationMessage) {
	if msg.IsKeepAlive() {
		return
	}
	if s.retransmit.Len() >= maxRetransmitQueue {
		s.retransmit.PopFront()
	}
	s.retransmit.PushBack(msg)
}

func (s *Subscription) deliverLocked(req *pendingRequest, msg wire.NotificationMessage) {
	s.broker.deliver(wire.PublishResponse{
		RequestHandle:            req.handle,
		SubscriptionID:           s.id,
		AvailableSequenceNumbers: s.availableSeqNumsLocked(),
		MoreNotifications:        s.outbox.Len() > 0 || s.moreData,
		NotificationMessage:      msg,
		Results:                  req.ackResults,
		ServiceResult:            wire.Good,
	})
}

func (s *Subscription) availableSeqNumsLocked() []uint32 {
	if s.retransmit.Len() == 0 {
		return nil
	}
	seqs := make([]uint32, 0, s.retransmit.Len())
	for i := 0; i < s.retransmit.Len(); i++ {
		seqs = append(seqs, s.retransmit.At(i).SequenceNumber)
	}
	return seqs
}

// nextSeqLocked returns the next sequence number and advances the
// counter, wrapping to 1 past MaxUint32.
func (s *Subscription) nextSeqLocked() uint32 {
	n := s.seqNum
	if s.seqNum == math.MaxUint32 {
		s.seqNum = 1
	} else {
		s.seqNum++
	}
	return n
}

// expireLocked handles lifetime expiry: a BadTimeout status change is
// assembled and the subscription closes. The status change is sent
// immediately when a request is available, otherwise it stays in the
// outbox for the engine to deliver on the next request.
func (s *Subscription) expireLocked(now time.Time) {
	msg := wire.NotificationMessage{
		SequenceNumber: s.nextSeqLocked(),
		PublishTime:    now,
		NotificationData: []wire.NotificationData{{
			StatusChange: &wire.StatusChangeNotification{Status: wire.BadTimeout},
		}},
	}
	s.outbox.PushBack(msg)
	s.flushOutboxLocked(now)

	s.logger.Log(log.Event{
		Timestamp:      now,
		Category:       log.CategoryFault,
		SubscriptionID: s.id,
		Status:         wire.BadTimeout,
		Detail:         "subscription lifetime expired",
	})
	s.closeLocked(false)
}

// servicePending flushes waiting outbox messages against newly queued
// requests. The engine calls it when a request arrives for a late
// subscription; a closed subscription may still deliver its final
// status change here.
func (s *Subscription) servicePending(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outbox.Len() == 0 {
		return
	}
	if !s.flushOutboxLocked(now) {
		return
	}
	if s.state == StateClosed {
		return
	}
	s.keepAliveCounter = s.cfg.MaxKeepAliveCount
	s.lifetimeCounter = s.cfg.LifetimeCount
	if s.outbox.Len() == 0 {
		s.setStateLocked(StateNormal)
	}
}

// hasUnsent reports whether an assembled message is waiting for a
// request.
func (s *Subscription) hasUnsent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.Len() > 0
}

func (s *Subscription) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	s.logger.Log(log.Event{
		Timestamp:      s.clk.Now(),
		Category:       log.CategoryStateChange,
		SubscriptionID: s.id,
		State:          next.String(),
	})
}
