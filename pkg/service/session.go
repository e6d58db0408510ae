package service

import (
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/itp-protocol/itp-go/pkg/log"
	"github.com/itp-protocol/itp-go/pkg/monitor"
	"github.com/itp-protocol/itp-go/pkg/subscription"
	"github.com/itp-protocol/itp-go/pkg/wire"
)

// AddressSpace is what the session requires from the node store:
// attribute reads for sampling and engineering-unit ranges for percent
// deadband validation.
type AddressSpace interface {
	monitor.AttributeReader
	monitor.RangeReader
}

// Session binds one client to its subscriptions. All methods are safe
// for concurrent use.
type Session struct {
	mu sync.Mutex

	id     string
	clk    clock.Clock
	logger log.Logger
	space  AddressSpace
	sched  *monitor.Scheduler
	engine *subscription.Engine

	nextSubID uint32
	closed    bool
}

// NewSession creates a session over the given address space. Publish
// responses go through sender; see subscription.ResponseSender for the
// reentrancy constraint.
func NewSession(space AddressSpace, sender subscription.ResponseSender, clk clock.Clock, logger log.Logger) *Session {
	id := uuid.NewString()
	logger = sessionLogger{id: id, inner: log.OrNoop(logger)}
	return &Session{
		id:        id,
		clk:       clk,
		logger:    logger,
		space:     space,
		sched:     monitor.NewScheduler(clk),
		engine:    subscription.NewEngine(clk, sender, logger),
		nextSubID: 1,
	}
}

// ID returns the session UUID.
func (s *Session) ID() string {
	return s.id
}

// CreateSubscription creates a subscription with revised parameters
// and starts its publish cycle.
func (s *Session) CreateSubscription(req wire.CreateSubscriptionRequest) wire.CreateSubscriptionResponse {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.mu.Unlock()

	sub := subscription.New(id, subscription.Config{
		PublishingInterval:         req.PublishingInterval,
		LifetimeCount:              req.LifetimeCount,
		MaxKeepAliveCount:          req.MaxKeepAliveCount,
		MaxNotificationsPerPublish: req.MaxNotificationsPerPublish,
		PublishingEnabled:          req.PublishingEnabled,
	}, s.space, s.sched, s.clk, s.logger)

	s.engine.Add(sub)
	sub.Start()

	cfg := sub.Config()
	return wire.CreateSubscriptionResponse{
		SubscriptionID:            id,
		RevisedPublishingInterval: cfg.PublishingInterval,
		RevisedLifetimeCount:      cfg.LifetimeCount,
		RevisedMaxKeepAliveCount:  cfg.MaxKeepAliveCount,
	}
}

// DeleteSubscription closes and detaches the subscription.
func (s *Session) DeleteSubscription(id uint32) wire.StatusCode {
	sub, ok := s.engine.Subscription(id)
	if !ok {
		return wire.BadSubscriptionIDInvalid
	}
	sub.Close()
	s.engine.Remove(id)
	return wire.Good
}

// Subscription returns the live subscription with the given id.
func (s *Session) Subscription(id uint32) (*subscription.Subscription, bool) {
	return s.engine.Subscription(id)
}

// CreateMonitoredItems creates the requested items on one
// subscription. The second result is the service-level status; the
// per-item results follow request order.
func (s *Session) CreateMonitoredItems(subscriptionID uint32, timestamps wire.TimestampsToReturn, reqs []wire.MonitoredItemCreateRequest) ([]wire.MonitoredItemCreateResult, wire.StatusCode) {
	sub, ok := s.engine.Subscription(subscriptionID)
	if !ok {
		return nil, wire.BadSubscriptionIDInvalid
	}
	if len(reqs) == 0 {
		return nil, wire.BadNothingToDo
	}
	return sub.CreateItems(timestamps, reqs), wire.Good
}

// DeleteMonitoredItems deletes the named items on one subscription.
func (s *Session) DeleteMonitoredItems(subscriptionID uint32, ids []uint32) ([]wire.StatusCode, wire.StatusCode) {
	sub, ok := s.engine.Subscription(subscriptionID)
	if !ok {
		return nil, wire.BadSubscriptionIDInvalid
	}
	if len(ids) == 0 {
		return nil, wire.BadNothingToDo
	}
	return sub.DeleteItems(ids), wire.Good
}

// SetMonitoringMode applies one mode to the named items.
func (s *Session) SetMonitoringMode(subscriptionID uint32, mode wire.MonitoringMode, ids []uint32) ([]wire.StatusCode, wire.StatusCode) {
	sub, ok := s.engine.Subscription(subscriptionID)
	if !ok {
		return nil, wire.BadSubscriptionIDInvalid
	}
	if len(ids) == 0 {
		return nil, wire.BadNothingToDo
	}
	return sub.SetMonitoringMode(mode, ids), wire.Good
}

// SetPublishingMode gates notification assembly on one subscription.
func (s *Session) SetPublishingMode(subscriptionID uint32, enabled bool) wire.StatusCode {
	sub, ok := s.engine.Subscription(subscriptionID)
	if !ok {
		return wire.BadSubscriptionIDInvalid
	}
	return sub.SetPublishingMode(enabled)
}

// SetTriggering edits triggering links per the request.
func (s *Session) SetTriggering(req wire.SetTriggeringRequest) wire.SetTriggeringResponse {
	sub, ok := s.engine.Subscription(req.SubscriptionID)
	if !ok {
		return wire.SetTriggeringResponse{StatusCode: wire.BadSubscriptionIDInvalid}
	}
	return sub.SetTriggering(req.TriggeringItemID, req.LinksToAdd, req.LinksToRemove)
}

// OnPublishRequest hands one publish request to the engine. The
// response arrives asynchronously through the session's sender.
func (s *Session) OnPublishRequest(req wire.PublishRequest) {
	s.engine.EnqueueRequest(req)
}

// Close tears the session down: all subscriptions close, queued
// publish requests fail, and the sampling scheduler stops. Close is
// idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.engine.Close()
	s.sched.Stop()
}

// sessionLogger stamps the session id on events passing through.
type sessionLogger struct {
	id    string
	inner log.Logger
}

func (l sessionLogger) Log(e log.Event) {
	if e.SessionID == "" {
		e.SessionID = l.id
	}
	l.inner.Log(e)
}
