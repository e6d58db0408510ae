package subscription

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/juju/clock"

	"github.com/itp-protocol/itp-go/pkg/log"
	"github.com/itp-protocol/itp-go/pkg/wire"
)

// ResponseSender carries finished publish responses to the transport
// layer. Implementations must not call back into the engine.
type ResponseSender interface {
	SendResponse(resp wire.PublishResponse)
}

// SenderFunc adapts a function to the ResponseSender interface.
type SenderFunc func(resp wire.PublishResponse)

// SendResponse calls f(resp).
func (f SenderFunc) SendResponse(resp wire.PublishResponse) {
	f(resp)
}

// pendingRequest is one queued publish request awaiting a ready
// subscription.
type pendingRequest struct {
	handle     uint32
	ackResults []wire.StatusCode
	arrived    time.Time
}

// Engine owns the subscriptions of one session, queues incoming
// publish requests, and matches them against subscriptions that have
// notifications or are due a keep-alive. Exactly one response is
// produced per consumed request.
type Engine struct {
	mu sync.Mutex

	clk    clock.Clock
	logger log.Logger
	sender ResponseSender

	requests deque.Deque[*pendingRequest]
	subs     map[uint32]*Subscription
	subOrder []uint32
	closed   bool
}

// NewEngine creates a publish engine delivering responses through
// sender.
func NewEngine(clk clock.Clock, sender ResponseSender, logger log.Logger) *Engine {
	return &Engine{
		clk:    clk,
		logger: log.OrNoop(logger),
		sender: sender,
		subs:   make(map[uint32]*Subscription),
	}
}

// Add attaches a subscription to the engine.
func (e *Engine) Add(s *Subscription) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, ok := e.subs[s.ID()]; !ok {
		e.subs[s.ID()] = s
		e.subOrder = append(e.subOrder, s.ID())
	}
	e.mu.Unlock()
	s.attach(e)
}

// Subscription returns the attached subscription with the given id.
func (e *Engine) Subscription(id uint32) (*Subscription, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.subs[id]
	return s, ok
}

// Subscriptions returns the attached subscriptions in attach order.
func (e *Engine) Subscriptions() []*Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []*Subscription {
	subs := make([]*Subscription, 0, len(e.subOrder))
	for _, id := range e.subOrder {
		subs = append(subs, e.subs[id])
	}
	return subs
}

// Remove detaches the subscription with the given id. When the last
// subscription leaves, every queued request fails with
// BadSubscriptionIDInvalid. The subscription itself is not closed.
func (e *Engine) Remove(id uint32) bool {
	e.mu.Lock()
	if _, ok := e.subs[id]; !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.subs, id)
	for i, ordered := range e.subOrder {
		if ordered == id {
			e.subOrder = append(e.subOrder[:i], e.subOrder[i+1:]...)
			break
		}
	}
	var orphaned []*pendingRequest
	if len(e.subs) == 0 {
		orphaned = e.drainRequestsLocked()
	}
	e.mu.Unlock()

	e.failRequests(orphaned, wire.BadSubscriptionIDInvalid)
	return true
}

// Close removes all subscriptions, closing each, and fails every
// queued request with BadSubscriptionIDInvalid. Close is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := e.snapshotLocked()
	e.subs = make(map[uint32]*Subscription)
	e.subOrder = nil
	orphaned := e.drainRequestsLocked()
	e.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	e.failRequests(orphaned, wire.BadSubscriptionIDInvalid)
}

// EnqueueRequest accepts one publish request: acknowledgements are
// retired against their subscriptions, then the request either fails
// fast (no subscriptions), or joins the FIFO and is offered to any
// subscription holding an undelivered message.
func (e *Engine) EnqueueRequest(req wire.PublishRequest) {
	now := e.clk.Now()

	var ackResults []wire.StatusCode
	if n := len(req.SubscriptionAcknowledgements); n > 0 {
		ackResults = make([]wire.StatusCode, n)
		for i, ack := range req.SubscriptionAcknowledgements {
			s, ok := e.Subscription(ack.SubscriptionID)
			if !ok {
				ackResults[i] = wire.BadSubscriptionIDInvalid
				continue
			}
			ackResults[i] = s.Acknowledge(ack.SequenceNumber)
		}
	}

	e.mu.Lock()
	if e.closed || len(e.subs) == 0 {
		e.mu.Unlock()
		e.sender.SendResponse(wire.PublishResponse{
			RequestHandle: req.RequestHandle,
			Results:       ackResults,
			ServiceResult: wire.BadNoSubscription,
		})
		return
	}
	e.requests.PushBack(&pendingRequest{
		handle:     req.RequestHandle,
		ackResults: ackResults,
		arrived:    now,
	})
	subs := e.snapshotLocked()
	e.mu.Unlock()

	e.logger.Log(log.Event{
		Timestamp: now,
		Category:  log.CategoryRequest,
		Detail:    "publish request queued",
	})

	e.sweep(now)
	for _, s := range subs {
		s.servicePending(now)
	}
	e.pruneClosed()
}

// pruneClosed detaches subscriptions that closed with nothing left to
// deliver. A closed subscription stays attached only while its final
// status change waits for a request; once that is drained, keeping it
// would strand queued requests with no subscription able to serve
// them.
func (e *Engine) pruneClosed() {
	e.mu.Lock()
	subs := e.snapshotLocked()
	e.mu.Unlock()

	for _, s := range subs {
		if s.State() == StateClosed && !s.hasUnsent() {
			e.Remove(s.ID())
		}
	}
}

// PendingRequests returns the number of queued publish requests.
func (e *Engine) PendingRequests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests.Len()
}

// popRequest hands out the oldest live request. Requests that sat
// longer than the timeout budget are failed with BadTimeout on the
// way.
func (e *Engine) popRequest(now time.Time) (*pendingRequest, bool) {
	e.mu.Lock()
	budget := e.timeoutBudgetLocked()
	var expired []*pendingRequest
	var req *pendingRequest
	for e.requests.Len() > 0 {
		head := e.requests.PopFront()
		if budget > 0 && now.Sub(head.arrived) >= budget {
			expired = append(expired, head)
			continue
		}
		req = head
		break
	}
	e.mu.Unlock()

	e.failRequests(expired, wire.BadTimeout)
	return req, req != nil
}

// sweep fails requests that outlived the timeout budget. The budget
// derives from the fastest subscription: its publishing interval times
// its lifetime count.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	budget := e.timeoutBudgetLocked()
	var expired []*pendingRequest
	if budget > 0 {
		for e.requests.Len() > 0 {
			head := e.requests.Front()
			if now.Sub(head.arrived) < budget {
				break
			}
			expired = append(expired, e.requests.PopFront())
		}
	}
	e.mu.Unlock()

	e.failRequests(expired, wire.BadTimeout)
}

func (e *Engine) timeoutBudgetLocked() time.Duration {
	var budget time.Duration
	for _, s := range e.subs {
		cfg := s.Config()
		b := cfg.PublishingInterval * time.Duration(cfg.LifetimeCount)
		if budget == 0 || b < budget {
			budget = b
		}
	}
	return budget
}

func (e *Engine) drainRequestsLocked() []*pendingRequest {
	reqs := make([]*pendingRequest, 0, e.requests.Len())
	for e.requests.Len() > 0 {
		reqs = append(reqs, e.requests.PopFront())
	}
	return reqs
}

func (e *Engine) failRequests(reqs []*pendingRequest, status wire.StatusCode) {
	for _, req := range reqs {
		e.sender.SendResponse(wire.PublishResponse{
			RequestHandle: req.handle,
			Results:       req.ackResults,
			ServiceResult: status,
		})
		e.logger.Log(log.Event{
			Timestamp: e.clk.Now(),
			Category:  log.CategoryFault,
			Status:    status,
			Detail:    "publish request failed",
		})
	}
}

// deliver hands a finished response to the transport sender.
func (e *Engine) deliver(resp wire.PublishResponse) {
	e.sender.SendResponse(resp)
}
