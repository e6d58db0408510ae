package subscription

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/itp-protocol/itp-go/pkg/addrspace"
	"github.com/itp-protocol/itp-go/pkg/monitor"
	"github.com/itp-protocol/itp-go/pkg/wire"
)

// fakeBroker is a single-threaded stand-in for the publish engine.
type fakeBroker struct {
	requests []*pendingRequest
	sent     []wire.PublishResponse
}

func (b *fakeBroker) popRequest(time.Time) (*pendingRequest, bool) {
	if len(b.requests) == 0 {
		return nil, false
	}
	req := b.requests[0]
	b.requests = b.requests[1:]
	return req, true
}

func (b *fakeBroker) deliver(resp wire.PublishResponse) {
	b.sent = append(b.sent, resp)
}

func (b *fakeBroker) sweep(time.Time) {}

func (b *fakeBroker) queue(handle uint32) {
	b.requests = append(b.requests, &pendingRequest{handle: handle})
}

// dataMessages returns the delivered responses that carry data.
func (b *fakeBroker) dataMessages() []wire.PublishResponse {
	var out []wire.PublishResponse
	for _, resp := range b.sent {
		if !resp.NotificationMessage.IsKeepAlive() {
			out = append(out, resp)
		}
	}
	return out
}

type env struct {
	clk    *testclock.Clock
	space  *addrspace.Memory
	sched  *monitor.Scheduler
	broker *fakeBroker
	sub    *Subscription

	itemIDs map[uint32]uint32 // client handle -> item id
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	clk := testclock.NewClock(time.Unix(1700000000, 0).UTC())
	space := addrspace.NewMemory(clk)
	sched := monitor.NewScheduler(clk)
	t.Cleanup(sched.Stop)

	cfg.PublishingEnabled = true
	sub := New(1, cfg, space, sched, clk, nil)
	t.Cleanup(sub.Close)
	broker := &fakeBroker{}
	sub.attach(broker)

	return &env{
		clk:     clk,
		space:   space,
		sched:   sched,
		broker:  broker,
		sub:     sub,
		itemIDs: make(map[uint32]uint32),
	}
}

func (e *env) node(handle uint32) wire.NodeID {
	return wire.NodeID{Namespace: 2, ID: fmt.Sprintf("sensor/%d", handle)}
}

func (e *env) createItem(t *testing.T, handle uint32, mode wire.MonitoringMode) uint32 {
	t.Helper()
	if err := e.space.AddVariable(e.node(handle), float64(0)); err != nil {
		t.Fatal(err)
	}
	result := e.sub.CreateItem(wire.TimestampsBoth, wire.MonitoredItemCreateRequest{
		ItemToMonitor:  wire.ReadValueID{NodeID: e.node(handle), AttributeID: wire.AttributeValue},
		MonitoringMode: mode,
		RequestedParameters: wire.MonitoringParameters{
			ClientHandle:  handle,
			QueueSize:     1,
			DiscardOldest: true,
		},
	})
	if result.StatusCode != wire.Good {
		t.Fatalf("CreateItem(%d) = %v", handle, result.StatusCode)
	}
	e.itemIDs[handle] = result.MonitoredItemID
	return result.MonitoredItemID
}

func (e *env) writeAndSample(t *testing.T, handle uint32, v float64) {
	t.Helper()
	if err := e.space.WriteValue(e.node(handle), v); err != nil {
		t.Fatal(err)
	}
	item, ok := e.sub.Item(e.itemIDs[handle])
	if !ok {
		t.Fatalf("item for handle %d not found", handle)
	}
	item.Sample()
}

func (e *env) tick() {
	e.clk.Advance(e.sub.Config().PublishingInterval)
	e.sub.tick(e.clk.Now())
}

func handlesOf(resp wire.PublishResponse) []uint32 {
	var handles []uint32
	for _, data := range resp.NotificationMessage.NotificationData {
		if data.DataChanges == nil {
			continue
		}
		for _, n := range data.DataChanges.MonitoredItems {
			handles = append(handles, n.ClientHandle)
		}
	}
	return handles
}

func TestConfigRevision(t *testing.T) {
	cfg := Config{
		PublishingInterval: time.Millisecond,
		MaxKeepAliveCount:  20,
		LifetimeCount:      5,
	}.revised()

	if cfg.PublishingInterval != MinPublishingInterval {
		t.Errorf("PublishingInterval = %v, want %v", cfg.PublishingInterval, MinPublishingInterval)
	}
	if cfg.LifetimeCount != 60 {
		t.Errorf("LifetimeCount = %d, want 60 (three times the keep-alive count)", cfg.LifetimeCount)
	}

	cfg = Config{}.revised()
	if cfg.PublishingInterval != DefaultPublishingInterval {
		t.Errorf("default PublishingInterval = %v", cfg.PublishingInterval)
	}
	if cfg.MaxKeepAliveCount != DefaultMaxKeepAliveCount {
		t.Errorf("default MaxKeepAliveCount = %d", cfg.MaxKeepAliveCount)
	}
}

func TestPublishCycleDeliversReportingData(t *testing.T) {
	e := newEnv(t, Config{})
	e.createItem(t, 1, wire.MonitoringModeReporting)

	e.broker.queue(100)
	e.tick()

	data := e.broker.dataMessages()
	if len(data) != 1 {
		t.Fatalf("delivered %d data messages, want 1", len(data))
	}
	resp := data[0]
	if resp.RequestHandle != 100 {
		t.Errorf("RequestHandle = %d, want 100", resp.RequestHandle)
	}
	if resp.SubscriptionID != 1 {
		t.Errorf("SubscriptionID = %d, want 1", resp.SubscriptionID)
	}
	if got := handlesOf(resp); len(got) != 1 || got[0] != 1 {
		t.Errorf("handles = %v, want [1]", got)
	}
	if resp.NotificationMessage.SequenceNumber != 1 {
		t.Errorf("SequenceNumber = %d, want 1", resp.NotificationMessage.SequenceNumber)
	}
	if e.sub.State() != StateNormal {
		t.Errorf("State = %v, want NORMAL", e.sub.State())
	}
}

func TestSequenceNumbersAdvanceOnlyOnData(t *testing.T) {
	e := newEnv(t, Config{MaxKeepAliveCount: 2})
	e.createItem(t, 1, wire.MonitoringModeReporting)

	e.broker.queue(1)
	e.tick()

	// Two empty cycles bring the keep-alive counter to zero.
	e.broker.queue(2)
	e.tick()
	e.tick()

	// New data after the keep-alive.
	e.writeAndSample(t, 1, 7)
	e.broker.queue(3)
	e.tick()

	if len(e.broker.sent) != 3 {
		t.Fatalf("delivered %d responses, want 3", len(e.broker.sent))
	}
	first, keepAlive, second := e.broker.sent[0], e.broker.sent[1], e.broker.sent[2]
	if first.NotificationMessage.SequenceNumber != 1 {
		t.Errorf("first sequence = %d, want 1", first.NotificationMessage.SequenceNumber)
	}
	if !keepAlive.NotificationMessage.IsKeepAlive() {
		t.Fatal("second response should be a keep-alive")
	}
	// Keep-alives carry the next unconsumed sequence number without
	// consuming it.
	if keepAlive.NotificationMessage.SequenceNumber != 2 {
		t.Errorf("keep-alive sequence = %d, want 2", keepAlive.NotificationMessage.SequenceNumber)
	}
	if second.NotificationMessage.SequenceNumber != 2 {
		t.Errorf("second data sequence = %d, want 2", second.NotificationMessage.SequenceNumber)
	}
}

func TestLateDeliveryOnNextTick(t *testing.T) {
	e := newEnv(t, Config{})
	e.createItem(t, 1, wire.MonitoringModeReporting)

	e.tick()
	if e.sub.State() != StateLate {
		t.Fatalf("State = %v, want LATE", e.sub.State())
	}
	if !e.sub.hasUnsent() {
		t.Fatal("assembled message should be held in the outbox")
	}

	e.broker.queue(1)
	e.tick()
	if got := len(e.broker.dataMessages()); got != 1 {
		t.Fatalf("delivered %d data messages, want 1", got)
	}
	if e.sub.State() != StateNormal {
		t.Errorf("State = %v, want NORMAL", e.sub.State())
	}
}

func TestKeepAliveEmission(t *testing.T) {
	e := newEnv(t, Config{MaxKeepAliveCount: 2})

	for i := 0; i < 4; i++ {
		e.broker.queue(uint32(i))
		e.tick()
	}

	// Cycles 2 and 4 emit keep-alives; 1 and 3 are silent.
	if len(e.broker.sent) != 2 {
		t.Fatalf("delivered %d responses, want 2", len(e.broker.sent))
	}
	for _, resp := range e.broker.sent {
		if !resp.NotificationMessage.IsKeepAlive() {
			t.Error("expected only keep-alive responses")
		}
	}
	if e.sub.State() != StateKeepAlive {
		t.Errorf("State = %v, want KEEPALIVE", e.sub.State())
	}
}

func TestLifetimeExpiry(t *testing.T) {
	e := newEnv(t, Config{MaxKeepAliveCount: 2, LifetimeCount: 6})

	for i := 0; i < 6; i++ {
		e.tick()
	}
	if e.sub.State() != StateClosed {
		t.Fatalf("State = %v, want CLOSED after lifetime expiry", e.sub.State())
	}
	if !e.sub.hasUnsent() {
		t.Fatal("expiry should leave a status change waiting for a request")
	}

	// A request arriving afterwards still collects the final message.
	e.broker.queue(9)
	e.sub.servicePending(e.clk.Now())

	if len(e.broker.sent) != 1 {
		t.Fatalf("delivered %d responses, want 1", len(e.broker.sent))
	}
	sc := e.broker.sent[0].NotificationMessage.NotificationData[0].StatusChange
	if sc == nil || sc.Status != wire.BadTimeout {
		t.Errorf("status change = %+v, want BadTimeout", sc)
	}
}

func TestTriggeringMatrix(t *testing.T) {
	cases := []struct {
		trigger     wire.MonitoringMode
		linked      wire.MonitoringMode
		wantTrigger bool
		wantLinked  bool
	}{
		{wire.MonitoringModeReporting, wire.MonitoringModeSampling, true, true},
		{wire.MonitoringModeReporting, wire.MonitoringModeReporting, true, true},
		{wire.MonitoringModeReporting, wire.MonitoringModeDisabled, true, false},
		{wire.MonitoringModeSampling, wire.MonitoringModeSampling, false, true},
		{wire.MonitoringModeSampling, wire.MonitoringModeReporting, false, true},
		{wire.MonitoringModeSampling, wire.MonitoringModeDisabled, false, false},
		{wire.MonitoringModeDisabled, wire.MonitoringModeSampling, false, false},
		{wire.MonitoringModeDisabled, wire.MonitoringModeReporting, false, true},
		{wire.MonitoringModeDisabled, wire.MonitoringModeDisabled, false, false},
	}

	for _, tc := range cases {
		name := fmt.Sprintf("trigger=%v/linked=%v", tc.trigger, tc.linked)
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, Config{})
			triggerID := e.createItem(t, 1, tc.trigger)
			linkedID := e.createItem(t, 2, tc.linked)

			resp := e.sub.SetTriggering(triggerID, []uint32{linkedID}, nil)
			if resp.StatusCode != wire.Good {
				t.Fatalf("SetTriggering = %v", resp.StatusCode)
			}

			e.writeAndSample(t, 1, 11)
			e.writeAndSample(t, 2, 22)

			e.broker.queue(1)
			e.tick()

			gotTrigger, gotLinked := false, false
			for _, resp := range e.broker.dataMessages() {
				for _, h := range handlesOf(resp) {
					switch h {
					case 1:
						gotTrigger = true
					case 2:
						gotLinked = true
					}
				}
			}
			if gotTrigger != tc.wantTrigger {
				t.Errorf("trigger emitted = %v, want %v", gotTrigger, tc.wantTrigger)
			}
			if gotLinked != tc.wantLinked {
				t.Errorf("linked emitted = %v, want %v", gotLinked, tc.wantLinked)
			}
		})
	}
}

func TestTriggeredFlushOrder(t *testing.T) {
	e := newEnv(t, Config{})
	id1 := e.createItem(t, 1, wire.MonitoringModeReporting)
	id2 := e.createItem(t, 2, wire.MonitoringModeSampling)
	id3 := e.createItem(t, 3, wire.MonitoringModeSampling)

	// First cycle: only the Reporting item emits its initial value.
	e.broker.queue(1)
	e.tick()
	data := e.broker.dataMessages()
	if len(data) != 1 {
		t.Fatalf("delivered %d data messages, want 1", len(data))
	}
	if got := handlesOf(data[0]); len(got) != 1 || got[0] != 1 {
		t.Fatalf("first batch handles = %v, want [1]", got)
	}

	resp := e.sub.SetTriggering(id1, []uint32{id2, id3}, nil)
	if resp.StatusCode != wire.Good {
		t.Fatalf("SetTriggering = %v", resp.StatusCode)
	}

	e.writeAndSample(t, 1, 10)
	e.writeAndSample(t, 2, 20)
	e.writeAndSample(t, 3, 30)

	e.broker.queue(2)
	e.tick()
	data = e.broker.dataMessages()
	if len(data) != 2 {
		t.Fatalf("delivered %d data messages, want 2", len(data))
	}
	got := handlesOf(data[1])
	want := []uint32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("second batch handles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("second batch handles = %v, want %v", got, want)
		}
	}
}

func TestDisabledTriggerNeverFires(t *testing.T) {
	e := newEnv(t, Config{MaxKeepAliveCount: 100})
	triggerID := e.createItem(t, 1, wire.MonitoringModeDisabled)
	linkedID := e.createItem(t, 2, wire.MonitoringModeSampling)

	for cycle := 0; cycle < 5; cycle++ {
		if cycle == 2 {
			resp := e.sub.SetTriggering(triggerID, []uint32{linkedID}, nil)
			if resp.StatusCode != wire.Good {
				t.Fatalf("SetTriggering = %v", resp.StatusCode)
			}
		}
		e.writeAndSample(t, 1, float64(cycle))
		e.writeAndSample(t, 2, float64(cycle))
		e.broker.queue(uint32(cycle))
		e.tick()
	}

	if data := e.broker.dataMessages(); len(data) != 0 {
		t.Fatalf("disabled trigger produced %d data messages, want 0", len(data))
	}
}

func TestReportingItemsUnaffectedByTriggerLinks(t *testing.T) {
	e := newEnv(t, Config{})
	id1 := e.createItem(t, 1, wire.MonitoringModeSampling)
	id2 := e.createItem(t, 2, wire.MonitoringModeReporting)
	id3 := e.createItem(t, 3, wire.MonitoringModeReporting)

	countPerCycle := func() int {
		e.writeAndSample(t, 1, float64(e.clk.Now().Unix()))
		e.writeAndSample(t, 2, float64(e.clk.Now().Unix()))
		e.writeAndSample(t, 3, float64(e.clk.Now().Unix()))
		before := len(e.broker.dataMessages())
		e.broker.queue(1)
		e.tick()
		data := e.broker.dataMessages()
		if len(data) != before+1 {
			t.Fatalf("expected one data message per cycle")
		}
		return len(handlesOf(data[len(data)-1]))
	}

	// Drain the initial samples of id2/id3.
	e.broker.queue(0)
	e.tick()

	if n := countPerCycle(); n != 2 {
		t.Fatalf("pre-link cycle carried %d notifications, want 2", n)
	}
	e.sub.SetTriggering(id1, []uint32{id2, id3}, nil)
	if n := countPerCycle(); n != 2 {
		t.Fatalf("linked cycle carried %d notifications, want 2", n)
	}
	e.sub.SetTriggering(id1, nil, []uint32{id2, id3})
	if n := countPerCycle(); n != 2 {
		t.Fatalf("unlinked cycle carried %d notifications, want 2", n)
	}
}

func TestSetTriggeringContract(t *testing.T) {
	e := newEnv(t, Config{})
	id1 := e.createItem(t, 1, wire.MonitoringModeReporting)
	id2 := e.createItem(t, 2, wire.MonitoringModeSampling)
	id3 := e.createItem(t, 3, wire.MonitoringModeSampling)

	resp := e.sub.SetTriggering(id1, nil, nil)
	if resp.StatusCode != wire.BadNothingToDo {
		t.Errorf("empty request = %v, want BadNothingToDo", resp.StatusCode)
	}

	resp = e.sub.SetTriggering(999, []uint32{id2}, nil)
	if resp.StatusCode != wire.BadMonitoredItemIDInvalid {
		t.Errorf("unknown trigger = %v, want BadMonitoredItemIDInvalid", resp.StatusCode)
	}

	resp = e.sub.SetTriggering(id1, []uint32{id2, 999, id3}, []uint32{888})
	if resp.StatusCode != wire.Good {
		t.Fatalf("StatusCode = %v, want Good despite per-link failures", resp.StatusCode)
	}
	wantAdd := []wire.StatusCode{wire.Good, wire.BadMonitoredItemIDInvalid, wire.Good}
	if len(resp.AddResults) != len(wantAdd) {
		t.Fatalf("AddResults = %v", resp.AddResults)
	}
	for i, want := range wantAdd {
		if resp.AddResults[i] != want {
			t.Errorf("AddResults[%d] = %v, want %v", i, resp.AddResults[i], want)
		}
	}
	if len(resp.RemoveResults) != 1 || resp.RemoveResults[0] != wire.BadMonitoredItemIDInvalid {
		t.Errorf("RemoveResults = %v, want [BadMonitoredItemIDInvalid]", resp.RemoveResults)
	}
}

func TestTriggeringLinkArmedAtCreation(t *testing.T) {
	e := newEnv(t, Config{})
	triggerID := e.createItem(t, 1, wire.MonitoringModeSampling)
	linkedID := e.createItem(t, 2, wire.MonitoringModeSampling)

	// Both items hold their initial samples. The link is created after,
	// so that data must not fire it.
	resp := e.sub.SetTriggering(triggerID, []uint32{linkedID}, nil)
	if resp.StatusCode != wire.Good {
		t.Fatalf("SetTriggering = %v", resp.StatusCode)
	}

	e.broker.queue(1)
	e.tick()
	if data := e.broker.dataMessages(); len(data) != 0 {
		t.Fatalf("pre-existing data fired a fresh link: %d messages", len(data))
	}

	// The first post-link sample arms the trigger.
	e.writeAndSample(t, 1, 5)
	e.broker.queue(2)
	e.tick()
	data := e.broker.dataMessages()
	if len(data) != 1 {
		t.Fatalf("delivered %d data messages, want 1", len(data))
	}
	if got := handlesOf(data[0]); len(got) != 1 || got[0] != 2 {
		t.Errorf("handles = %v, want [2]", got)
	}
}

func TestDeleteItemRemovesTriggeringLinks(t *testing.T) {
	e := newEnv(t, Config{})
	id1 := e.createItem(t, 1, wire.MonitoringModeReporting)
	id2 := e.createItem(t, 2, wire.MonitoringModeSampling)
	id3 := e.createItem(t, 3, wire.MonitoringModeSampling)

	e.sub.SetTriggering(id1, []uint32{id2, id3}, nil)
	e.sub.SetTriggering(id2, []uint32{id3}, nil)

	// Deleting a linked target removes only the links that point at it.
	results := e.sub.DeleteItems([]uint32{id3})
	if results[0] != wire.Good {
		t.Fatalf("DeleteItems = %v", results)
	}
	if got := e.sub.triggers.Len(); got != 1 {
		t.Errorf("links after deleting target = %d, want 1", got)
	}

	// Deleting the trigger removes its outgoing links; the targets stay.
	e.sub.DeleteItems([]uint32{id1})
	if got := e.sub.triggers.Len(); got != 0 {
		t.Errorf("links after deleting trigger = %d, want 0", got)
	}
	if _, ok := e.sub.Item(id2); !ok {
		t.Error("deleting the trigger must not delete linked items")
	}

	results = e.sub.DeleteItems([]uint32{999})
	if results[0] != wire.BadMonitoredItemIDInvalid {
		t.Errorf("unknown id = %v, want BadMonitoredItemIDInvalid", results[0])
	}
}

func TestAcknowledgeRetiresSentMessages(t *testing.T) {
	e := newEnv(t, Config{})
	e.createItem(t, 1, wire.MonitoringModeReporting)

	e.broker.queue(1)
	e.tick()
	e.writeAndSample(t, 1, 5)
	e.broker.queue(2)
	e.tick()

	data := e.broker.dataMessages()
	if len(data) != 2 {
		t.Fatalf("delivered %d data messages, want 2", len(data))
	}
	// The second response advertises both unacknowledged messages.
	if got := data[1].AvailableSequenceNumbers; len(got) != 2 {
		t.Fatalf("AvailableSequenceNumbers = %v, want two entries", got)
	}

	if status := e.sub.Acknowledge(1); status != wire.Good {
		t.Errorf("Acknowledge(1) = %v, want Good", status)
	}
	if status := e.sub.Acknowledge(1); status != wire.BadSequenceNumberUnknown {
		t.Errorf("repeated Acknowledge(1) = %v, want BadSequenceNumberUnknown", status)
	}
	if status := e.sub.Acknowledge(42); status != wire.BadSequenceNumberUnknown {
		t.Errorf("Acknowledge(42) = %v, want BadSequenceNumberUnknown", status)
	}
}

func TestSetPublishingModeGatesAssembly(t *testing.T) {
	e := newEnv(t, Config{MaxKeepAliveCount: 2})
	e.createItem(t, 1, wire.MonitoringModeReporting)

	if status := e.sub.SetPublishingMode(false); status != wire.Good {
		t.Fatalf("SetPublishingMode = %v", status)
	}

	// Data accumulates but only keep-alives flow.
	for i := 0; i < 4; i++ {
		e.writeAndSample(t, 1, float64(i))
		e.broker.queue(uint32(i))
		e.tick()
	}
	if data := e.broker.dataMessages(); len(data) != 0 {
		t.Fatalf("publishing-disabled cycle delivered %d data messages", len(data))
	}
	if len(e.broker.sent) == 0 {
		t.Fatal("keep-alives must keep flowing while publishing is disabled")
	}

	// Re-enabling releases the queued value on the next cycle.
	e.sub.SetPublishingMode(true)
	e.broker.queue(9)
	e.tick()
	if data := e.broker.dataMessages(); len(data) != 1 {
		t.Fatalf("delivered %d data messages after re-enable, want 1", len(data))
	}
}

func TestMonitoredItemCap(t *testing.T) {
	e := newEnv(t, Config{MaxMonitoredItems: 1})
	e.createItem(t, 1, wire.MonitoringModeReporting)

	if err := e.space.AddVariable(e.node(2), float64(0)); err != nil {
		t.Fatal(err)
	}
	result := e.sub.CreateItem(wire.TimestampsBoth, wire.MonitoredItemCreateRequest{
		ItemToMonitor:  wire.ReadValueID{NodeID: e.node(2), AttributeID: wire.AttributeValue},
		MonitoringMode: wire.MonitoringModeReporting,
		RequestedParameters: wire.MonitoringParameters{ClientHandle: 2},
	})
	if result.StatusCode != wire.BadTooManyMonitoredItems {
		t.Errorf("StatusCode = %v, want BadTooManyMonitoredItems", result.StatusCode)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newEnv(t, Config{})
	e.createItem(t, 1, wire.MonitoringModeReporting)

	e.sub.Close()
	e.sub.Close()
	if e.sub.State() != StateClosed {
		t.Fatalf("State = %v, want CLOSED", e.sub.State())
	}

	result := e.sub.CreateItem(wire.TimestampsBoth, wire.MonitoredItemCreateRequest{
		ItemToMonitor: wire.ReadValueID{NodeID: e.node(1), AttributeID: wire.AttributeValue},
		RequestedParameters: wire.MonitoringParameters{ClientHandle: 9},
	})
	if result.StatusCode != wire.BadSubscriptionIDInvalid {
		t.Errorf("CreateItem on closed subscription = %v, want BadSubscriptionIDInvalid", result.StatusCode)
	}

	// Ticks after close are inert.
	e.broker.queue(1)
	e.sub.tick(e.clk.Now())
	if len(e.broker.sent) != 0 {
		t.Error("closed subscription must not deliver")
	}
}

func TestOnItemCreatedObserver(t *testing.T) {
	e := newEnv(t, Config{})

	var seen []uint32
	e.sub.OnItemCreated(func(it *monitor.Item) {
		seen = append(seen, it.ClientHandle())
	})

	e.createItem(t, 7, wire.MonitoringModeReporting)
	e.createItem(t, 8, wire.MonitoringModeSampling)

	if len(seen) != 2 || seen[0] != 7 || seen[1] != 8 {
		t.Errorf("observer saw %v, want [7 8]", seen)
	}
}

func TestSetMonitoringModeBatch(t *testing.T) {
	e := newEnv(t, Config{})
	id1 := e.createItem(t, 1, wire.MonitoringModeReporting)

	results := e.sub.SetMonitoringMode(wire.MonitoringModeDisabled, []uint32{id1, 999})
	if results[0] != wire.Good {
		t.Errorf("results[0] = %v, want Good", results[0])
	}
	if results[1] != wire.BadMonitoredItemIDInvalid {
		t.Errorf("results[1] = %v, want BadMonitoredItemIDInvalid", results[1])
	}

	item, _ := e.sub.Item(id1)
	if item.MonitoringMode() != wire.MonitoringModeDisabled {
		t.Error("mode change not applied")
	}
}

func TestMoreNotificationsClearedAfterQuietCycle(t *testing.T) {
	e := newEnv(t, Config{MaxNotificationsPerPublish: 1, MaxKeepAliveCount: 1})
	triggerID := e.createItem(t, 1, wire.MonitoringModeReporting)
	targetID := e.createItem(t, 2, wire.MonitoringModeSampling)
	resp := e.sub.SetTriggering(triggerID, []uint32{targetID}, nil)
	if resp.StatusCode != wire.Good {
		t.Fatal(resp.StatusCode)
	}

	// Both items have data; the cap admits only the trigger, so the
	// capped cycle reports more notifications pending.
	e.writeAndSample(t, 1, 10)
	e.writeAndSample(t, 2, 20)
	e.broker.queue(1)
	e.tick()
	if len(e.broker.sent) != 1 {
		t.Fatalf("delivered %d responses, want 1", len(e.broker.sent))
	}
	if !e.broker.sent[0].MoreNotifications {
		t.Fatal("capped cycle must report MoreNotifications")
	}

	// The trigger goes quiet, so the leftover sampling data is never
	// reassembled. The keep-alive must not keep advertising it.
	e.broker.queue(2)
	e.tick()
	if len(e.broker.sent) != 2 {
		t.Fatalf("delivered %d responses, want 2", len(e.broker.sent))
	}
	if !e.broker.sent[1].NotificationMessage.IsKeepAlive() {
		t.Fatal("quiet cycle must deliver a keep-alive")
	}
	if e.broker.sent[1].MoreNotifications {
		t.Error("keep-alive carries stale MoreNotifications")
	}
}

// countingReader counts attribute reads to observe sampling activity.
type countingReader struct {
	inner monitor.AttributeReader
	reads atomic.Int64
}

func (r *countingReader) ReadAttribute(id wire.ReadValueID) wire.DataValue {
	r.reads.Add(1)
	return r.inner.ReadAttribute(id)
}

func TestCloseRacingCreateItemLeavesNoSampler(t *testing.T) {
	clk := testclock.NewClock(time.Unix(1700000000, 0).UTC())
	space := addrspace.NewMemory(clk)
	node := wire.NodeID{Namespace: 2, ID: "race/flow"}
	if err := space.AddVariable(node, float64(1)); err != nil {
		t.Fatal(err)
	}
	reader := &countingReader{inner: space}
	sched := monitor.NewScheduler(clk)
	defer sched.Stop()

	sub := New(1, Config{PublishingEnabled: true}, reader, sched, clk, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.CreateItem(wire.TimestampsBoth, wire.MonitoredItemCreateRequest{
			ItemToMonitor:  wire.ReadValueID{NodeID: node, AttributeID: wire.AttributeValue},
			MonitoringMode: wire.MonitoringModeReporting,
			RequestedParameters: wire.MonitoringParameters{
				ClientHandle:     1,
				SamplingInterval: 100 * time.Millisecond,
				QueueSize:        4,
			},
		})
	}()
	sub.Close()
	<-done

	// Whichever side won, no sampling listener may survive: either the
	// create was rejected, or Close unregistered the registered item.
	settled := reader.reads.Load()
	clk.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := reader.reads.Load(); got != settled {
		t.Fatalf("sampling continued after Close: %d reads became %d", settled, got)
	}
}

func TestPublishTimerDrivesCycle(t *testing.T) {
	clk := testclock.NewClock(time.Unix(1700000000, 0).UTC())
	space := addrspace.NewMemory(clk)
	sched := monitor.NewScheduler(clk)
	defer sched.Stop()

	sub := New(1, Config{
		PublishingInterval: 100 * time.Millisecond,
		PublishingEnabled:  true,
	}, space, sched, clk, nil)
	defer sub.Close()

	delivered := make(chan wire.PublishResponse, 4)
	broker := &chanBroker{responses: delivered}
	broker.queue(1)
	sub.attach(broker)

	if err := space.AddVariable(wire.NodeID{Namespace: 2, ID: "t"}, float64(1)); err != nil {
		t.Fatal(err)
	}
	result := sub.CreateItem(wire.TimestampsBoth, wire.MonitoredItemCreateRequest{
		ItemToMonitor:  wire.ReadValueID{NodeID: wire.NodeID{Namespace: 2, ID: "t"}, AttributeID: wire.AttributeValue},
		MonitoringMode: wire.MonitoringModeReporting,
		RequestedParameters: wire.MonitoringParameters{ClientHandle: 1},
	})
	if result.StatusCode != wire.Good {
		t.Fatal(result.StatusCode)
	}

	sub.Start()

	// Two waiters: the publish timer and the item's poll group.
	if err := clk.WaitAdvance(100*time.Millisecond, time.Second, 2); err != nil {
		t.Fatal(err)
	}
	select {
	case resp := <-delivered:
		if resp.NotificationMessage.IsKeepAlive() {
			t.Error("expected a data message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the publish cycle")
	}
}

// chanBroker delivers responses over a channel; safe for the timer
// goroutine.
type chanBroker struct {
	inner     fakeBroker
	responses chan wire.PublishResponse
}

func (b *chanBroker) popRequest(now time.Time) (*pendingRequest, bool) {
	return b.inner.popRequest(now)
}

func (b *chanBroker) deliver(resp wire.PublishResponse) {
	b.responses <- resp
}

func (b *chanBroker) sweep(time.Time) {}

func (b *chanBroker) queue(handle uint32) {
	b.inner.queue(handle)
}
