package addrspace

import (
	"errors"
	"sync"

	"github.com/juju/clock"

	"github.com/itp-protocol/itp-go/pkg/wire"
)

// Address-space errors.
var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
)

// variable holds the state of one variable node.
type variable struct {
	value    wire.DataValue
	euLow    float64
	euHigh   float64
	hasRange bool
}

// Memory is an in-memory address space of variable nodes.
// It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	clk   clock.Clock
	nodes map[wire.NodeID]*variable
}

// NewMemory creates an empty in-memory address space. The clock stamps
// written values; pass clock.WallClock outside tests.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clk:   clk,
		nodes: make(map[wire.NodeID]*variable),
	}
}

// AddVariable adds a variable node with an initial value.
func (m *Memory) AddVariable(node wire.NodeID, initial any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[node]; exists {
		return ErrNodeExists
	}
	now := m.clk.Now()
	m.nodes[node] = &variable{
		value: wire.DataValue{
			Value:           initial,
			Status:          wire.Good,
			SourceTimestamp: now,
			ServerTimestamp: now,
		},
	}
	return nil
}

// SetEURange sets the engineering-unit range of a node, enabling percent
// deadband filters on it.
func (m *Memory) SetEURange(node wire.NodeID, low, high float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, exists := m.nodes[node]
	if !exists {
		return ErrNodeNotFound
	}
	v.euLow, v.euHigh = low, high
	v.hasRange = true
	return nil
}

// WriteValue updates a node's value with Good status and current timestamps.
func (m *Memory) WriteValue(node wire.NodeID, value any) error {
	now := m.clk.Now()
	return m.WriteDataValue(node, wire.DataValue{
		Value:           value,
		Status:          wire.Good,
		SourceTimestamp: now,
		ServerTimestamp: now,
	})
}

// WriteDataValue updates a node's value with full quality and timing control.
func (m *Memory) WriteDataValue(node wire.NodeID, value wire.DataValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, exists := m.nodes[node]
	if !exists {
		return ErrNodeNotFound
	}
	v.value = value
	return nil
}

// ReadAttribute reads one attribute of a node. A missing node yields a
// BadNodeIDUnknown value rather than an error; an attribute other than
// the value attribute yields BadAttributeIDInvalid.
func (m *Memory) ReadAttribute(rv wire.ReadValueID) wire.DataValue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.nodes[rv.NodeID]
	if !exists {
		return wire.DataValue{Status: wire.BadNodeIDUnknown, ServerTimestamp: m.clk.Now()}
	}
	if rv.AttributeID != wire.AttributeValue {
		return wire.DataValue{Status: wire.BadAttributeIDInvalid, ServerTimestamp: m.clk.Now()}
	}
	return v.value
}

// HasNode returns whether the node exists.
func (m *Memory) HasNode(node wire.NodeID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.nodes[node]
	return exists
}

// RemoveNode deletes a node. Monitored items watching it stay alive and
// observe BadNodeIDUnknown on their next sample.
func (m *Memory) RemoveNode(node wire.NodeID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.nodes[node]
	if exists {
		delete(m.nodes, node)
	}
	return exists
}

// EURange returns the engineering-unit range of a node, if configured.
func (m *Memory) EURange(node wire.NodeID) (low, high float64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, exists := m.nodes[node]
	if !exists || !v.hasRange {
		return 0, 0, false
	}
	return v.euLow, v.euHigh, true
}

// Len returns the number of nodes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}
