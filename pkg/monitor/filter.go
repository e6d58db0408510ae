package monitor

import (
	"math"
	"reflect"

	"github.com/itp-protocol/itp-go/pkg/wire"
)

// filterState is the compiled form of a DataChangeFilter. A nil
// filterState accepts every sample.
type filterState struct {
	trigger    wire.DataChangeTrigger
	deadband   wire.DeadbandType
	value      float64
	rangeWidth float64
}

// newFilterState validates a filter against the watched node. Percent
// deadbands need an engineering-unit range; without one the filter is
// rejected with BadDeadbandFilterInvalid.
func newFilterState(f *wire.DataChangeFilter, reader AttributeReader, node wire.NodeID) (*filterState, wire.StatusCode) {
	fs := &filterState{
		trigger:  f.Trigger,
		deadband: f.DeadbandType,
		value:    f.DeadbandValue,
	}
	switch f.DeadbandType {
	case wire.DeadbandNone:
	case wire.DeadbandAbsolute:
		if f.DeadbandValue < 0 {
			return nil, wire.BadDeadbandFilterInvalid
		}
	case wire.DeadbandPercent:
		if f.DeadbandValue < 0 || f.DeadbandValue > 100 {
			return nil, wire.BadDeadbandFilterInvalid
		}
		rr, ok := reader.(RangeReader)
		if !ok {
			return nil, wire.BadDeadbandFilterInvalid
		}
		low, high, ok := rr.EURange(node)
		if !ok || high <= low {
			return nil, wire.BadDeadbandFilterInvalid
		}
		fs.rangeWidth = high - low
	default:
		return nil, wire.BadMonitoredItemFilterUnsupported
	}
	return fs, wire.Good
}

// isChange reports whether current qualifies as a data change against
// the previous queued value.
func (f *filterState) isChange(current, previous wire.DataValue) bool {
	if f == nil {
		return true
	}

	if !current.Status.SameCondition(previous.Status) {
		return true
	}
	switch f.trigger {
	case wire.DataChangeTriggerStatus:
		return false
	case wire.DataChangeTriggerStatusValueTimestamp:
		if !current.SourceTimestamp.Equal(previous.SourceTimestamp) {
			return true
		}
	}
	return f.valueChanged(current.Value, previous.Value)
}

func (f *filterState) valueChanged(current, previous any) bool {
	switch f.deadband {
	case wire.DeadbandAbsolute:
		if diff, ok := numericDiff(current, previous); ok {
			return diff > f.value
		}
	case wire.DeadbandPercent:
		if diff, ok := numericDiff(current, previous); ok {
			return diff > f.value/100*f.rangeWidth
		}
	}
	// Deadband none, or values a deadband cannot apply to.
	return !reflect.DeepEqual(current, previous)
}

// numericDiff returns |current - previous| for numeric scalars.
func numericDiff(current, previous any) (float64, bool) {
	a, ok := toFloat(current)
	if !ok {
		return 0, false
	}
	b, ok := toFloat(previous)
	if !ok {
		return 0, false
	}
	return math.Abs(a - b), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
