package wire

// MonitoringMode controls whether a monitored item samples and reports.
type MonitoringMode uint8

const (
	// MonitoringModeDisabled suspends sampling entirely; no attribute
	// reads occur and the queue stays empty.
	MonitoringModeDisabled MonitoringMode = 0

	// MonitoringModeSampling samples and queues value changes but only
	// reports them when flushed by a triggering link.
	MonitoringModeSampling MonitoringMode = 1

	// MonitoringModeReporting samples, queues, and reports on the owning
	// subscription's publish cycle.
	MonitoringModeReporting MonitoringMode = 2
)

// IsValid returns true for a defined monitoring mode.
func (m MonitoringMode) IsValid() bool {
	return m <= MonitoringModeReporting
}

// String returns the monitoring mode name.
func (m MonitoringMode) String() string {
	switch m {
	case MonitoringModeDisabled:
		return "DISABLED"
	case MonitoringModeSampling:
		return "SAMPLING"
	case MonitoringModeReporting:
		return "REPORTING"
	default:
		return "UNKNOWN"
	}
}

// DataChangeTrigger selects which parts of a data value are compared when
// deciding whether a sample is a change.
type DataChangeTrigger uint8

const (
	// DataChangeTriggerStatus compares only the status code.
	DataChangeTriggerStatus DataChangeTrigger = 0

	// DataChangeTriggerStatusValue compares the status code and the value.
	DataChangeTriggerStatusValue DataChangeTrigger = 1

	// DataChangeTriggerStatusValueTimestamp additionally compares the
	// source timestamp.
	DataChangeTriggerStatusValueTimestamp DataChangeTrigger = 2
)

// String returns the trigger name.
func (t DataChangeTrigger) String() string {
	switch t {
	case DataChangeTriggerStatus:
		return "STATUS"
	case DataChangeTriggerStatusValue:
		return "STATUS_VALUE"
	case DataChangeTriggerStatusValueTimestamp:
		return "STATUS_VALUE_TIMESTAMP"
	default:
		return "UNKNOWN"
	}
}

// DeadbandType selects the deadband applied to value comparisons.
type DeadbandType uint8

const (
	// DeadbandNone reports every value difference.
	DeadbandNone DeadbandType = 0

	// DeadbandAbsolute suppresses changes within an absolute threshold.
	DeadbandAbsolute DeadbandType = 1

	// DeadbandPercent suppresses changes within a percentage of the
	// node's engineering-unit range.
	DeadbandPercent DeadbandType = 2
)

// String returns the deadband type name.
func (d DeadbandType) String() string {
	switch d {
	case DeadbandNone:
		return "NONE"
	case DeadbandAbsolute:
		return "ABSOLUTE"
	case DeadbandPercent:
		return "PERCENT"
	default:
		return "UNKNOWN"
	}
}

// TimestampsToReturn selects which timestamps a notification carries.
type TimestampsToReturn uint8

const (
	// TimestampsSource returns only the source timestamp.
	TimestampsSource TimestampsToReturn = 0

	// TimestampsServer returns only the server timestamp.
	TimestampsServer TimestampsToReturn = 1

	// TimestampsBoth returns both timestamps.
	TimestampsBoth TimestampsToReturn = 2

	// TimestampsNeither strips both timestamps.
	TimestampsNeither TimestampsToReturn = 3
)

// String returns the selection name.
func (t TimestampsToReturn) String() string {
	switch t {
	case TimestampsSource:
		return "SOURCE"
	case TimestampsServer:
		return "SERVER"
	case TimestampsBoth:
		return "BOTH"
	case TimestampsNeither:
		return "NEITHER"
	default:
		return "UNKNOWN"
	}
}
