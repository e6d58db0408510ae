package wire

// StatusCode is the result of a service call or the quality of a data value.
type StatusCode uint32

// Bit masks of the 32-bit status code layout.
const (
	// SeverityMask selects the severity bits.
	SeverityMask uint32 = 0xC0000000

	// SeverityGood indicates the operation succeeded.
	SeverityGood uint32 = 0x00000000

	// SeverityUncertain indicates the result may not be usable.
	SeverityUncertain uint32 = 0x40000000

	// SeverityBad indicates the operation failed.
	SeverityBad uint32 = 0x80000000

	// SubCodeMask selects the sub-code identifying the condition.
	SubCodeMask uint32 = 0x0FFF0000

	// InfoTypeMask selects the info-type bits.
	InfoTypeMask uint32 = 0x00000C00

	// InfoTypeDataValue marks the info bits as data-value flags.
	InfoTypeDataValue uint32 = 0x00000400

	// OverflowBit marks a notification whose queue dropped a sample.
	OverflowBit uint32 = 0x00000080
)

// Status codes used by the subscription service set.
const (
	// Good indicates the operation completed successfully.
	Good StatusCode = 0x00000000

	// BadTimeout indicates the operation was not serviced in time.
	BadTimeout StatusCode = 0x800A0000

	// BadNothingToDo indicates a request carried no work to perform.
	BadNothingToDo StatusCode = 0x800F0000

	// BadSubscriptionIDInvalid indicates the subscription id is unknown.
	BadSubscriptionIDInvalid StatusCode = 0x80280000

	// BadWaitingForInitialData indicates no sample has been taken yet.
	BadWaitingForInitialData StatusCode = 0x80320000

	// BadNodeIDUnknown indicates the node does not exist in the address space.
	BadNodeIDUnknown StatusCode = 0x80340000

	// BadAttributeIDInvalid indicates the attribute is not valid for the node.
	BadAttributeIDInvalid StatusCode = 0x80350000

	// BadMonitoredItemIDInvalid indicates the monitored item id is unknown.
	BadMonitoredItemIDInvalid StatusCode = 0x80420000

	// BadMonitoringModeInvalid indicates the monitoring mode is not valid.
	BadMonitoringModeInvalid StatusCode = 0x80430000

	// BadMonitoredItemFilterUnsupported indicates the server does not
	// support the requested filter.
	BadMonitoredItemFilterUnsupported StatusCode = 0x80440000

	// BadNoSubscription indicates a publish request arrived while the
	// session has no subscriptions.
	BadNoSubscription StatusCode = 0x80790000

	// BadSequenceNumberUnknown indicates an acknowledged sequence number
	// does not match any retained notification message.
	BadSequenceNumberUnknown StatusCode = 0x807A0000

	// BadDeadbandFilterInvalid indicates the deadband filter cannot be
	// applied, e.g. a percent deadband on a node without an EU range.
	BadDeadbandFilterInvalid StatusCode = 0x808E0000

	// BadTooManyMonitoredItems indicates the per-subscription item limit
	// was reached.
	BadTooManyMonitoredItems StatusCode = 0x80DB0000
)

// IsGood returns true if the severity is good.
func (c StatusCode) IsGood() bool {
	return uint32(c)&SeverityMask == SeverityGood
}

// IsBad returns true if the severity is bad.
func (c StatusCode) IsBad() bool {
	return uint32(c)&SeverityMask == SeverityBad
}

// IsUncertain returns true if the severity is uncertain.
func (c StatusCode) IsUncertain() bool {
	return uint32(c)&SeverityMask == SeverityUncertain
}

// IsOverflow returns true if the data-value overflow bit is set.
func (c StatusCode) IsOverflow() bool {
	return uint32(c)&InfoTypeMask == InfoTypeDataValue && uint32(c)&OverflowBit == OverflowBit
}

// WithOverflow returns the code with the data-value overflow bit set.
func (c StatusCode) WithOverflow() StatusCode {
	return StatusCode(uint32(c) | InfoTypeDataValue | OverflowBit)
}

// SameCondition reports whether two codes name the same condition,
// ignoring the info bits.
func (c StatusCode) SameCondition(other StatusCode) bool {
	const conditionMask = 0xFFFFF000
	return uint32(c)&conditionMask == uint32(other)&conditionMask
}

// String returns the status code name.
func (c StatusCode) String() string {
	switch StatusCode(uint32(c) &^ (InfoTypeMask | OverflowBit)) {
	case Good:
		return "Good"
	case BadTimeout:
		return "BadTimeout"
	case BadNothingToDo:
		return "BadNothingToDo"
	case BadSubscriptionIDInvalid:
		return "BadSubscriptionIDInvalid"
	case BadWaitingForInitialData:
		return "BadWaitingForInitialData"
	case BadNodeIDUnknown:
		return "BadNodeIDUnknown"
	case BadAttributeIDInvalid:
		return "BadAttributeIDInvalid"
	case BadMonitoredItemIDInvalid:
		return "BadMonitoredItemIDInvalid"
	case BadMonitoringModeInvalid:
		return "BadMonitoringModeInvalid"
	case BadMonitoredItemFilterUnsupported:
		return "BadMonitoredItemFilterUnsupported"
	case BadNoSubscription:
		return "BadNoSubscription"
	case BadSequenceNumberUnknown:
		return "BadSequenceNumberUnknown"
	case BadDeadbandFilterInvalid:
		return "BadDeadbandFilterInvalid"
	case BadTooManyMonitoredItems:
		return "BadTooManyMonitoredItems"
	default:
		if c.IsBad() {
			return "Bad"
		}
		if c.IsUncertain() {
			return "Uncertain"
		}
		return "Good"
	}
}
