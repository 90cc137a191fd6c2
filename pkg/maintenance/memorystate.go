package maintenance

// MemoryState tracks how much memory the prioritizer still needs to free
// during one scheduling cycle, grounded verbatim on
// original_source/.../MaintenancePrioritizer.h's MemoryState triple.
type MemoryState struct {
	Limit   int64
	Balance int64
	Needed  int64
}

// DecrementNeeded records that amount bytes of memory were just freed by a
// scheduled task, clamping Needed at zero rather than going negative.
func (m *MemoryState) DecrementNeeded(amount int64) {
	if amount > m.Needed {
		m.Needed = 0
		return
	}
	m.Needed -= amount
}

// NeedMore reports whether the prioritizer should keep scheduling purges.
func (m *MemoryState) NeedMore() bool {
	return m.Needed > 0
}
