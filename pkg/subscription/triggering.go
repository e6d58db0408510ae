package subscription

// triggerLink is one directed edge from a triggering item to the item
// it forces to report. The baseline records the trigger's enqueue
// counter at link creation; the link stays dormant until the counter
// passes it.
type triggerLink struct {
	linkedID uint32
	baseline uint64
}

// TriggeringTable maps a triggering monitored-item id to the items its
// firing forces to report. Links keep insertion order per trigger.
// The table is not safe for concurrent use; the owning subscription
// serializes access.
type TriggeringTable struct {
	links map[uint32][]triggerLink
}

// NewTriggeringTable returns an empty table.
func NewTriggeringTable() *TriggeringTable {
	return &TriggeringTable{links: make(map[uint32][]triggerLink)}
}

// Add links linkedID to triggerID, armed at the given enqueue baseline.
// Adding an existing link keeps the original baseline and position.
func (t *TriggeringTable) Add(triggerID, linkedID uint32, baseline uint64) {
	for _, l := range t.links[triggerID] {
		if l.linkedID == linkedID {
			return
		}
	}
	t.links[triggerID] = append(t.links[triggerID], triggerLink{
		linkedID: linkedID,
		baseline: baseline,
	})
}

// Remove deletes the link from triggerID to linkedID and reports
// whether it existed.
func (t *TriggeringTable) Remove(triggerID, linkedID uint32) bool {
	links := t.links[triggerID]
	for i, l := range links {
		if l.linkedID == linkedID {
			t.links[triggerID] = append(links[:i], links[i+1:]...)
			if len(t.links[triggerID]) == 0 {
				delete(t.links, triggerID)
			}
			return true
		}
	}
	return false
}

// RemoveItem drops every link in which the item takes part, as trigger
// or as linked target.
func (t *TriggeringTable) RemoveItem(itemID uint32) {
	delete(t.links, itemID)
	for triggerID, links := range t.links {
		kept := links[:0]
		for _, l := range links {
			if l.linkedID != itemID {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(t.links, triggerID)
			continue
		}
		t.links[triggerID] = kept
	}
}

// LinksFrom returns the armed state of every link of the trigger, in
// insertion order. The slice aliases the table; callers must not keep
// it across mutations.
func (t *TriggeringTable) LinksFrom(triggerID uint32) []triggerLink {
	return t.links[triggerID]
}

// HasTrigger reports whether triggerID has at least one outgoing link.
func (t *TriggeringTable) HasTrigger(triggerID uint32) bool {
	return len(t.links[triggerID]) > 0
}

// Len returns the total number of links.
func (t *TriggeringTable) Len() int {
	n := 0
	for _, links := range t.links {
		n += len(links)
	}
	return n
}
