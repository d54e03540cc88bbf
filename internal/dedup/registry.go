// Package dedup implements the receiver-side duplicate suppression
// registry: a bounded FIFO of (senderID, |textID|) pairs used to decide
// whether a Text delivery has already been shown to the user.
package dedup

// entry is one remembered (sender, positive text id) pair.
type entry struct {
	senderID string
	textID   int64
}

// Registry is a bounded FIFO of recently-delivered (senderID, textID)
// pairs. The zero value is not usable; construct with NewRegistry.
type Registry struct {
	maxStoredRecords int
	records          []entry
}

// NewRegistry constructs a Registry that never stores more than
// maxStoredRecords entries.
func NewRegistry(maxStoredRecords int) *Registry {
	return &Registry{
		maxStoredRecords: maxStoredRecords,
		records:          make([]entry, 0, maxStoredRecords),
	}
}

// Observe records a text delivery and reports whether it should be
// delivered to the user.
//
// textIDOnWire > 0 means a first attempt: always delivered, and
// remembered under its own id. textIDOnWire <= 0 means a retry of
// |textIDOnWire|: delivered only if the original was never observed (or
// has since been evicted).
func (r *Registry) Observe(senderID string, textIDOnWire int64) bool {
	if textIDOnWire > 0 {
		r.add(senderID, textIDOnWire)
		return true
	}

	positiveID := -textIDOnWire
	if r.contains(senderID, positiveID) {
		return false
	}
	r.add(senderID, positiveID)
	return true
}

// contains searches newest-to-oldest: a duplicate is most likely to be
// found close to the tail.
func (r *Registry) contains(senderID string, textID int64) bool {
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].textID == textID && r.records[i].senderID == senderID {
			return true
		}
	}
	return false
}

func (r *Registry) add(senderID string, textID int64) {
	r.records = append(r.records, entry{senderID: senderID, textID: textID})
	if len(r.records) > r.maxStoredRecords {
		// Oldest first: drop the head, matching QList::removeFirst().
		r.records = append(r.records[:0], r.records[1:]...)
	}
}
