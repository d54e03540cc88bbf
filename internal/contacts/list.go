// Package contacts tracks the set of currently-live peers: last-seen
// timestamps refreshed by presence advertisements, aged out on silence.
package contacts

import "time"

// EventKind distinguishes the two events a List can emit.
type EventKind int

const (
	// Joined is emitted when a peer id is newly seen, or reappears
	// under a different nick.
	Joined EventKind = iota
	// Left is emitted when a peer explicitly leaves, is replaced by a
	// rename, or expires from silence.
	Left
)

// Event describes a contact-list change, forwarded verbatim by the
// engine to the presentation layer.
type Event struct {
	Kind   EventKind
	PeerID string
	Nick   string
}

type contact struct {
	nick     string
	lastSeen time.Time
}

// List is the mapping of peerID -> {nick, lastSeen}. The zero value is
// not usable; construct with NewList.
type List struct {
	expiryPeriod time.Duration
	now          func() time.Time
	contacts     map[string]contact
}

// NewList constructs a List that expires entries silent for longer than
// expiryPeriod.
func NewList(expiryPeriod time.Duration) *List {
	return &List{
		expiryPeriod: expiryPeriod,
		now:          time.Now,
		contacts:     make(map[string]contact),
	}
}

// Confirm should be called on every inbound User (or Text) message. It
// creates the entry if absent, emits Joined; on the same nick it only
// refreshes lastSeen; on a different nick it emits Left for the old nick
// followed by Joined for the new one, then refreshes lastSeen.
func (l *List) Confirm(peerID, nick string) []Event {
	var events []Event

	existing, ok := l.contacts[peerID]
	switch {
	case !ok:
		events = append(events, Event{Kind: Joined, PeerID: peerID, Nick: nick})
	case existing.nick != nick:
		events = append(events,
			Event{Kind: Left, PeerID: peerID, Nick: existing.nick},
			Event{Kind: Joined, PeerID: peerID, Nick: nick},
		)
	}

	l.contacts[peerID] = contact{nick: nick, lastSeen: l.now()}
	return events
}

// Remove should be called on inbound Leave. It removes the entry if
// present and unconditionally emits Left carrying the nick supplied by
// the caller (not necessarily the stored one).
func (l *List) Remove(peerID, nick string) []Event {
	delete(l.contacts, peerID)
	return []Event{{Kind: Left, PeerID: peerID, Nick: nick}}
}

// ExpireNow sweeps entries whose lastSeen predates the expiry period,
// removing them and emitting Left for each using the stored nick.
func (l *List) ExpireNow() []Event {
	var events []Event
	now := l.now()
	for peerID, c := range l.contacts {
		if now.Sub(c.lastSeen) >= l.expiryPeriod {
			events = append(events, Event{Kind: Left, PeerID: peerID, Nick: c.nick})
			delete(l.contacts, peerID)
		}
	}
	return events
}

// SnapshotPeerIDs returns the current set of known peer ids.
func (l *List) SnapshotPeerIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(l.contacts))
	for peerID := range l.contacts {
		ids[peerID] = struct{}{}
	}
	return ids
}
