package contacts

import (
	"testing"
	"time"
)

func TestConfirmJoinRenameLeave(t *testing.T) {
	l := NewList(time.Second)

	events := l.Confirm("10.0.0.5", "a")
	wantEvents(t, events, Event{Kind: Joined, PeerID: "10.0.0.5", Nick: "a"})

	events = l.Confirm("10.0.0.5", "b")
	wantEvents(t, events,
		Event{Kind: Left, PeerID: "10.0.0.5", Nick: "a"},
		Event{Kind: Joined, PeerID: "10.0.0.5", Nick: "b"},
	)

	events = l.Remove("10.0.0.5", "b")
	wantEvents(t, events, Event{Kind: Left, PeerID: "10.0.0.5", Nick: "b"})
}

func TestConfirmSameNickOnlyRefreshes(t *testing.T) {
	l := NewList(time.Second)

	l.Confirm("10.0.0.5", "a")
	events := l.Confirm("10.0.0.5", "a")
	if len(events) != 0 {
		t.Fatalf("re-confirming the same nick should emit no events, got %v", events)
	}
}

func TestRemoveUsesSuppliedNick(t *testing.T) {
	l := NewList(time.Second)
	l.Confirm("10.0.0.5", "stored-nick")

	events := l.Remove("10.0.0.5", "message-nick")
	wantEvents(t, events, Event{Kind: Left, PeerID: "10.0.0.5", Nick: "message-nick"})
}

func TestRemoveAbsentPeerStillEmitsLeft(t *testing.T) {
	l := NewList(time.Second)
	events := l.Remove("10.0.0.9", "ghost")
	wantEvents(t, events, Event{Kind: Left, PeerID: "10.0.0.9", Nick: "ghost"})
}

func TestExpireNow(t *testing.T) {
	l := NewList(10 * time.Millisecond)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	l.Confirm("10.0.0.5", "a")

	if events := l.ExpireNow(); len(events) != 0 {
		t.Fatalf("fresh entry should not expire, got %v", events)
	}

	clock = clock.Add(11 * time.Millisecond)
	events := l.ExpireNow()
	wantEvents(t, events, Event{Kind: Left, PeerID: "10.0.0.5", Nick: "a"})

	if len(l.SnapshotPeerIDs()) != 0 {
		t.Fatal("expired peer should be removed from snapshot")
	}
}

func TestSnapshotPeerIDs(t *testing.T) {
	l := NewList(time.Second)
	l.Confirm("10.0.0.1", "a")
	l.Confirm("10.0.0.2", "b")

	snap := l.SnapshotPeerIDs()
	if len(snap) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(snap))
	}
	if _, ok := snap["10.0.0.1"]; !ok {
		t.Fatal("missing 10.0.0.1")
	}
}

func wantEvents(t *testing.T, got []Event, want ...Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
