package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samcharles93/lanchat/internal/protocol"
	"github.com/samcharles93/lanchat/internal/transport"
)

// fakeTransport is an in-memory transport.Transport substitute: Send
// copies the payload into every linked peer's inbox, Receive blocks on
// its own inbox (or a close signal). No sockets, no real time.
type fakeTransport struct {
	id    string
	peers []*fakeTransport

	inbox     chan transport.Delivery
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{
		id:     id,
		inbox:  make(chan transport.Delivery, 64),
		closed: make(chan struct{}),
	}
}

// linkAll wires every transport to broadcast to every other one, the
// way a shared multicast group would.
func linkAll(ts ...*fakeTransport) {
	for _, a := range ts {
		a.peers = nil
		for _, b := range ts {
			if a != b {
				a.peers = append(a.peers, b)
			}
		}
	}
}

func (f *fakeTransport) OwnID() string { return f.id }

func (f *fakeTransport) Send(payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	for _, p := range f.peers {
		select {
		case p.inbox <- transport.Delivery{Payload: cp, SenderID: f.id}:
		case <-p.closed:
		}
	}
	return nil
}

func (f *fakeTransport) Receive() (transport.Delivery, error) {
	select {
	case d := <-f.inbox:
		return d, nil
	case <-f.closed:
		return transport.Delivery{}, errors.New("fake: transport closed")
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func runEngine(t *testing.T, e *Engine) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := e.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("engine did not stop after cancel")
		}
	}
}

func waitForEvent(t *testing.T, events <-chan Event, want EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events channel closed while waiting for %v", want)
			}
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", want)
		}
	}
}

func TestNewRejectsInvalidNick(t *testing.T) {
	tr := newFakeTransport("a")
	cases := []string{"", strings.Repeat("x", 65), "has|pipe"}
	for _, nick := range cases {
		if _, err := New(tr, nick, DefaultSettings); err == nil {
			t.Errorf("New(%q): expected error", nick)
		}
	}
	if _, err := New(tr, strings.Repeat("x", 64), DefaultSettings); err != nil {
		t.Errorf("New with 64-byte nick: unexpected error: %v", err)
	}
}

func TestSendTextRejectsOverlongText(t *testing.T) {
	tr := newFakeTransport("a")
	e, err := New(tr, "alice", DefaultSettings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runEngine(t, e)
	defer stop()

	err = e.SendText(strings.Repeat("x", 256))
	var bv *BadValueError
	if !errors.As(err, &bv) {
		t.Fatalf("SendText(256 bytes) = %v, want *BadValueError", err)
	}
}

func TestSendTextRejectsConcurrentSend(t *testing.T) {
	a := newFakeTransport("a")
	b := newFakeTransport("b")
	linkAll(a, b)

	settings := DefaultSettings
	settings.ContactExpiryPeriod = time.Minute
	settings.AdvertisingPeriod = time.Minute

	e, err := New(a, "alice", settings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runEngine(t, e)
	defer stop()

	// Deliver a User advertisement from "b" so alice has a recipient
	// and the sender stays in flight instead of finishing immediately.
	a.inbox <- transport.Delivery{Payload: protocol.Encode(protocol.User{SenderNick: "bob"}), SenderID: "b"}
	waitForEvent(t, e.Events(), UserJoined, time.Second)

	if err := e.SendText("first"); err != nil {
		t.Fatalf("first SendText: %v", err)
	}
	if err := e.SendText("second"); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("second SendText = %v, want ErrInvalidCall", err)
	}
}

// TestAdvertiseJoinTextAckDedup wires two real Engines to an in-memory
// network and exercises the full path: presence advertisement builds
// each side's contact list, a sent text is acked and delivered exactly
// once, and a duplicate retransmission of the same text id is
// suppressed by the receiver's dedup registry.
func TestAdvertiseJoinTextAckDedup(t *testing.T) {
	ta := newFakeTransport("10.0.0.1")
	tb := newFakeTransport("10.0.0.2")
	linkAll(ta, tb)

	settings := DefaultSettings
	settings.AdvertisingPeriod = 20 * time.Millisecond
	settings.ContactExpiryPeriod = time.Minute
	settings.TextAttemptPeriod = 50 * time.Millisecond

	alice, err := New(ta, "alice", settings)
	if err != nil {
		t.Fatalf("New(alice): %v", err)
	}
	bob, err := New(tb, "bob", settings)
	if err != nil {
		t.Fatalf("New(bob): %v", err)
	}

	stopA := runEngine(t, alice)
	defer stopA()
	stopB := runEngine(t, bob)
	defer stopB()

	// The advertising ticker (fired immediately by Run, then every
	// AdvertisingPeriod) lets each side discover the other.
	aJoined := waitForEvent(t, alice.Events(), UserJoined, time.Second)
	if aJoined.Nick != "bob" {
		t.Fatalf("alice's contact nick = %q, want bob", aJoined.Nick)
	}
	bJoined := waitForEvent(t, bob.Events(), UserJoined, time.Second)
	if bJoined.Nick != "alice" {
		t.Fatalf("bob's contact nick = %q, want alice", bJoined.Nick)
	}

	if err := alice.SendText("hello bob"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	received := waitForEvent(t, bob.Events(), TextReceived, time.Second)
	if received.Text != "hello bob" || received.SenderNick != "alice" {
		t.Fatalf("unexpected TextReceived event: %+v", received)
	}

	sent := waitForEvent(t, alice.Events(), TextSent, time.Second)
	if len(sent.FailedPeerIDs) != 0 {
		t.Fatalf("TextSent.FailedPeerIDs = %v, want none", sent.FailedPeerIDs)
	}

	// A fresh text id must be delivered, but a retransmission of that
	// same id (wire-negated, matching the original's retry convention)
	// must not be redelivered.
	tb.inbox <- transport.Delivery{
		Payload:  protocol.Encode(protocol.Text{SenderNick: "alice", TextID: 999, Body: "again"}),
		SenderID: "10.0.0.1",
	}
	waitForEvent(t, bob.Events(), TextReceived, time.Second)

	tb.inbox <- transport.Delivery{
		Payload:  protocol.Encode(protocol.Text{SenderNick: "alice", TextID: -999, Body: "again"}),
		SenderID: "10.0.0.1",
	}
	select {
	case ev := <-bob.Events():
		if ev.Kind == TextReceived {
			t.Fatalf("duplicate text id must not be redelivered, got %+v", ev)
		}
	case <-time.After(150 * time.Millisecond):
		// no further TextReceived arrived, as expected
	}
}

// TestRetryThenGiveUp drives a send/partial-ack/exhaust-retries timeline
// through the real Engine.SendText API rather than reliable.Sender
// directly.
func TestRetryThenGiveUp(t *testing.T) {
	alice := newFakeTransport("alice-addr")
	bob := newFakeTransport("bob-addr")
	carol := newFakeTransport("carol-addr")
	linkAll(alice, bob, carol)

	settings := DefaultSettings
	settings.AdvertisingPeriod = 20 * time.Millisecond
	settings.ContactExpiryPeriod = time.Minute
	settings.TextMaxAttempts = 2
	settings.TextAttemptPeriod = 30 * time.Millisecond

	eAlice, err := New(alice, "alice", settings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eBob, err := New(bob, "bob", settings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stopA := runEngine(t, eAlice)
	defer stopA()
	stopB := runEngine(t, eBob)
	defer stopB()
	// carol never runs an Engine: her transport only sits in the group
	// as an unresponsive recipient that will never ack. She still needs
	// to have advertised once so alice's contact list includes her.
	go func() {
		for {
			if _, err := carol.Receive(); err != nil {
				return
			}
		}
	}()
	alice.inbox <- transport.Delivery{
		Payload:  protocol.Encode(protocol.User{SenderNick: "carol"}),
		SenderID: "carol-addr",
	}

	seen := map[string]bool{}
	for len(seen) < 2 {
		ev := waitForEvent(t, eAlice.Events(), UserJoined, time.Second)
		seen[ev.Nick] = true
	}
	if !seen["bob"] || !seen["carol"] {
		t.Fatalf("alice's joins = %v, want bob and carol", seen)
	}

	if err := eAlice.SendText("ping"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	waitForEvent(t, eBob.Events(), TextReceived, time.Second)

	sent := waitForEvent(t, eAlice.Events(), TextSent, 2*time.Second)
	if len(sent.FailedPeerIDs) != 1 || sent.FailedPeerIDs[0] != "carol-addr" {
		t.Fatalf("TextSent.FailedPeerIDs = %v, want [carol-addr]", sent.FailedPeerIDs)
	}
}

func TestLeaveChatSendsLeaveMessage(t *testing.T) {
	a := newFakeTransport("a")
	b := newFakeTransport("b")
	linkAll(a, b)

	e, err := New(a, "alice", DefaultSettings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runEngine(t, e)
	defer stop()

	// Run's first act is a User advertisement; drain it before looking
	// for the Leave message LeaveChat sends next.
	d, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive (advertisement): %v", err)
	}
	if _, err := protocol.Decode(d.Payload, d.SenderID); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	e.LeaveChat()

	d, err = b.Receive()
	if err != nil {
		t.Fatalf("Receive (leave): %v", err)
	}
	msg, err := protocol.Decode(d.Payload, d.SenderID)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := msg.(protocol.Leave); !ok {
		t.Fatalf("message after LeaveChat = %T, want protocol.Leave", msg)
	}
}
