// Package engine implements the chat protocol orchestrator: it
// advertises presence on a timer, dispatches inbound messages by
// variant, acks received texts, drives the reliable sender, and
// surfaces events to a presentation layer. Everything mutating engine
// state runs on one goroutine (the loop started by Run), so callers
// never need their own locking around it.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/lanchat/internal/contacts"
	"github.com/samcharles93/lanchat/internal/dedup"
	"github.com/samcharles93/lanchat/internal/protocol"
	"github.com/samcharles93/lanchat/internal/reliable"
	"github.com/samcharles93/lanchat/internal/transport"
)

const (
	maxNickUTF8Bytes = 64
	maxTextUTF8Bytes = 255
)

// Transport is the I/O surface the engine drives; transport.Transport
// satisfies it. Defined as an interface here so tests can substitute an
// in-memory fake without opening a real socket.
type Transport interface {
	OwnID() string
	Send(payload []byte) error
	Receive() (transport.Delivery, error)
	// Close unblocks a Receive call in progress; Run calls it once ctx
	// is cancelled so the feeder goroutine can exit.
	Close() error
}

// Settings controls timers and bounds. See DefaultSettings for the
// values a production deployment should use.
type Settings struct {
	TextMaxAttempts      int
	TextAttemptPeriod    time.Duration
	TextMaxStoredRecords int
	AdvertisingPeriod    time.Duration
	ContactExpiryPeriod  time.Duration
}

// DefaultSettings is the tuning a production deployment should start
// from.
var DefaultSettings = Settings{
	TextMaxAttempts:      3,
	TextAttemptPeriod:    time.Second,
	TextMaxStoredRecords: 10,
	AdvertisingPeriod:    5 * time.Second,
	ContactExpiryPeriod:  11 * time.Second,
}

// senderEventKind distinguishes the callbacks a reliable.Sender can
// invoke. All three are routed back onto the engine's own goroutine so
// that Sender's state (attempt count, pending recipients, timer) is
// only ever touched from the event loop: senderRetryDue in particular
// carries no payload but the sender it originated from, so a retry
// timer firing after its Sender has already finished can be told apart
// from one still in flight and safely dropped.
type senderEventKind int

const (
	senderNeedToSend senderEventKind = iota
	senderFinished
	senderRetryDue
)

type senderEvent struct {
	kind       senderEventKind
	text       string
	wireTextID int64
	failed     map[string]struct{}
	sender     *reliable.Sender
}

type commandKind int

const (
	cmdSendText commandKind = iota
	cmdLeaveChat
)

type command struct {
	kind   commandKind
	text   string
	result chan error
}

// Engine is the protocol orchestrator: presence advertising, message
// dispatch, and the reliable sender all live behind it. Construct with
// New, then run it with Run.
type Engine struct {
	settings Settings
	ownNick  string
	tport    Transport

	contactList *contacts.List
	receiver    *dedup.Registry

	sender     *reliable.Sender
	clock      reliable.Clock

	commands     chan command
	senderEvents chan senderEvent
	events       chan Event
	stopped      chan struct{}

	logf func(format string, args ...any)
}

// New validates ownNick and constructs an Engine. It does not start any
// goroutines; call Run for that.
func New(tport Transport, ownNick string, settings Settings) (*Engine, error) {
	if err := validateNick(ownNick); err != nil {
		return nil, err
	}

	return &Engine{
		settings:     settings,
		ownNick:      ownNick,
		tport:        tport,
		contactList:  contacts.NewList(settings.ContactExpiryPeriod),
		receiver:     dedup.NewRegistry(settings.TextMaxStoredRecords),
		clock:        reliable.RealClock,
		commands:     make(chan command),
		senderEvents: make(chan senderEvent, 8),
		events:       make(chan Event, 256),
		stopped:      make(chan struct{}),
		logf:         log.Printf,
	}, nil
}

// OwnNick returns the validated nick this Engine was constructed with.
func (e *Engine) OwnNick() string { return e.ownNick }

// Events returns the channel the presentation layer should range over.
// It is closed when Run returns.
func (e *Engine) Events() <-chan Event { return e.events }

// Run sends the first presence advertisement, then processes the
// single event loop (socket deliveries, the advertising timer, sender
// retry callbacks, and SendText/LeaveChat commands) until ctx is
// cancelled or a fatal transport read error occurs. It closes the
// Events channel before returning.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.events)
	defer close(e.stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan transport.Delivery, 32)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.receiveLoop(gctx, inbound) })
	g.Go(func() error { return e.eventLoop(gctx, inbound) })
	g.Go(func() error {
		// Transport.Receive blocks on the socket regardless of ctx; close
		// the transport on cancellation so receiveLoop's read unblocks.
		<-gctx.Done()
		e.tport.Close()
		return context.Canceled
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// receiveLoop is a feeder goroutine: it only reads the transport and
// forwards deliveries, never touching engine state.
func (e *Engine) receiveLoop(ctx context.Context, inbound chan<- transport.Delivery) error {
	for {
		delivery, err := e.tport.Receive()
		if err != nil {
			select {
			case <-ctx.Done():
				return context.Canceled
			default:
				return fmt.Errorf("engine: transport receive failed: %w", err)
			}
		}
		select {
		case inbound <- delivery:
		case <-ctx.Done():
			return context.Canceled
		}
	}
}

func (e *Engine) eventLoop(ctx context.Context, inbound <-chan transport.Delivery) error {
	e.sendAdvertising()

	ticker := time.NewTicker(e.settings.AdvertisingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled

		case delivery := <-inbound:
			e.handleDelivery(delivery)

		case <-ticker.C:
			e.sendAdvertising()

		case se := <-e.senderEvents:
			e.handleSenderEvent(se)

		case cmd := <-e.commands:
			e.handleCommand(cmd)
		}
	}
}

// SendText validates text and, if no send is in flight, starts a
// reliable send to a snapshot of the current contact list. It blocks
// until the request has been accepted or rejected, but returns before
// the send finishes; completion is reported via a TextSent event.
func (e *Engine) SendText(text string) error {
	if len(text) > maxTextUTF8Bytes {
		return &BadValueError{Reason: fmt.Sprintf("text is %d UTF-8 bytes, exceeds %d", len(text), maxTextUTF8Bytes)}
	}

	result := make(chan error, 1)
	select {
	case e.commands <- command{kind: cmdSendText, text: text, result: result}:
	case <-e.stopped:
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-e.stopped:
		return ErrStopped
	}
}

// LeaveChat sends one Leave advertisement, best-effort: network errors
// are suppressed, the same as advertising and ack sends. It is a no-op
// once the event loop has stopped.
func (e *Engine) LeaveChat() {
	result := make(chan error, 1)
	select {
	case e.commands <- command{kind: cmdLeaveChat, result: result}:
	case <-e.stopped:
		return
	}
	select {
	case <-result:
	case <-e.stopped:
	}
}

func (e *Engine) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdSendText:
		if e.sender != nil {
			cmd.result <- ErrInvalidCall
			return
		}
		e.startSend(cmd.text)
		cmd.result <- nil

	case cmdLeaveChat:
		e.sendMessageIgnoringError(protocol.Leave{SenderNick: e.ownNick})
		cmd.result <- nil
	}
}

func (e *Engine) startSend(text string) {
	recipients := e.contactList.SnapshotPeerIDs()

	s := reliable.New(e.clock, e.tport.OwnID(), text, recipients, reliable.Settings{
		MaxAttempts:   e.settings.TextMaxAttempts,
		AttemptPeriod: e.settings.TextAttemptPeriod,
	})
	s.NeedToSend = func(text string, wireTextID int64) {
		e.senderEvents <- senderEvent{kind: senderNeedToSend, text: text, wireTextID: wireTextID}
	}
	s.Finished = func(failed map[string]struct{}) {
		e.senderEvents <- senderEvent{kind: senderFinished, failed: failed}
	}
	s.NeedRetry = func() {
		e.senderEvents <- senderEvent{kind: senderRetryDue, sender: s}
	}
	e.sender = s
	s.Start()
}

func (e *Engine) handleSenderEvent(se senderEvent) {
	switch se.kind {
	case senderNeedToSend:
		e.sendMessageReportingError(protocol.Text{
			SenderNick: e.ownNick,
			TextID:     se.wireTextID,
			Body:       se.text,
		})

	case senderFinished:
		e.sender = nil
		failed := make([]string, 0, len(se.failed))
		for id := range se.failed {
			failed = append(failed, id)
		}
		e.emit(Event{Kind: TextSent, FailedPeerIDs: failed})

	case senderRetryDue:
		// The timer that produced this event may have fired concurrently
		// with the sender finishing through an ack; only act on it if
		// it's still the sender currently in flight.
		if se.sender == e.sender {
			e.sender.Retry()
		}
	}
}

func (e *Engine) sendAdvertising() {
	e.sendMessageIgnoringError(protocol.User{SenderNick: e.ownNick})
	e.forwardContactEvents(e.contactList.ExpireNow())
}

func (e *Engine) handleDelivery(delivery transport.Delivery) {
	msg, err := protocol.Decode(delivery.Payload, delivery.SenderID)
	if err != nil {
		e.logf("engine: dropping unparsable datagram from %s: %v", delivery.SenderID, err)
		return
	}

	switch m := msg.(type) {
	case protocol.User:
		e.forwardContactEvents(e.contactList.Confirm(m.SenderID, m.SenderNick))

	case protocol.Leave:
		e.forwardContactEvents(e.contactList.Remove(m.SenderID, m.SenderNick))

	case protocol.Text:
		e.sendMessageIgnoringError(protocol.Ack{TextSenderID: m.SenderID, TextID: m.TextID})
		if e.receiver.Observe(m.SenderID, m.TextID) {
			e.emit(Event{Kind: TextReceived, Text: m.Body, SenderNick: m.SenderNick})
		}

	case protocol.Ack:
		if e.sender != nil {
			e.sender.HandleAck(m.TextSenderID, m.TextID, m.SenderID)
		}
	}
}

func (e *Engine) forwardContactEvents(events []contacts.Event) {
	for _, ev := range events {
		kind := UserJoined
		if ev.Kind == contacts.Left {
			kind = UserLeft
		}
		e.emit(Event{Kind: kind, PeerID: ev.PeerID, Nick: ev.Nick})
	}
}

func (e *Engine) sendMessageIgnoringError(m protocol.Message) {
	if err := e.tport.Send(protocol.Encode(m)); err != nil {
		e.logf("engine: suppressed send error for %s: %v", m.Type(), err)
	}
}

func (e *Engine) sendMessageReportingError(m protocol.Message) {
	if err := e.tport.Send(protocol.Encode(m)); err != nil {
		e.emit(Event{Kind: NetworkError, Message: err.Error()})
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logf("engine: event channel full, dropping %v", ev.Kind)
	}
}

func validateNick(nick string) error {
	if nick == "" {
		return &BadValueError{Reason: "nick should not be empty"}
	}
	for _, r := range nick {
		if r == '|' {
			return &BadValueError{Reason: "nick should not contain '|'"}
		}
	}
	if len(nick) > maxNickUTF8Bytes {
		return &BadValueError{Reason: fmt.Sprintf("nick is %d UTF-8 bytes, exceeds %d", len(nick), maxNickUTF8Bytes)}
	}
	return nil
}
