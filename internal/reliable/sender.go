// Package reliable implements the sender-side retry/ack state machine
// for a single outgoing text: broadcast up to N times, stop once every
// recipient known at send time has acked or attempts are exhausted.
package reliable

import (
	"time"
)

// Settings controls the retry ladder.
type Settings struct {
	MaxAttempts   int
	AttemptPeriod time.Duration
}

// Clock abstracts time so tests can drive attempts deterministically.
// AfterFunc must behave like time.AfterFunc: it calls f once, after d,
// in its own goroutine, and returns a Timer whose Stop cancels it.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer that Sender needs.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is the production Clock, backed by the time package.
var RealClock Clock = realClock{}

// Sender drives one outgoing text through its retry ladder. A Sender is
// single-use: construct one per Engine.SendText call, Start it once,
// and discard it once Finished has fired.
//
// All exported methods except Start, HandleAck, and Retry are safe to
// call from any goroutine. Start, HandleAck, and Retry mutate Sender
// state and are expected to be serialized by the caller (the engine's
// single event loop). The retry timer itself runs on its own goroutine
// (Clock.AfterFunc's contract, matching time.AfterFunc) and must never
// call Retry directly; it calls NeedRetry instead, which the owner is
// expected to turn into a Retry call back on its own loop the same way
// it already routes NeedToSend and Finished. This is what keeps a
// Sender's state touched by exactly one goroutine at a time, the same
// guarantee the original gets for free from Qt's same-thread
// QTimer::singleShot.
type Sender struct {
	settings    Settings
	clock       Clock
	ownSenderID string
	text        string

	pending map[string]struct{}
	attempt int
	sentID  int64
	timer   Timer
	done    bool

	// NeedToSend is invoked once per attempt with the wire text id
	// (positive on the first attempt, negated on retries).
	NeedToSend func(text string, wireTextID int64)
	// Finished is invoked exactly once, with the recipients that never
	// acked (empty on full success).
	Finished func(failed map[string]struct{})
	// NeedRetry is invoked from the retry timer's own goroutine when an
	// attempt period has elapsed. It must not touch Sender state; it
	// should only signal the owner's single loop, which then calls
	// Retry from there.
	NeedRetry func()
}

// New constructs a Sender for text, to be acked by every id in
// recipients (a snapshot of the contact list taken at send time).
func New(clock Clock, ownSenderID, text string, recipients map[string]struct{}, settings Settings) *Sender {
	if clock == nil {
		clock = RealClock
	}
	pending := make(map[string]struct{}, len(recipients))
	for id := range recipients {
		pending[id] = struct{}{}
	}
	return &Sender{
		settings:    settings,
		clock:       clock,
		ownSenderID: ownSenderID,
		text:        text,
		pending:     pending,
	}
}

// Start assigns the text id and begins (or, for an empty recipient set,
// immediately finishes) the send. Must be called exactly once, after
// NeedToSend and Finished are set.
func (s *Sender) Start() {
	s.sentID = s.clock.Now().UnixMilli()
	if s.sentID <= 0 {
		s.sentID = 1
	}

	if len(s.pending) == 0 {
		s.emitNeedToSend(s.sentID)
		s.finish()
		return
	}

	s.retry()
}

// Retry performs one step of the retry ladder: send (or give up) and
// reschedule. The owner calls it from its single loop in response to
// NeedRetry firing; Retry itself must never be called from the timer
// goroutine directly.
func (s *Sender) Retry() {
	s.retry()
}

func (s *Sender) retry() {
	if s.done || len(s.pending) == 0 {
		// Either already finished, or the last pending ack arrived
		// between scheduling this attempt and it firing: no-op.
		return
	}

	s.attempt++
	if s.attempt > s.settings.MaxAttempts {
		s.finish()
		return
	}

	wireID := s.sentID
	if s.attempt > 1 {
		wireID = -s.sentID
	}
	s.emitNeedToSend(wireID)

	s.timer = s.clock.AfterFunc(s.settings.AttemptPeriod, func() {
		if s.NeedRetry != nil {
			s.NeedRetry()
		}
	})
}

// HandleAck should be called for every inbound Ack. Acks that do not
// match this sender's own id, text id, or that arrive after Finished,
// are ignored.
func (s *Sender) HandleAck(textSenderID string, wireTextID int64, ackOriginPeerID string) {
	if s.done || textSenderID != s.ownSenderID {
		return
	}
	if abs64(wireTextID) != s.sentID {
		return
	}

	delete(s.pending, ackOriginPeerID)

	if len(s.pending) == 0 {
		s.finish()
	}
}

func (s *Sender) finish() {
	if s.done {
		return
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	failed := s.pending
	s.pending = nil
	if s.Finished != nil {
		s.Finished(failed)
	}
}

func (s *Sender) emitNeedToSend(wireTextID int64) {
	if s.NeedToSend != nil {
		s.NeedToSend(s.text, wireTextID)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
