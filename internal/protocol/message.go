// Package protocol implements the wire codec for the LAN chat protocol:
// four message variants serialized as a single UTF-8, '|'-delimited
// string per UDP datagram.
//
//	user|<sender.nick>
//	leave|<sender.nick>
//	text|<sender.nick>|<text.id>|<text>
//	ack|<text.sender.id>|<text.id>
//
// Only the text body (the last field of a text message) may contain '|'
// or be empty; every other field must be present, non-empty and free of
// '|'.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const delimiter = "|"

// Message types understood by Decode.
const (
	TypeUser  = "user"
	TypeLeave = "leave"
	TypeText  = "text"
	TypeAck   = "ack"
)

// ParseError reports why a datagram could not be decoded into a Message.
type ParseError struct {
	Reason string
	Input  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: %s (input: %q)", e.Reason, e.Input)
}

func parseErr(input, format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Input: input}
}

// Message is implemented by User, Leave, Text and Ack. SenderID is
// out-of-band: it is never part of the wire encoding, and is attached by
// the transport at decode time (empty for locally constructed messages
// about to be sent).
type Message interface {
	// Type returns one of TypeUser, TypeLeave, TypeText, TypeAck.
	Type() string
	// Encode serializes the message to its wire form, not including SenderID.
	Encode() string
}

// User is a presence advertisement.
type User struct {
	SenderID   string
	SenderNick string
}

func (User) Type() string { return TypeUser }

func (m User) Encode() string {
	return TypeUser + delimiter + m.SenderNick
}

// Leave announces a graceful exit.
type Leave struct {
	SenderID   string
	SenderNick string
}

func (Leave) Type() string { return TypeLeave }

func (m Leave) Encode() string {
	return TypeLeave + delimiter + m.SenderNick
}

// Text carries a user-authored chat message.
type Text struct {
	SenderID   string
	SenderNick string
	TextID     int64
	Body       string
}

func (Text) Type() string { return TypeText }

func (m Text) Encode() string {
	return TypeText + delimiter + m.SenderNick + delimiter +
		strconv.FormatInt(m.TextID, 10) + delimiter + m.Body
}

// Ack acknowledges receipt of a Text.
type Ack struct {
	SenderID     string
	TextSenderID string
	TextID       int64
}

func (Ack) Type() string { return TypeAck }

func (m Ack) Encode() string {
	return TypeAck + delimiter + m.TextSenderID + delimiter +
		strconv.FormatInt(m.TextID, 10)
}

// Encode serializes any Message to its wire bytes.
func Encode(m Message) []byte {
	return []byte(m.Encode())
}

// Decode parses a raw datagram payload into a Message, attaching
// senderID (supplied out-of-band by the transport) to the result.
func Decode(raw []byte, senderID string) (Message, error) {
	s := string(raw)
	if s == "" {
		return nil, parseErr(s, "empty input")
	}

	rest := s
	msgType, ok := nextField(&rest)
	if !ok {
		return nil, parseErr(s, "input has no '|' field separator")
	}

	switch msgType {
	case TypeUser:
		nick, err := lastField(&rest, "sender.nick", s)
		if err != nil {
			return nil, err
		}
		return User{SenderID: senderID, SenderNick: nick}, nil

	case TypeLeave:
		nick, err := lastField(&rest, "sender.nick", s)
		if err != nil {
			return nil, err
		}
		return Leave{SenderID: senderID, SenderNick: nick}, nil

	case TypeText:
		nick, err := nextFieldChecked(&rest, "sender.nick", s)
		if err != nil {
			return nil, err
		}
		idField, err := nextFieldChecked(&rest, "text.id", s)
		if err != nil {
			return nil, err
		}
		textID, err := parseTextID(idField, s)
		if err != nil {
			return nil, err
		}
		// The body is the last field and may be empty, contain '|', or newlines.
		return Text{SenderID: senderID, SenderNick: nick, TextID: textID, Body: rest}, nil

	case TypeAck:
		textSenderID, err := nextFieldChecked(&rest, "text.sender.id", s)
		if err != nil {
			return nil, err
		}
		idField, err := lastField(&rest, "text.id", s)
		if err != nil {
			return nil, err
		}
		textID, err := parseTextID(idField, s)
		if err != nil {
			return nil, err
		}
		return Ack{SenderID: senderID, TextSenderID: textSenderID, TextID: textID}, nil

	default:
		return nil, parseErr(s, "unknown message type %q", msgType)
	}
}

// nextField splits off the field before the first '|', without
// requiring it be non-empty. Reports whether a '|' was found at all.
func nextField(rest *string) (string, bool) {
	pos := strings.IndexByte(*rest, '|')
	if pos == -1 {
		return "", false
	}
	field := (*rest)[:pos]
	*rest = (*rest)[pos+1:]
	return field, true
}

// nextFieldChecked parses a non-terminal field: it must exist (a '|'
// must follow it) and must not be empty.
func nextFieldChecked(rest *string, fieldName, input string) (string, error) {
	field, ok := nextField(rest)
	if !ok {
		return "", parseErr(input, "<%s> should not be the last field", fieldName)
	}
	if field == "" {
		return "", parseErr(input, "<%s> should not be empty", fieldName)
	}
	return field, nil
}

// lastField consumes the remainder as the terminal field: it must not
// contain '|' and must not be empty.
func lastField(rest *string, fieldName, input string) (string, error) {
	if strings.IndexByte(*rest, '|') != -1 {
		return "", parseErr(input, "unexpected trailing fields found after <%s>: %q", fieldName, *rest)
	}
	field := *rest
	*rest = ""
	if field == "" {
		return "", parseErr(input, "<%s> should not be empty", fieldName)
	}
	return field, nil
}

func parseTextID(field, input string) (int64, error) {
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, parseErr(input, "%q is not a valid text id, int64 expected", field)
	}
	return id, nil
}
