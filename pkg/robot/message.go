// Copyright 2024-2026 Aiku AI

package robot

// Message is a canonical inbound event handed to listeners.
type Message interface {
	MessageID() string
	MessageUser() *User
	MessageRoom() string
}

// TextMessage is a chat message with a text body.
//
// Text is what listeners match against. RawText is the original body
// before the direct-message prefix was applied. TrimmedText has any leading
// mention of the robot removed.
type TextMessage struct {
	ID          string
	User        *User
	Room        string
	Text        string
	TrimmedText string
	RawText     string
}

func (m *TextMessage) MessageID() string   { return m.ID }
func (m *TextMessage) MessageUser() *User  { return m.User }
func (m *TextMessage) MessageRoom() string { return m.Room }

// AttachmentMessage is a text message that also carries uploaded files.
type AttachmentMessage struct {
	TextMessage
	FileIDs []string
}

// EnterMessage signals that a user joined a room.
type EnterMessage struct {
	ID   string
	User *User
	Room string
}

func (m *EnterMessage) MessageID() string   { return m.ID }
func (m *EnterMessage) MessageUser() *User  { return m.User }
func (m *EnterMessage) MessageRoom() string { return m.Room }

// LeaveMessage signals that a user left a room.
type LeaveMessage struct {
	ID   string
	User *User
	Room string
}

func (m *LeaveMessage) MessageID() string   { return m.ID }
func (m *LeaveMessage) MessageUser() *User  { return m.User }
func (m *LeaveMessage) MessageRoom() string { return m.Room }

// Envelope addresses an outbound message. Room wins over User.Room when both
// are set. Message, when present, is the inbound message being answered.
type Envelope struct {
	Room    string
	User    *User
	Message Message
}

// TargetRoom returns the room the envelope points at.
func (e *Envelope) TargetRoom() string {
	if e == nil {
		return ""
	}
	if e.Room != "" {
		return e.Room
	}
	if e.User != nil {
		return e.User.Room
	}
	return ""
}

// EnvelopeFor builds the envelope that answers msg.
func EnvelopeFor(msg Message) *Envelope {
	return &Envelope{
		Room:    msg.MessageRoom(),
		User:    msg.MessageUser(),
		Message: msg,
	}
}
