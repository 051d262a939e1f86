// Copyright 2024-2026 Aiku AI

package robot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Robot events.
const (
	EventConnected = "connected"
	EventRunning   = "running"
)

// ErrNoAdapter is returned when the robot is asked to talk before an adapter
// was attached.
var ErrNoAdapter = errors.New("no adapter attached")

// Adapter connects a robot to a chat network.
type Adapter interface {
	Run(ctx context.Context) error
	Close() error
	Send(ctx context.Context, env *Envelope, strings ...string) error
	Reply(ctx context.Context, env *Envelope, strings ...string) error
	Topic(ctx context.Context, env *Envelope, strings ...string) error
}

// Matcher decides whether a listener wants a message.
type Matcher func(msg Message) bool

// ListenerFunc handles a matched message.
type ListenerFunc func(ctx context.Context, res *Response)

type listener struct {
	match  Matcher
	handle ListenerFunc
}

// Robot is the bot framework instance an adapter serves.
type Robot struct {
	*Emitter

	Brain *Brain
	Log   zerolog.Logger

	nameLock sync.RWMutex
	name     string

	adapter   Adapter
	listeners []listener
	listLock  sync.RWMutex
}

// New creates a robot. A nil brain is replaced by an in-memory one.
func New(name string, brain *Brain, log zerolog.Logger) *Robot {
	if brain == nil {
		brain = NewBrain(nil, log)
	}
	return &Robot{
		Emitter: NewEmitter(),
		Brain:   brain,
		Log:     log,
		name:    name,
	}
}

// Name returns the robot's current name.
func (r *Robot) Name() string {
	r.nameLock.RLock()
	defer r.nameLock.RUnlock()
	return r.name
}

// SetName renames the robot.
func (r *Robot) SetName(name string) {
	r.nameLock.Lock()
	r.name = name
	r.nameLock.Unlock()
}

func (r *Robot) SetAdapter(a Adapter) {
	r.adapter = a
}

func (r *Robot) Adapter() Adapter {
	return r.adapter
}

// Listen registers a listener. A nil matcher matches everything.
func (r *Robot) Listen(match Matcher, handle ListenerFunc) {
	if match == nil {
		match = func(Message) bool { return true }
	}
	r.listLock.Lock()
	r.listeners = append(r.listeners, listener{match: match, handle: handle})
	r.listLock.Unlock()
}

// Hear registers a listener for text messages containing substr,
// case-insensitively.
func (r *Robot) Hear(substr string, handle ListenerFunc) {
	lower := strings.ToLower(substr)
	r.Listen(func(msg Message) bool {
		text := textOf(msg)
		return text != "" && strings.Contains(strings.ToLower(text), lower)
	}, handle)
}

// Receive hands msg to every matching listener in registration order. A
// panicking listener is logged and does not stop the others.
func (r *Robot) Receive(ctx context.Context, msg Message) {
	r.listLock.RLock()
	listeners := make([]listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listLock.RUnlock()

	res := &Response{Robot: r, Message: msg, Envelope: EnvelopeFor(msg)}
	for _, l := range listeners {
		if !l.match(msg) {
			continue
		}
		r.callListener(ctx, l, res)
	}
}

func (r *Robot) callListener(ctx context.Context, l listener, res *Response) {
	defer func() {
		if p := recover(); p != nil {
			r.Log.Error().
				Str("message_id", res.Message.MessageID()).
				Any("panic", p).
				Msg("Listener panicked")
		}
	}()
	l.handle(ctx, res)
}

// Run starts the adapter and blocks until it returns.
func (r *Robot) Run(ctx context.Context) error {
	if r.adapter == nil {
		return ErrNoAdapter
	}
	r.Emit(EventRunning, r)
	if err := r.adapter.Run(ctx); err != nil {
		return fmt.Errorf("adapter stopped: %w", err)
	}
	return nil
}

// Shutdown closes the adapter.
func (r *Robot) Shutdown() error {
	if r.adapter == nil {
		return nil
	}
	return r.adapter.Close()
}

func (r *Robot) Send(ctx context.Context, env *Envelope, strs ...string) error {
	if r.adapter == nil {
		return ErrNoAdapter
	}
	return r.adapter.Send(ctx, env, strs...)
}

func (r *Robot) Reply(ctx context.Context, env *Envelope, strs ...string) error {
	if r.adapter == nil {
		return ErrNoAdapter
	}
	return r.adapter.Reply(ctx, env, strs...)
}

// MessageRoom sends strs to a room or user name.
func (r *Robot) MessageRoom(ctx context.Context, room string, strs ...string) error {
	return r.Send(ctx, &Envelope{Room: room}, strs...)
}

// Response bundles a matched message with shortcuts for answering it.
type Response struct {
	Robot    *Robot
	Message  Message
	Envelope *Envelope
}

// Text returns the message text, or "" for non-text messages.
func (res *Response) Text() string {
	return textOf(res.Message)
}

func (res *Response) Send(ctx context.Context, strs ...string) error {
	return res.Robot.Send(ctx, res.Envelope, strs...)
}

func (res *Response) Reply(ctx context.Context, strs ...string) error {
	return res.Robot.Reply(ctx, res.Envelope, strs...)
}

func (res *Response) Topic(ctx context.Context, strs ...string) error {
	if res.Robot.adapter == nil {
		return ErrNoAdapter
	}
	return res.Robot.adapter.Topic(ctx, res.Envelope, strs...)
}

func textOf(msg Message) string {
	switch m := msg.(type) {
	case *TextMessage:
		return m.Text
	case *AttachmentMessage:
		return m.Text
	default:
		return ""
	}
}
