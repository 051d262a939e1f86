// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/matteruser/pkg/robot"
)

// Robot events carrying cross-bridge attachment posts. Both names are in use
// by different script conventions.
const (
	EventSlackAttachment    = "slack-attachment"
	EventSlackAttachmentAlt = "slack.attachment"
)

// MattermostConnector is the robot adapter for Mattermost. One instance owns
// the identity cache, the destination resolver and the transport handle.
type MattermostConnector struct {
	Robot  *robot.Robot
	Config *Config

	transport  chatTransport
	identities *IdentityCache
	resolver   *DestinationResolver
	ignore     *exsync.Set[string]

	selfLock sync.RWMutex
	self     *model.User

	ctxLock sync.RWMutex
	ctx     context.Context

	registerOnce sync.Once
	now          func() time.Time
	log          zerolog.Logger
}

var _ robot.Adapter = (*MattermostConnector)(nil)

// NewMattermostConnector wires an adapter for rb on top of transport.
func NewMattermostConnector(rb *robot.Robot, cfg *Config, transport chatTransport) *MattermostConnector {
	log := rb.Log.With().Str("component", "mm_adapter").Logger()
	identities := NewIdentityCache(rb.Brain, cfg, log)
	mc := &MattermostConnector{
		Robot:      rb,
		Config:     cfg,
		transport:  transport,
		identities: identities,
		resolver:   NewDestinationResolver(identities, transport, log),
		ignore:     exsync.NewSetWithItems(cfg.IgnoreUsers),
		ctx:        context.Background(),
		now:        time.Now,
		log:        log,
	}
	rb.SetAdapter(mc)
	return mc
}

// Identities returns the adapter's identity cache.
func (mc *MattermostConnector) Identities() *IdentityCache {
	return mc.identities
}

// Resolver returns the adapter's destination resolver.
func (mc *MattermostConnector) Resolver() *DestinationResolver {
	return mc.resolver
}

func (mc *MattermostConnector) register() {
	mc.registerOnce.Do(func() {
		mc.transport.On(EventOpen, mc.handleOpen)
		mc.transport.On(EventHello, mc.handleHello)
		mc.transport.On(EventLoggedIn, mc.handleLoggedIn)
		mc.transport.On(EventConnected, mc.handleConnected)
		mc.transport.On(EventMessage, mc.handlePosted)
		mc.transport.On(EventProfilesLoaded, mc.handleProfilesLoaded)
		mc.transport.On(EventUserAdded, mc.handleUserAdded)
		mc.transport.On(EventUserRemoved, mc.handleUserRemoved)
		mc.transport.On(EventError, mc.handleError)

		mc.Robot.Brain.On(robot.EventBrainLoaded, mc.handleBrainLoaded)

		mc.Robot.On(EventSlackAttachment, mc.handleAttachmentEvent)
		mc.Robot.On(EventSlackAttachmentAlt, mc.handleAttachmentEvent)
	})
}

// Run subscribes the adapter's handlers, logs in and blocks until ctx is
// cancelled.
func (mc *MattermostConnector) Run(ctx context.Context) error {
	mc.ctxLock.Lock()
	mc.ctx = ctx
	mc.ctxLock.Unlock()

	mc.register()
	if err := mc.transport.Login(ctx); err != nil {
		mc.transport.Disconnect()
		return err
	}
	<-ctx.Done()
	mc.transport.Disconnect()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// Close disconnects from the server.
func (mc *MattermostConnector) Close() error {
	mc.transport.Disconnect()
	return nil
}

func (mc *MattermostConnector) context() context.Context {
	mc.ctxLock.RLock()
	defer mc.ctxLock.RUnlock()
	return mc.ctx
}

// Self returns the logged-in bot user, or nil before login.
func (mc *MattermostConnector) Self() *model.User {
	mc.selfLock.RLock()
	defer mc.selfLock.RUnlock()
	return mc.self
}

func (mc *MattermostConnector) selfID() string {
	if self := mc.Self(); self != nil {
		return self.Id
	}
	return ""
}

// IsIgnored reports whether messages from username are dropped.
func (mc *MattermostConnector) IsIgnored(username string) bool {
	name := normalizeUsername(username)
	return name != "" && mc.ignore.Has(name)
}
