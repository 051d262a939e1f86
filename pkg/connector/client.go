// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"

	"github.com/aiku/matteruser/pkg/robot"
)

// Transport events.
const (
	EventOpen           = "open"
	EventHello          = "hello"
	EventLoggedIn       = "loggedIn"
	EventConnected      = "connected"
	EventMessage        = "message"
	EventProfilesLoaded = "profilesLoaded"
	EventUserAdded      = "user_added"
	EventUserRemoved    = "user_removed"
	EventError          = "error"
)

const usersPerPage = 200

var (
	ErrNotLoggedIn  = errors.New("not logged in to Mattermost")
	ErrUserNotFound = errors.New("user not found")
)

// chatTransport is the surface of the Mattermost connection the adapter
// uses. Tests inject a fake instead of a live server.
type chatTransport interface {
	On(name string, h robot.Handler)
	Login(ctx context.Context) error
	Disconnect()

	PostMessage(ctx context.Context, text, channelID string) error
	CustomMessage(ctx context.Context, post *model.Post) error
	GetDirectMessageChannel(ctx context.Context, userID string) (*model.Channel, error)
	// FindChannelByName returns (nil, nil) when no channel matches.
	FindChannelByName(ctx context.Context, name string) (*model.Channel, error)
	SetChannelHeader(ctx context.Context, channelID, header string) error
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	Users() []*model.User
}

// MattermostClient is the bot's authenticated connection: a REST client for
// calls and a WebSocket for the event stream. Server events are re-emitted
// under the transport event names.
type MattermostClient struct {
	*robot.Emitter

	cfg      *Config
	client   *model.Client4
	wsLock   sync.Mutex
	wsClient *model.WebSocketClient

	selfLock sync.RWMutex
	self     *model.User
	teamID   string

	usersLock sync.RWMutex
	users     map[string]*model.User

	channelsLock sync.RWMutex
	channels     map[string]*model.Channel

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var _ chatTransport = (*MattermostClient)(nil)

// NewMattermostClient creates an unconnected client for the configured server.
func NewMattermostClient(cfg *Config, log zerolog.Logger) *MattermostClient {
	return &MattermostClient{
		Emitter:  robot.NewEmitter(),
		cfg:      cfg,
		client:   model.NewAPIv4Client(cfg.ServerURL()),
		users:    make(map[string]*model.User),
		channels: make(map[string]*model.Channel),
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "mm_client").Logger(),
	}
}

// Login authenticates, loads the team directory and opens the WebSocket.
func (m *MattermostClient) Login(ctx context.Context) error {
	m.Emit(EventOpen, nil)
	m.log.Info().Str("server_url", m.cfg.ServerURL()).Msg("Connecting to Mattermost")

	me, _, err := m.client.Login(ctx, m.cfg.User, m.cfg.Password)
	if err != nil {
		return fmt.Errorf("failed to log in as %s: %w", m.cfg.User, err)
	}
	m.selfLock.Lock()
	m.self = me
	m.selfLock.Unlock()
	m.storeUser(me)
	m.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")
	m.Emit(EventLoggedIn, me)

	team, _, err := m.client.GetTeamByName(ctx, m.cfg.Group, "")
	if err != nil {
		return fmt.Errorf("failed to get team %s: %w", m.cfg.Group, err)
	}
	m.selfLock.Lock()
	m.teamID = team.Id
	m.selfLock.Unlock()

	if err = m.loadUsers(ctx, team.Id); err != nil {
		return err
	}
	if err = m.loadChannels(ctx, team.Id, me.Id); err != nil {
		return err
	}
	if err = m.connectWebSocket(); err != nil {
		return err
	}
	m.Emit(EventConnected, nil)
	return nil
}

func (m *MattermostClient) loadUsers(ctx context.Context, teamID string) error {
	for page := 0; ; page++ {
		users, _, err := m.client.GetUsersInTeam(ctx, teamID, page, usersPerPage, "")
		if err != nil {
			return fmt.Errorf("failed to load users: %w", err)
		}
		for _, user := range users {
			m.storeUser(user)
		}
		if len(users) < usersPerPage {
			break
		}
	}
	all := m.Users()
	m.log.Info().Int("count", len(all)).Msg("Profiles loaded")
	m.Emit(EventProfilesLoaded, all)
	return nil
}

func (m *MattermostClient) loadChannels(ctx context.Context, teamID, userID string) error {
	channels, _, err := m.client.GetChannelsForTeamForUser(ctx, teamID, userID, false, "")
	if err != nil {
		return fmt.Errorf("failed to load channels: %w", err)
	}
	for _, ch := range channels {
		m.storeChannel(ch)
	}
	m.log.Debug().Int("count", len(channels)).Msg("Channels loaded")
	return nil
}

func (m *MattermostClient) connectWebSocket() error {
	wsURL := m.cfg.WebSocketURL()
	ws, err := model.NewWebSocketClient4(wsURL, m.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	m.wsLock.Lock()
	m.wsClient = ws
	m.wsLock.Unlock()

	go m.listenWebSocket(ws)

	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

func (m *MattermostClient) listenWebSocket(ws *model.WebSocketClient) {
	for {
		select {
		case <-m.stopChan:
			return
		case evt, ok := <-ws.EventChannel:
			if !ok {
				m.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				m.handleWebSocketDisconnect()
				return
			}
			if evt == nil {
				continue
			}
			m.handleEvent(evt)
		}
	}
}

func (m *MattermostClient) handleWebSocketDisconnect() {
	select {
	case <-m.stopChan:
		return
	default:
	}
	m.Emit(EventError, errors.New("websocket disconnected"))
	if err := m.connectWebSocket(); err != nil {
		m.log.Error().Err(err).Msg("Failed to reconnect WebSocket")
		m.Emit(EventError, err)
		return
	}
	m.Emit(EventConnected, nil)
}

// handleEvent maps a WebSocket event to a transport event.
func (m *MattermostClient) handleEvent(evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventHello:
		m.Emit(EventHello, evt)
	case model.WebsocketEventPosted:
		m.Emit(EventMessage, evt)
	case model.WebsocketEventUserAdded:
		m.Emit(EventUserAdded, evt)
	case model.WebsocketEventUserRemoved:
		m.Emit(EventUserRemoved, evt)
	default:
		m.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// Disconnect closes the WebSocket connection and stops the event loop.
func (m *MattermostClient) Disconnect() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wsLock.Lock()
	defer m.wsLock.Unlock()
	if m.wsClient != nil {
		m.wsClient.Close()
		m.wsClient = nil
	}
}

// Self returns the logged-in user, or nil before login.
func (m *MattermostClient) Self() *model.User {
	m.selfLock.RLock()
	defer m.selfLock.RUnlock()
	return m.self
}

func (m *MattermostClient) PostMessage(ctx context.Context, text, channelID string) error {
	return m.CustomMessage(ctx, &model.Post{ChannelId: channelID, Message: text})
}

func (m *MattermostClient) CustomMessage(ctx context.Context, post *model.Post) error {
	created, _, err := m.client.CreatePost(ctx, post)
	if err != nil {
		return fmt.Errorf("failed to create post in %s: %w", post.ChannelId, err)
	}
	m.log.Debug().Str("post_id", created.Id).Str("channel_id", created.ChannelId).Msg("Post created")
	return nil
}

// GetDirectMessageChannel creates, or returns the existing, direct channel
// between the bot and userID.
func (m *MattermostClient) GetDirectMessageChannel(ctx context.Context, userID string) (*model.Channel, error) {
	self := m.Self()
	if self == nil {
		return nil, ErrNotLoggedIn
	}
	ch, _, err := m.client.CreateDirectChannel(ctx, self.Id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create direct channel: %w", err)
	}
	m.storeChannel(ch)
	return ch, nil
}

// FindChannelByName looks the channel up in the loaded directory, then on
// the server. A channel that does not exist yields (nil, nil).
func (m *MattermostClient) FindChannelByName(ctx context.Context, name string) (*model.Channel, error) {
	if name == "" {
		return nil, nil
	}
	m.channelsLock.RLock()
	for _, ch := range m.channels {
		if channelMatches(ch, name) {
			m.channelsLock.RUnlock()
			return ch, nil
		}
	}
	m.channelsLock.RUnlock()

	m.selfLock.RLock()
	teamID := m.teamID
	m.selfLock.RUnlock()
	if teamID == "" {
		return nil, ErrNotLoggedIn
	}
	ch, resp, err := m.client.GetChannelByName(ctx, name, teamID, "")
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", name, err)
	}
	m.storeChannel(ch)
	return ch, nil
}

func (m *MattermostClient) SetChannelHeader(ctx context.Context, channelID, header string) error {
	ch, _, err := m.client.PatchChannel(ctx, channelID, &model.ChannelPatch{Header: ptr.Ptr(header)})
	if err != nil {
		return fmt.Errorf("failed to set header of %s: %w", channelID, err)
	}
	m.storeChannel(ch)
	return nil
}

// GetUserByID returns the user from the directory, fetching unknown users
// from the server.
func (m *MattermostClient) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	m.usersLock.RLock()
	user, ok := m.users[userID]
	m.usersLock.RUnlock()
	if ok {
		return user, nil
	}
	user, resp, err := m.client.GetUser(ctx, userID, "")
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	m.storeUser(user)
	return user, nil
}

// Users returns the loaded user directory ordered by ID.
func (m *MattermostClient) Users() []*model.User {
	m.usersLock.RLock()
	defer m.usersLock.RUnlock()
	out := make([]*model.User, 0, len(m.users))
	for _, id := range slices.Sorted(maps.Keys(m.users)) {
		out = append(out, m.users[id])
	}
	return out
}

func (m *MattermostClient) storeUser(user *model.User) {
	if user == nil || user.Id == "" {
		return
	}
	m.usersLock.Lock()
	m.users[user.Id] = user
	m.usersLock.Unlock()
}

func (m *MattermostClient) storeChannel(ch *model.Channel) {
	if ch == nil || ch.Id == "" {
		return
	}
	m.channelsLock.Lock()
	m.channels[ch.Id] = ch
	m.channelsLock.Unlock()
}
