// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/matteruser/pkg/robot"
)

// transportCall records one RPC issued through the fake transport.
type transportCall struct {
	Method    string
	ChannelID string
	UserID    string
	Text      string
	Post      *model.Post
}

// fakeTransport is an in-memory chatTransport that records every call.
type fakeTransport struct {
	*robot.Emitter

	mu    sync.Mutex
	calls []transportCall

	// Profiles maps user ID to profile for GetUserByID and Users.
	Profiles map[string]*model.User
	// Channels maps channel ID to channel for FindChannelByName.
	Channels map[string]*model.Channel
	// DMChannels maps user ID to the direct channel ID the server returns.
	DMChannels map[string]string

	LoginErr error
	DMErr    error
	FindErr  error
	// DMGate, when set, blocks GetDirectMessageChannel until it is closed.
	DMGate chan struct{}
}

var _ chatTransport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		Emitter:    robot.NewEmitter(),
		Profiles:   make(map[string]*model.User),
		Channels:   make(map[string]*model.Channel),
		DMChannels: make(map[string]string),
	}
}

func (f *fakeTransport) record(call transportCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) Calls() []transportCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]transportCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeTransport) CallsTo(method string) []transportCall {
	var out []transportCall
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// WireCalls returns the calls that write to the server.
func (f *fakeTransport) WireCalls() []transportCall {
	var out []transportCall
	for _, c := range f.Calls() {
		switch c.Method {
		case "PostMessage", "CustomMessage", "SetChannelHeader":
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeTransport) Login(_ context.Context) error {
	f.record(transportCall{Method: "Login"})
	return f.LoginErr
}

func (f *fakeTransport) Disconnect() {
	f.record(transportCall{Method: "Disconnect"})
}

func (f *fakeTransport) PostMessage(_ context.Context, text, channelID string) error {
	f.record(transportCall{Method: "PostMessage", ChannelID: channelID, Text: text})
	return nil
}

func (f *fakeTransport) CustomMessage(_ context.Context, post *model.Post) error {
	f.record(transportCall{Method: "CustomMessage", ChannelID: post.ChannelId, Text: post.Message, Post: post})
	return nil
}

func (f *fakeTransport) GetDirectMessageChannel(ctx context.Context, userID string) (*model.Channel, error) {
	f.record(transportCall{Method: "GetDirectMessageChannel", UserID: userID})
	if f.DMGate != nil {
		select {
		case <-f.DMGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.DMErr != nil {
		return nil, f.DMErr
	}
	f.mu.Lock()
	chID, ok := f.DMChannels[userID]
	f.mu.Unlock()
	if !ok {
		chID = "dm-" + userID
	}
	return &model.Channel{Id: chID, Type: model.ChannelTypeDirect}, nil
}

func (f *fakeTransport) FindChannelByName(_ context.Context, name string) (*model.Channel, error) {
	f.record(transportCall{Method: "FindChannelByName", Text: name})
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.Channels {
		if channelMatches(ch, name) {
			return ch, nil
		}
	}
	return nil, nil
}

func (f *fakeTransport) SetChannelHeader(_ context.Context, channelID, header string) error {
	f.record(transportCall{Method: "SetChannelHeader", ChannelID: channelID, Text: header})
	return nil
}

func (f *fakeTransport) GetUserByID(_ context.Context, userID string) (*model.User, error) {
	f.record(transportCall{Method: "GetUserByID", UserID: userID})
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.Profiles[userID]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func (f *fakeTransport) Users() []*model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.User, 0, len(f.Profiles))
	for _, u := range f.Profiles {
		out = append(out, u)
	}
	return out
}

func (f *fakeTransport) AddUser(u *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Profiles[u.Id] = u
}

func (f *fakeTransport) AddChannel(ch *model.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Channels[ch.Id] = ch
}

// messageSink collects the messages the robot dispatches.
type messageSink struct {
	mu   sync.Mutex
	msgs []robot.Message
}

func (s *messageSink) All() []robot.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]robot.Message, len(s.msgs))
	copy(cp, s.msgs)
	return cp
}

func captureMessages(rb *robot.Robot) *messageSink {
	sink := &messageSink{}
	rb.Listen(nil, func(_ context.Context, res *robot.Response) {
		sink.mu.Lock()
		sink.msgs = append(sink.msgs, res.Message)
		sink.mu.Unlock()
	})
	return sink
}

var testNow = time.UnixMilli(1700000000000)

// newTestConnector creates a connector on a fake transport, logged in as
// "bot" with ID "bot-id".
func newTestConnector(cfg *Config) (*MattermostConnector, *fakeTransport) {
	if cfg == nil {
		cfg = &Config{Reply: true}
	}
	ft := newFakeTransport()
	rb := robot.New("hubot", nil, zerolog.Nop())
	mc := NewMattermostConnector(rb, cfg, ft)
	mc.now = func() time.Time { return testNow }
	mc.register()
	mc.handleLoggedIn(&model.User{Id: "bot-id", Username: "bot"})
	return mc, ft
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// newPostedEvent wraps post in a posted event the way the server sends it.
func newPostedEvent(post *model.Post, senderName, channelType string) *model.WebSocketEvent {
	postJSON, _ := json.Marshal(post)
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":         string(postJSON),
		"sender_name":  senderName,
		"channel_type": channelType,
	})
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Logins maps login ID to password and user for the login endpoint.
	Logins map[string]fakeLogin
	// Users maps user ID to model.User.
	Users map[string]*model.User
	// Teams maps team name to team.
	Teams map[string]*model.Team
	// TeamUsers maps team ID to its member profiles, in page order.
	TeamUsers map[string][]*model.User
	// ChannelsForTeamUser maps "teamID:userID" to channel list.
	ChannelsForTeamUser map[string][]*model.Channel
	// ChannelsByName maps "teamID:name" to channel.
	ChannelsByName map[string]*model.Channel
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

type fakeLogin struct {
	Password string
	Token    string
	User     *model.User
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Logins:              make(map[string]fakeLogin),
		Users:               make(map[string]*model.User),
		Teams:               make(map[string]*model.Team),
		TeamUsers:           make(map[string][]*model.User),
		ChannelsForTeamUser: make(map[string][]*model.Channel),
		ChannelsByName:      make(map[string]*model.Channel),
		FailEndpoints:       make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

// Host returns the host:port of the fake server.
func (f *fakeMM) Host() string {
	return strings.TrimPrefix(f.Server.URL, "http://")
}

func (f *fakeMM) record(r *http.Request, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func (f *fakeMM) CallsTo(method, path string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	writeJSON(w, map[string]any{"message": msg, "status_code": status})
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			writeError(w, http.StatusInternalServerError, "fake error")
			return
		}
	}

	path := r.URL.Path
	parts := strings.Split(strings.TrimPrefix(path, "/api/v4/"), "/")

	switch {
	// POST /api/v4/users/login
	case r.Method == http.MethodPost && path == "/api/v4/users/login":
		var req struct {
			LoginID  string `json:"login_id"`
			Password string `json:"password"`
		}
		_ = json.Unmarshal(body, &req)
		login, ok := f.Logins[req.LoginID]
		if !ok || login.Password != req.Password {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		w.Header().Set(model.HeaderToken, login.Token)
		writeJSON(w, login.User)

	// GET /api/v4/teams/name/{name}
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "teams" && parts[1] == "name":
		if team, ok := f.Teams[parts[2]]; ok {
			writeJSON(w, team)
			return
		}
		writeError(w, http.StatusNotFound, "team not found")

	// GET /api/v4/teams/{team_id}/channels/name/{name}
	case r.Method == http.MethodGet && len(parts) == 5 && parts[0] == "teams" && parts[2] == "channels" && parts[3] == "name":
		if ch, ok := f.ChannelsByName[parts[1]+":"+parts[4]]; ok {
			writeJSON(w, ch)
			return
		}
		writeError(w, http.StatusNotFound, "channel not found")

	// GET /api/v4/users?in_team={team_id}&page=&per_page=
	case r.Method == http.MethodGet && path == "/api/v4/users":
		q := r.URL.Query()
		users := f.TeamUsers[q.Get("in_team")]
		page, _ := strconv.Atoi(q.Get("page"))
		perPage, _ := strconv.Atoi(q.Get("per_page"))
		if perPage <= 0 {
			perPage = 60
		}
		start := min(page*perPage, len(users))
		end := min(start+perPage, len(users))
		writeJSON(w, users[start:end])

	// GET /api/v4/users/{user_id}/teams/{team_id}/channels
	case r.Method == http.MethodGet && len(parts) == 5 && parts[0] == "users" && parts[2] == "teams" && parts[4] == "channels":
		if chs, ok := f.ChannelsForTeamUser[parts[3]+":"+parts[1]]; ok {
			writeJSON(w, chs)
			return
		}
		writeJSON(w, []*model.Channel{})

	// GET /api/v4/users/{user_id}
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "users":
		if u, ok := f.Users[parts[1]]; ok {
			writeJSON(w, u)
			return
		}
		writeError(w, http.StatusNotFound, "user not found")

	// POST /api/v4/channels/direct
	case r.Method == http.MethodPost && path == "/api/v4/channels/direct":
		var ids []string
		_ = json.Unmarshal(body, &ids)
		if len(ids) != 2 {
			writeError(w, http.StatusBadRequest, "need two users")
			return
		}
		writeJSON(w, &model.Channel{
			Id:   "dm-" + ids[1],
			Name: model.GetDMNameFromIds(ids[0], ids[1]),
			Type: model.ChannelTypeDirect,
		})

	// PUT /api/v4/channels/{channel_id}/patch
	case r.Method == http.MethodPut && len(parts) == 3 && parts[0] == "channels" && parts[2] == "patch":
		var patch model.ChannelPatch
		_ = json.Unmarshal(body, &patch)
		ch := &model.Channel{Id: parts[1]}
		if patch.Header != nil {
			ch.Header = *patch.Header
		}
		writeJSON(w, ch)

	// POST /api/v4/posts
	case r.Method == http.MethodPost && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		writeJSON(w, &post)

	default:
		writeError(w, http.StatusNotFound, "not found: "+path)
	}
}

// newTestClient creates a MattermostClient pointed at a fake server and
// marks it as logged in as self on team teamID.
func newTestClient(f *fakeMM, self *model.User, teamID string) *MattermostClient {
	cfg := &Config{Host: f.Host(), UseTLS: false, Reply: true}
	m := NewMattermostClient(cfg, zerolog.Nop())
	m.client.SetToken("test-token")
	m.self = self
	m.teamID = teamID
	m.storeUser(self)
	return m
}

var errBoom = errors.New("boom")
