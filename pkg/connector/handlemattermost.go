// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/matteruser/pkg/connector/mattermostfmt"
	"github.com/aiku/matteruser/pkg/robot"
)

func (mc *MattermostConnector) handleOpen(_ any) {
	mc.log.Debug().Msg("Connection opened")
}

func (mc *MattermostConnector) handleHello(payload any) {
	evt, ok := payload.(*model.WebSocketEvent)
	if !ok {
		return
	}
	version, _ := evt.GetData()["server_version"].(string)
	mc.log.Info().Str("server_version", version).Msg("Mattermost server hello")
}

func (mc *MattermostConnector) handleLoggedIn(payload any) {
	user, ok := payload.(*model.User)
	if !ok || user == nil {
		return
	}
	mc.selfLock.Lock()
	mc.self = user
	mc.selfLock.Unlock()
	mc.Robot.SetName(user.Username)
	mc.identities.Upsert(remoteUserFromModel(user))
	mc.log.Info().Str("username", user.Username).Msg("Logged in but not connected yet")
}

func (mc *MattermostConnector) handleConnected(_ any) {
	mc.log.Info().Msg("Connected to Mattermost")
	mc.Robot.Emit(robot.EventConnected, mc)
}

func (mc *MattermostConnector) handleError(payload any) {
	err, _ := payload.(error)
	if err == nil {
		err = fmt.Errorf("%v", payload)
	}
	mc.log.Warn().Err(err).Msg("Transport error")
}

func (mc *MattermostConnector) handleProfilesLoaded(payload any) {
	users, _ := payload.([]*model.User)
	if users == nil {
		users = mc.transport.Users()
	}
	mc.upsertAll(users)
}

func (mc *MattermostConnector) handleBrainLoaded(_ any) {
	mc.log.Info().Msg("Brain loaded")
	mc.upsertAll(mc.transport.Users())
}

func (mc *MattermostConnector) upsertAll(users []*model.User) {
	for _, user := range users {
		mc.identities.Upsert(remoteUserFromModel(user))
	}
}

func (mc *MattermostConnector) handlePosted(payload any) {
	evt, ok := payload.(*model.WebSocketEvent)
	if !ok {
		return
	}
	ctx := mc.context()
	msg, err := mc.parsePostedEvent(ctx, evt)
	if err != nil {
		mc.log.Warn().Err(err).Msg("Dropping posted event")
		return
	}
	if msg == nil {
		return
	}
	mc.Robot.Receive(ctx, msg)
}

// parsePostedEvent turns a posted event into a canonical message. Returns
// (nil, nil) to skip silently, (nil, err) for a malformed event, or
// (msg, nil) to deliver.
func (mc *MattermostConnector) parsePostedEvent(ctx context.Context, evt *model.WebSocketEvent) (robot.Message, error) {
	data := evt.GetData()
	senderName, _ := data["sender_name"].(string)
	if mc.IsIgnored(senderName) {
		mc.log.Info().Str("username", senderName).Msg("Ignoring message from user in ignore list")
		return nil, nil
	}

	postJSON, ok := data["post"].(string)
	if !ok {
		return nil, errors.New("posted event missing post data")
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	if post.UserId == "" {
		return nil, fmt.Errorf("post %s has no author", post.Id)
	}
	if post.UserId == mc.selfID() {
		return nil, nil
	}
	if post.IsSystemMessage() {
		mc.log.Trace().Str("post_id", post.Id).Str("post_type", post.Type).Msg("Skipping system post")
		return nil, nil
	}
	mc.log.Debug().
		Str("post_id", post.Id).
		Str("user_id", post.UserId).
		Str("channel_id", post.ChannelId).
		Msg("Received post")

	mc.refreshUser(ctx, post.UserId)
	user := mc.identities.SetRoom(post.UserId, post.ChannelId)

	channelType, _ := data["channel_type"].(string)
	direct := isDirectChannelType(channelType)
	shaped := mattermostfmt.Shape(post.Message, mc.Robot.Name(), direct)
	if direct {
		user = mc.identities.SetDMChannel(post.UserId, post.ChannelId)
	}

	text := robot.TextMessage{
		ID:          post.Id,
		User:        user,
		Room:        post.ChannelId,
		Text:        shaped.Text,
		TrimmedText: shaped.TrimmedText,
		RawText:     shaped.RawText,
	}
	if len(post.FileIds) > 0 {
		return &robot.AttachmentMessage{
			TextMessage: text,
			FileIDs:     []string(post.FileIds),
		}, nil
	}
	return &text, nil
}

// refreshUser upserts the transport's profile of userID, or creates a
// minimal record when the profile cannot be fetched.
func (mc *MattermostConnector) refreshUser(ctx context.Context, userID string) *robot.User {
	mmUser, err := mc.transport.GetUserByID(ctx, userID)
	if err != nil || mmUser == nil {
		mc.log.Debug().Err(err).Str("user_id", userID).Msg("No profile for user, using minimal record")
		return mc.identities.Ensure(userID)
	}
	return mc.identities.Upsert(remoteUserFromModel(mmUser))
}

// parseMembershipEvent extracts the acting user and the broadcast channel of
// a user_added or user_removed event.
func parseMembershipEvent(evt *model.WebSocketEvent) (userID, channelID string, err error) {
	userID, _ = evt.GetData()["user_id"].(string)
	if userID == "" {
		return "", "", errors.New("membership event missing user_id")
	}
	if bc := evt.GetBroadcast(); bc != nil {
		channelID = bc.ChannelId
	}
	if channelID == "" {
		channelID, _ = evt.GetData()["channel_id"].(string)
	}
	return userID, channelID, nil
}

func (mc *MattermostConnector) handleUserAdded(payload any) {
	evt, ok := payload.(*model.WebSocketEvent)
	if !ok {
		return
	}
	userID, channelID, err := parseMembershipEvent(evt)
	if err != nil {
		mc.log.Warn().Err(err).Msg("Dropping user_added event")
		return
	}
	ctx := mc.context()
	mc.refreshUser(ctx, userID)
	user := mc.identities.SetRoom(userID, channelID)
	mc.log.Debug().Str("user_id", userID).Str("channel_id", channelID).Msg("User joined channel")
	mc.Robot.Receive(ctx, &robot.EnterMessage{
		ID:   uuid.NewString(),
		User: user,
		Room: channelID,
	})
}

func (mc *MattermostConnector) handleUserRemoved(payload any) {
	evt, ok := payload.(*model.WebSocketEvent)
	if !ok {
		return
	}
	userID, channelID, err := parseMembershipEvent(evt)
	if err != nil {
		mc.log.Warn().Err(err).Msg("Dropping user_removed event")
		return
	}
	mc.identities.Ensure(userID)
	user := mc.identities.SetRoom(userID, channelID)
	mc.log.Debug().Str("user_id", userID).Str("channel_id", channelID).Msg("User left channel")
	mc.Robot.Receive(mc.context(), &robot.LeaveMessage{
		ID:   uuid.NewString(),
		User: user,
		Room: channelID,
	})
}
