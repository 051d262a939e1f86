// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

// remoteUserFromModel converts a Mattermost user into a profile snapshot.
// Fields mirrors the JSON form of the user so that every attribute the
// server sends is kept on the provider record.
func remoteUserFromModel(user *model.User) RemoteUser {
	if user == nil {
		return RemoteUser{}
	}
	ru := RemoteUser{
		ID:        user.Id,
		Username:  user.Username,
		Nickname:  user.Nickname,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
	}
	data, err := json.Marshal(user)
	if err != nil {
		return ru
	}
	var fields map[string]any
	if err = json.Unmarshal(data, &fields); err == nil {
		ru.Fields = fields
	}
	return ru
}

// channelMatches reports whether token names the channel by name, display
// name or ID.
func channelMatches(ch *model.Channel, token string) bool {
	if ch == nil || token == "" {
		return false
	}
	return ch.Id == token ||
		ch.Name == token ||
		strings.EqualFold(ch.DisplayName, token)
}

// isDirectChannelType reports whether a channel_type value marks a one-to-one
// direct message.
func isDirectChannelType(channelType string) bool {
	return channelType == string(model.ChannelTypeDirect)
}
