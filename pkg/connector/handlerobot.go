// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/slack-go/slack"

	"github.com/aiku/matteruser/pkg/robot"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNoRoom          = errors.New("envelope has no room")
)

// Post props understood by Mattermost for posts that impersonate another
// name.
const (
	propOverrideUsername  = "override_username"
	propOverrideIconURL   = "override_icon_url"
	propOverrideIconEmoji = "override_icon_emoji"
	propFromWebhook       = "from_webhook"
	propAttachments       = "attachments"
)

// OutboundPost is a post the adapter is about to create.
type OutboundPost struct {
	Message   string
	ChannelID string
	RootID    string
	// ParentID mirrors RootID. The v4 API has no separate parent field, so
	// it never reaches the wire.
	ParentID  string
	CreatedAt int64
	AuthorID  string
	Type      string
	Props     map[string]any
}

// ToModel converts the post to its wire form.
func (p *OutboundPost) ToModel() *model.Post {
	post := &model.Post{
		ChannelId: p.ChannelID,
		Message:   p.Message,
		RootId:    p.RootID,
		CreateAt:  p.CreatedAt,
		UserId:    p.AuthorID,
		Type:      p.Type,
	}
	for key, val := range p.Props {
		post.AddProp(key, val)
	}
	return post
}

// Send posts each string as its own message to the envelope's room.
func (mc *MattermostConnector) Send(ctx context.Context, env *robot.Envelope, strs ...string) error {
	room := env.TargetRoom()
	if room == "" {
		return ErrNoRoom
	}
	dest, err := mc.resolver.Resolve(ctx, room)
	if err != nil {
		return err
	}
	for _, str := range strs {
		if err = mc.transport.PostMessage(ctx, str, dest.ChannelID); err != nil {
			return err
		}
	}
	return nil
}

// Reply answers the envelope's message in its thread, mentioning the user
// who sent it. Only the first string is posted. In no-reply mode this is the
// same as Send.
func (mc *MattermostConnector) Reply(ctx context.Context, env *robot.Envelope, strs ...string) error {
	if !mc.Config.Reply {
		return mc.Send(ctx, env, strs...)
	}
	if len(strs) == 0 {
		return nil
	}
	room := env.TargetRoom()
	if room == "" {
		return ErrNoRoom
	}
	post := mc.composeReply(env, strs[0])
	dest, err := mc.resolver.Resolve(ctx, room)
	if err != nil {
		return err
	}
	post.ChannelID = dest.ChannelID
	return mc.transport.CustomMessage(ctx, post.ToModel())
}

func (mc *MattermostConnector) composeReply(env *robot.Envelope, text string) *OutboundPost {
	if env.User != nil && env.User.Name != "" {
		text = "@" + env.User.Name + " " + text
	}
	post := &OutboundPost{
		Message:   text,
		CreatedAt: mc.now().UnixMilli(),
		AuthorID:  mc.selfID(),
	}
	if env.Message != nil {
		post.RootID = env.Message.MessageID()
		post.ParentID = post.RootID
	}
	return post
}

// Topic sets the header of the envelope's channel.
func (mc *MattermostConnector) Topic(ctx context.Context, env *robot.Envelope, strs ...string) error {
	return mc.ChangeHeader(ctx, env.TargetRoom(), strings.Join(strs, " "))
}

// ChangeHeader sets the header of a channel given by name or ID. Empty input
// is a no-op.
func (mc *MattermostConnector) ChangeHeader(ctx context.Context, channel, header string) error {
	if channel == "" || header == "" {
		return nil
	}
	ch, err := mc.transport.FindChannelByName(ctx, channel)
	if err != nil {
		return fmt.Errorf("failed to look up channel %s: %w", channel, err)
	}
	if ch == nil {
		mc.log.Error().Str("channel", channel).Msg("Channel not found")
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	return mc.transport.SetChannelHeader(ctx, ch.Id, header)
}

// AttachmentList is a list of Slack-style attachments. It also decodes
// from a single attachment object.
type AttachmentList []slack.Attachment

func (l *AttachmentList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*l = nil
		return nil
	case data[0] == '{':
		var single slack.Attachment
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = AttachmentList{single}
		return nil
	default:
		var list []slack.Attachment
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
}

// AttachmentPayload is the body of a cross-bridge attachment event.
type AttachmentPayload struct {
	Room        string         `json:"room"`
	Text        string         `json:"text,omitempty"`
	Attachments AttachmentList `json:"attachments,omitempty"`
	Username    string         `json:"username,omitempty"`
	IconURL     string         `json:"icon_url,omitempty"`
	IconEmoji   string         `json:"icon_emoji,omitempty"`
}

func decodeAttachmentPayload(payload any) (*AttachmentPayload, error) {
	switch p := payload.(type) {
	case *AttachmentPayload:
		return p, nil
	case AttachmentPayload:
		return &p, nil
	case json.RawMessage:
		return unmarshalAttachmentPayload(p)
	case []byte:
		return unmarshalAttachmentPayload(p)
	case string:
		return unmarshalAttachmentPayload([]byte(p))
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode attachment payload: %w", err)
		}
		return unmarshalAttachmentPayload(data)
	}
}

func unmarshalAttachmentPayload(data []byte) (*AttachmentPayload, error) {
	var p AttachmentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode attachment payload: %w", err)
	}
	return &p, nil
}

func (mc *MattermostConnector) handleAttachmentEvent(payload any) {
	p, err := decodeAttachmentPayload(payload)
	if err != nil {
		mc.log.Warn().Err(err).Msg("Dropping attachment event")
		return
	}
	if err = mc.SendAttachment(mc.context(), p); err != nil {
		mc.log.Error().Err(err).Str("room", p.Room).Msg("Failed to send attachment post")
	}
}

// SendAttachment posts Slack-style attachments to a channel. A payload
// without a room is ignored. A username other than the bot's own makes the
// post appear under that name.
func (mc *MattermostConnector) SendAttachment(ctx context.Context, p *AttachmentPayload) error {
	if p == nil || p.Room == "" {
		return nil
	}
	attachments, err := toMattermostAttachments(p.Attachments)
	if err != nil {
		return err
	}
	post := &OutboundPost{
		Message:   model.ParseSlackLinksToMarkdown(p.Text),
		ChannelID: p.Room,
		CreatedAt: mc.now().UnixMilli(),
		AuthorID:  mc.selfID(),
		Type:      model.PostTypeSlackAttachment,
		Props:     map[string]any{propAttachments: attachments},
	}
	if p.Username != "" && p.Username != mc.Robot.Name() {
		post.Props[propOverrideUsername] = p.Username
		post.Props[propFromWebhook] = "true"
		if p.IconURL != "" {
			post.Props[propOverrideIconURL] = p.IconURL
		} else if p.IconEmoji != "" {
			post.Props[propOverrideIconEmoji] = p.IconEmoji
		}
	}
	return mc.transport.CustomMessage(ctx, post.ToModel())
}

// toMattermostAttachments converts Slack attachments to the Mattermost
// form, rewriting Slack link syntax in the text fields to Markdown.
func toMattermostAttachments(list AttachmentList) ([]*model.SlackAttachment, error) {
	out := []*model.SlackAttachment{}
	if len(list) == 0 {
		return out, nil
	}
	data, err := json.Marshal([]slack.Attachment(list))
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	if err = json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert attachments: %w", err)
	}
	for _, att := range out {
		if att == nil {
			continue
		}
		att.Pretext = model.ParseSlackLinksToMarkdown(att.Pretext)
		att.Text = model.ParseSlackLinksToMarkdown(att.Text)
		att.Title = model.ParseSlackLinksToMarkdown(att.Title)
	}
	return out, nil
}
