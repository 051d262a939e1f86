// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/matteruser/pkg/connector/mattermostfmt"
)

// ---------------------------------------------------------------------------
// FuzzParsePostedEvent feeds arbitrary post JSON through the inbound
// pipeline. No input should cause a panic, and a delivered message always
// carries the post's channel as its room.
// ---------------------------------------------------------------------------

func FuzzParsePostedEvent(f *testing.F) {
	f.Add(`{"id":"p1","user_id":"u1","channel_id":"c1","message":"hello"}`, "O")
	f.Add(`{"id":"p1","user_id":"u1","channel_id":"c1","message":"### hi @bot"}`, "D")
	f.Add(`{"id":"p1","user_id":"bot-id","channel_id":"c1","message":"echo"}`, "O")
	f.Add(`{"id":"p1","user_id":"u1","channel_id":"c1","type":"system_join_channel"}`, "O")
	f.Add(`{"id":"p1","user_id":"u1","channel_id":"c1","file_ids":["f1"]}`, "P")
	f.Add(`{}`, "")
	f.Add(`not json`, "D")
	f.Add(string([]byte{0x00}), "O")

	mc, _ := newTestConnector(nil)

	f.Fuzz(func(t *testing.T, postJSON, channelType string) {
		evt := newWebSocketEvent(model.WebsocketEventPosted, "", map[string]any{
			"post":         postJSON,
			"sender_name":  "@someone",
			"channel_type": channelType,
		})
		msg, err := mc.parsePostedEvent(context.Background(), evt)
		if err != nil || msg == nil {
			return
		}
		var post model.Post
		if jsonErr := json.Unmarshal([]byte(postJSON), &post); jsonErr != nil {
			t.Fatalf("delivered a message from undecodable JSON: %v", jsonErr)
		}
		if msg.MessageRoom() != post.ChannelId {
			t.Errorf("room %q does not match channel %q", msg.MessageRoom(), post.ChannelId)
		}
		if msg.MessageUser() == nil || msg.MessageUser().ID != post.UserId {
			t.Errorf("user does not match author %q", post.UserId)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzShape checks the text shaping invariants for arbitrary bodies and bot
// names.
// ---------------------------------------------------------------------------

func FuzzShape(f *testing.F) {
	f.Add("hello", "bot", false)
	f.Add("### Hello @bot", "bot", false)
	f.Add("status?", "bot", true)
	f.Add("@bot: ping", "bot", true)
	f.Add("", "", true)
	f.Add("botany", "bot", false)
	f.Add("(", "a+b", true)

	f.Fuzz(func(t *testing.T, raw, botName string, direct bool) {
		shaped := mattermostfmt.Shape(raw, botName, direct)
		if shaped.RawText != raw {
			t.Errorf("RawText changed: %q -> %q", raw, shaped.RawText)
		}
		if direct && botName != "" && !mattermostfmt.StartsWithMention(shaped.Text, botName) {
			t.Errorf("direct text %q does not address %q", shaped.Text, botName)
		}
		if shaped.TrimmedText != strings.TrimSpace(shaped.TrimmedText) {
			t.Errorf("TrimmedText not trimmed: %q", shaped.TrimmedText)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzAttachmentList decodes arbitrary JSON as an attachment list. A single
// object always decodes to exactly one attachment.
// ---------------------------------------------------------------------------

func FuzzAttachmentList(f *testing.F) {
	f.Add(`{"text":"one"}`)
	f.Add(`[{"text":"one"},{"title":"two"}]`)
	f.Add(`null`)
	f.Add(`[]`)
	f.Add(`"x"`)
	f.Add(``)

	f.Fuzz(func(t *testing.T, input string) {
		var list AttachmentList
		if err := list.UnmarshalJSON([]byte(input)); err != nil {
			return
		}
		trimmed := strings.TrimSpace(input)
		if strings.HasPrefix(trimmed, "{") && len(list) != 1 {
			t.Errorf("object input %q decoded to %d attachments", input, len(list))
		}
		if _, err := toMattermostAttachments(list); err != nil {
			t.Errorf("decoded list failed to convert: %v", err)
		}
	})
}
