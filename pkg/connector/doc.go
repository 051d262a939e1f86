// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a robot adapter for Mattermost.
//
// It logs into the server as a regular user account, mirrors the team's user
// directory into the robot's brain, turns WebSocket events into canonical
// robot messages and sends the robot's answers back as posts.
//
// # Core Types
//
// [MattermostConnector] implements [robot.Adapter]. It owns the identity
// cache, the destination resolver and the transport, and subscribes its
// handlers to transport and robot events.
//
// [MattermostClient] is the transport: an authenticated REST session on
// model.Client4 plus a WebSocket connection that re-emits server events under
// stable names (message, user_added, profilesLoaded, ...).
//
// [IdentityCache] keeps brain user records in sync with server profiles. A
// refreshed profile never loses the cached direct-message channel or metadata
// attached by scripts.
//
// [DestinationResolver] maps a room token to a channel. A token naming a
// known user means a direct message, whose channel is created on first use.
//
// # Echo Prevention
//
// Posts authored by the bot account, posts from users on the ignore list and
// system posts never reach the robot.
//
// # Sub-packages
//
//   - mattermostfmt shapes inbound post text into the variants listeners
//     match against.
package connector
