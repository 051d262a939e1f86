// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package robot is the chat-bot framework boundary the Mattermost adapter
// plugs into.
//
// A [Robot] owns a name, a [Brain] (the long-term user and key/value store),
// a set of listeners that receive canonical messages, and an [Emitter] for
// named framework events such as "connected" or the attachment-bridge events
// fired by other components. Chat networks are attached through the
// [Adapter] interface.
//
// Listeners are plain functions guarded by a [Matcher]. There is no script
// loader.
package robot
