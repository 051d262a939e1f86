// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/matteruser/pkg/robot"
)

// RemoteUser is a profile snapshot as the server sent it.
type RemoteUser struct {
	ID        string
	Username  string
	Nickname  string
	FirstName string
	LastName  string
	Email     string
	// Fields is the raw key/value view of the server object.
	Fields map[string]any
}

// IdentityCache keeps the brain's user records in sync with the server's
// profiles. Records are never deleted.
type IdentityCache struct {
	brain *robot.Brain
	cfg   *Config
	log   zerolog.Logger
}

func NewIdentityCache(brain *robot.Brain, cfg *Config, log zerolog.Logger) *IdentityCache {
	return &IdentityCache{
		brain: brain,
		cfg:   cfg,
		log:   log.With().Str("component", "identity").Logger(),
	}
}

func (c *IdentityCache) draft(ru RemoteUser) *robot.User {
	params := RealnameParams{
		Username:  ru.Username,
		Nickname:  ru.Nickname,
		FirstName: ru.FirstName,
		LastName:  ru.LastName,
	}
	var realName string
	if c.cfg != nil {
		realName = c.cfg.FormatRealname(params)
	} else {
		realName = strings.TrimSpace(ru.FirstName + " " + ru.LastName)
	}
	name := ru.Username
	if name == "" {
		name = ru.ID
	}
	return &robot.User{
		ID:           ru.ID,
		Name:         name,
		RealName:     realName,
		EmailAddress: ru.Email,
		Provider: robot.ProviderState{
			Fields: ru.Fields,
		},
	}
}

// Upsert replaces the record for ru.ID with one built from the snapshot. The
// cached DM channel and every key the old record carries that the snapshot
// does not define are copied forward. An empty ID is ignored.
func (c *IdentityCache) Upsert(ru RemoteUser) *robot.User {
	if ru.ID == "" {
		return nil
	}
	c.log.Debug().Str("user_id", ru.ID).Msg("Adding user")
	draft := c.draft(ru)
	return c.brain.ReplaceUser(ru.ID, func(old *robot.User) *robot.User {
		if old == nil {
			return draft
		}
		if draft.Provider.DMChannelID == "" {
			draft.Provider.DMChannelID = old.Provider.DMChannelID
		}
		mergeMissing(draft, old)
		return draft
	})
}

// mergeMissing copies every key of old that draft leaves undefined.
func mergeMissing(draft, old *robot.User) {
	if draft.Room == "" {
		draft.Room = old.Room
	}
	for key, val := range old.Extra {
		if _, ok := draft.Extra[key]; !ok {
			draft.Set(key, val)
		}
	}
}

// Get returns the record for id, or nil.
func (c *IdentityCache) Get(id string) *robot.User {
	u, _ := c.brain.User(id)
	return u
}

// Ensure returns the record for id, creating a minimal one for a sender that
// was never seen in a profile load.
func (c *IdentityCache) Ensure(id string) *robot.User {
	return c.brain.UserForID(id, nil)
}

// ResolveByDisplayName returns the user whose name matches, ignoring case.
func (c *IdentityCache) ResolveByDisplayName(name string) *robot.User {
	return c.brain.UserForName(name)
}

// SetRoom stamps the channel a user was most recently seen in.
func (c *IdentityCache) SetRoom(id, channelID string) *robot.User {
	return c.brain.UpdateUser(id, func(u *robot.User) {
		u.Room = channelID
	})
}

// SetDMChannel caches the direct-message channel of a user.
func (c *IdentityCache) SetDMChannel(id, channelID string) *robot.User {
	return c.brain.UpdateUser(id, func(u *robot.User) {
		u.Provider.DMChannelID = channelID
	})
}

// DMChannel returns the cached direct-message channel of a user.
func (c *IdentityCache) DMChannel(id string) string {
	u, ok := c.brain.User(id)
	if !ok {
		return ""
	}
	return u.Provider.DMChannelID
}
