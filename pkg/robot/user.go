// Copyright 2024-2026 Aiku AI

package robot

import "maps"

// ProviderState is the chat-network-specific part of a user record. It
// mirrors every field the remote user object carries, plus the cached
// direct-message channel.
type ProviderState struct {
	DMChannelID string         `yaml:"dm_channel_id,omitempty" json:"dm_channel_id,omitempty"`
	Fields      map[string]any `yaml:",inline" json:"-"`
}

// User is a normalized user record owned by the brain.
//
// Extra holds metadata attached by the framework or scripts (notes, roles,
// anything) that is not part of a remote profile snapshot. It survives
// profile refreshes.
type User struct {
	ID           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name" json:"name"`
	RealName     string         `yaml:"real_name,omitempty" json:"real_name,omitempty"`
	EmailAddress string         `yaml:"email_address,omitempty" json:"email_address,omitempty"`
	Room         string         `yaml:"room,omitempty" json:"room,omitempty"`
	Provider     ProviderState  `yaml:"mm" json:"mm"`
	Extra        map[string]any `yaml:",inline" json:"-"`
}

// NewUser creates a minimally populated user whose name is its ID.
func NewUser(id string) *User {
	return &User{ID: id, Name: id}
}

// Clone returns a copy of the user that shares no maps with the original.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Provider.Fields = maps.Clone(u.Provider.Fields)
	cp.Extra = maps.Clone(u.Extra)
	return &cp
}

// Get returns an extension value attached to the user.
func (u *User) Get(key string) (any, bool) {
	if u == nil || u.Extra == nil {
		return nil, false
	}
	val, ok := u.Extra[key]
	return val, ok
}

// Set attaches an extension value to the user.
func (u *User) Set(key string, val any) {
	if u.Extra == nil {
		u.Extra = make(map[string]any)
	}
	u.Extra[key] = val
}
