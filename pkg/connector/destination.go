// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// DestinationKind tells a channel post apart from a direct message.
type DestinationKind string

const (
	DestinationChannel DestinationKind = "channel"
	DestinationDM      DestinationKind = "dm"
)

// Destination is where an outbound message goes.
type Destination struct {
	Kind      DestinationKind
	UserID    string
	ChannelID string
}

// DMState is the resolution state of a user's direct-message channel.
type DMState int

const (
	DMUnresolved DMState = iota
	DMPending
	DMResolved
)

func (s DMState) String() string {
	switch s {
	case DMPending:
		return "pending"
	case DMResolved:
		return "resolved"
	default:
		return "unresolved"
	}
}

// DestinationResolver maps room tokens to channels. A token matching a known
// user name means a direct message to that user; the DM channel is created
// on first use and cached on the user record.
type DestinationResolver struct {
	identities *IdentityCache
	transport  chatTransport
	log        zerolog.Logger

	pendingLock sync.Mutex
	pending     map[string]int
}

func NewDestinationResolver(identities *IdentityCache, transport chatTransport, log zerolog.Logger) *DestinationResolver {
	return &DestinationResolver{
		identities: identities,
		transport:  transport,
		log:        log.With().Str("component", "resolver").Logger(),
		pending:    make(map[string]int),
	}
}

// State returns the DM resolution state of a user.
func (r *DestinationResolver) State(userID string) DMState {
	if r.identities.DMChannel(userID) != "" {
		return DMResolved
	}
	r.pendingLock.Lock()
	defer r.pendingLock.Unlock()
	if r.pending[userID] > 0 {
		return DMPending
	}
	return DMUnresolved
}

// Resolve turns a room token into a destination. A user name match always
// wins over a channel that shares the name. An unknown channel name is
// passed through as a literal channel ID.
func (r *DestinationResolver) Resolve(ctx context.Context, token string) (Destination, error) {
	if user := r.identities.ResolveByDisplayName(token); user != nil {
		channelID, err := r.resolveDM(ctx, user.ID)
		if err != nil {
			return Destination{}, err
		}
		return Destination{Kind: DestinationDM, UserID: user.ID, ChannelID: channelID}, nil
	}

	ch, err := r.transport.FindChannelByName(ctx, token)
	if err != nil {
		r.log.Warn().Err(err).Str("room", token).Msg("Channel lookup failed, using room as channel ID")
	}
	if ch != nil {
		return Destination{Kind: DestinationChannel, ChannelID: ch.Id}, nil
	}
	return Destination{Kind: DestinationChannel, ChannelID: token}, nil
}

// resolveDM returns the cached DM channel of a user or asks the server for
// it. Concurrent resolutions for the same user each issue their own call and
// the last one to finish wins.
func (r *DestinationResolver) resolveDM(ctx context.Context, userID string) (string, error) {
	if channelID := r.identities.DMChannel(userID); channelID != "" {
		return channelID, nil
	}

	r.markPending(userID)
	defer r.clearPending(userID)

	ch, err := r.transport.GetDirectMessageChannel(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get direct channel with %s: %w", userID, err)
	}
	if ch == nil || ch.Id == "" {
		return "", fmt.Errorf("failed to get direct channel with %s: empty response", userID)
	}
	r.identities.SetDMChannel(userID, ch.Id)
	r.log.Debug().Str("user_id", userID).Str("channel_id", ch.Id).Msg("Resolved direct channel")
	return ch.Id, nil
}

func (r *DestinationResolver) markPending(userID string) {
	r.pendingLock.Lock()
	r.pending[userID]++
	r.pendingLock.Unlock()
}

func (r *DestinationResolver) clearPending(userID string) {
	r.pendingLock.Lock()
	r.pending[userID]--
	if r.pending[userID] <= 0 {
		delete(r.pending, userID)
	}
	r.pendingLock.Unlock()
}
