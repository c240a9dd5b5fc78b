// Package privacy decides whether a message may be counted and applies the
// opt-in and opt-out switches.
//
// A message is counted only when every scope allows it: the user, the channel,
// the user's membership in that channel, the guild and the user's membership
// in that guild. Every flag defaults to true.
package privacy

import (
	"context"
	"errors"

	"statkeeper/internal/storage"
)

type Flags struct {
	User          bool
	Channel       bool
	ChannelMember bool
	Guild         bool
	GuildMember   bool
}

func (f Flags) Allowed() bool {
	return f.User && f.Channel && f.ChannelMember && f.Guild && f.GuildMember
}

type Resolver struct {
	store *storage.Store
}

func NewResolver(store *storage.Store) *Resolver {
	return &Resolver{store: store}
}

// MayCount loads the five flags one at a time and stops at the first one that
// is off. Rows that do not exist yet count as their default, true.
func (r *Resolver) MayCount(ctx context.Context, userID, guildID, channelID string) (bool, error) {
	checks := []func() (bool, error){
		func() (bool, error) {
			user, err := r.store.GetUser(ctx, userID)
			return user.MessageTracking, err
		},
		func() (bool, error) {
			channel, err := r.store.GetChannel(ctx, channelID)
			return channel.MessageTracking, err
		},
		func() (bool, error) {
			member, err := r.store.GetChannelMember(ctx, userID, channelID)
			return member.MessageTracking, err
		},
		func() (bool, error) {
			guild, err := r.store.GetGuild(ctx, guildID)
			return guild.MessageTracking, err
		},
		func() (bool, error) {
			member, err := r.store.GetGuildMember(ctx, userID, guildID)
			return member.MessageTracking, err
		},
	}

	for _, check := range checks {
		enabled, err := check()
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if !enabled {
			return false, nil
		}
	}
	return true, nil
}

// Flags reads all five flags without short-circuiting.
func (r *Resolver) Flags(ctx context.Context, userID, guildID, channelID string) (Flags, error) {
	flags := Flags{User: true, Channel: true, ChannelMember: true, Guild: true, GuildMember: true}

	if user, err := r.store.GetUser(ctx, userID); err == nil {
		flags.User = user.MessageTracking
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Flags{}, err
	}
	if channel, err := r.store.GetChannel(ctx, channelID); err == nil {
		flags.Channel = channel.MessageTracking
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Flags{}, err
	}
	if member, err := r.store.GetChannelMember(ctx, userID, channelID); err == nil {
		flags.ChannelMember = member.MessageTracking
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Flags{}, err
	}
	if guild, err := r.store.GetGuild(ctx, guildID); err == nil {
		flags.Guild = guild.MessageTracking
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Flags{}, err
	}
	if member, err := r.store.GetGuildMember(ctx, userID, guildID); err == nil {
		flags.GuildMember = member.MessageTracking
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Flags{}, err
	}
	return flags, nil
}
