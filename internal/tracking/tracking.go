// Package tracking counts messages as they arrive.
package tracking

import (
	"context"

	"statkeeper/internal/privacy"
	"statkeeper/internal/storage"

	"go.uber.org/zap"
)

type Message struct {
	ID      string
	Author  privacy.UserRef
	Channel privacy.ChannelRef
}

type Tracker struct {
	store    *storage.Store
	resolver *privacy.Resolver
	logger   *zap.Logger
}

func New(store *storage.Store, resolver *privacy.Resolver, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, resolver: resolver, logger: logger}
}

// Record mirrors the author, guild, channel and both memberships, then bumps
// the author's counter for the channel if every scope allows it. A recount
// running at the same time may overwrite the bump; the recount wins.
func (t *Tracker) Record(ctx context.Context, msg Message) (bool, error) {
	author, channel, guild := msg.Author, msg.Channel, msg.Channel.Guild

	if _, err := t.store.GetOrCreateUser(ctx, author.ID, &storage.UserCreate{Username: author.Username}); err != nil {
		return false, err
	}
	if _, err := t.store.GetOrCreateGuild(ctx, guild.ID, &storage.GuildCreate{Name: guild.Name}); err != nil {
		return false, err
	}
	if _, err := t.store.GetOrCreateChannel(ctx, channel.ID, &storage.ChannelCreate{
		GuildID: guild.ID,
		Name:    channel.Name,
		Type:    channel.Type,
	}); err != nil {
		return false, err
	}
	if _, err := t.store.GetOrCreateGuildMember(ctx, author.ID, guild.ID); err != nil {
		return false, err
	}
	if _, err := t.store.GetOrCreateChannelMember(ctx, author.ID, channel.ID); err != nil {
		return false, err
	}

	allowed, err := t.resolver.MayCount(ctx, author.ID, guild.ID, channel.ID)
	if err != nil {
		return false, err
	}
	if !allowed {
		t.logger.Debug("message not counted",
			zap.String("message_id", msg.ID),
			zap.String("user_id", author.ID),
			zap.String("channel_id", channel.ID),
		)
		return false, nil
	}
	if err := t.store.IncrementMessages(ctx, author.ID, channel.ID); err != nil {
		return false, err
	}
	return true, nil
}
