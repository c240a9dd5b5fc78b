// Package counter recounts message history. For every readable text channel
// of a guild it pages backward through the full history, tallies messages per
// tracked author and overwrites the stored per-channel counters with the
// result.
package counter

import (
	"context"
	"errors"
	"fmt"

	"statkeeper/internal/errsink"
	"statkeeper/internal/platform"
	"statkeeper/internal/storage"

	"go.uber.org/zap"
)

type Platform interface {
	Members(ctx context.Context, guildID string) ([]platform.Member, error)
	Channels(ctx context.Context, guildID string) ([]platform.Channel, error)
	Messages(ctx context.Context, channelID, beforeID string) ([]platform.Message, error)
	CanRead(ctx context.Context, channel platform.Channel) (bool, error)
}

// DuplicateMessageError means the platform delivered a message id twice while
// paging, which breaks the paging contract and would corrupt counts.
type DuplicateMessageError struct {
	ChannelID string
	MessageID string
	Page      int
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("duplicate message %s in channel %s on page %d", e.MessageID, e.ChannelID, e.Page)
}

// Stats summarizes one guild pass.
type Stats struct {
	Channels int
	Pages    int
	Messages int
	Written  int
	// Skipped holds ids of channels, or of a guild whose member or channel listing failed.
	Skipped []string
}

func (s *Stats) Merge(other Stats) {
	s.Channels += other.Channels
	s.Pages += other.Pages
	s.Messages += other.Messages
	s.Written += other.Written
	s.Skipped = append(s.Skipped, other.Skipped...)
}

type Counter struct {
	store    *storage.Store
	platform Platform
	sink     errsink.Reporter
	logger   *zap.Logger
}

func New(store *storage.Store, client Platform, sink errsink.Reporter, logger *zap.Logger) *Counter {
	return &Counter{store: store, platform: client, sink: sink, logger: logger}
}

// CountGuild recounts every eligible channel of guild. Remote failures are
// reported and the affected guild or channel lands in Stats.Skipped; the
// returned error is reserved for store failures.
func (c *Counter) CountGuild(ctx context.Context, guild platform.Guild) (Stats, error) {
	var stats Stats
	local, err := c.store.GetOrCreateGuild(ctx, guild.ID, &storage.GuildCreate{Name: guild.Name})
	if err != nil {
		return stats, err
	}
	if !local.MessageTracking {
		c.logger.Info("guild tracking disabled, recount skipped", zap.String("guild_id", guild.ID))
		return stats, nil
	}

	members, err := c.platform.Members(ctx, guild.ID)
	if err != nil {
		c.skipGuild(ctx, &stats, guild.ID, "list members", err)
		return stats, nil
	}
	if err := c.ensureMembers(ctx, guild.ID, members); err != nil {
		return stats, err
	}

	tracking, err := c.store.GuildTrackingMap(ctx, guild.ID)
	if err != nil {
		return stats, err
	}

	channels, err := c.platform.Channels(ctx, guild.ID)
	if err != nil {
		c.skipGuild(ctx, &stats, guild.ID, "list channels", err)
		return stats, nil
	}

	for _, channel := range channels {
		eligible, err := c.eligible(ctx, channel)
		if err != nil {
			var remote *remoteError
			if errors.As(err, &remote) {
				c.skip(ctx, &stats, channel, remote.err)
				continue
			}
			return stats, err
		}
		if !eligible {
			continue
		}

		channelStats, err := c.countChannel(ctx, channel, tracking)
		if err != nil {
			var remote *remoteError
			if errors.As(err, &remote) {
				c.skip(ctx, &stats, channel, remote.err)
				continue
			}
			return stats, err
		}
		stats.Merge(channelStats)
	}

	c.logger.Info("guild messages recounted",
		zap.String("guild_id", guild.ID),
		zap.Int("channels", stats.Channels),
		zap.Int("pages", stats.Pages),
		zap.Int("messages", stats.Messages),
		zap.Int("written", stats.Written),
		zap.Int("skipped", len(stats.Skipped)),
	)
	return stats, nil
}

// ensureMembers mirrors the current members so authors without a local
// membership row still count under the default flags.
func (c *Counter) ensureMembers(ctx context.Context, guildID string, members []platform.Member) error {
	for _, member := range members {
		if _, err := c.store.GetOrCreateUser(ctx, member.UserID, &storage.UserCreate{Username: member.Username}); err != nil {
			return err
		}
		if _, err := c.store.GetOrCreateGuildMember(ctx, member.UserID, guildID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Counter) skipGuild(ctx context.Context, stats *Stats, guildID, step string, err error) {
	stats.Skipped = append(stats.Skipped, guildID)
	c.sink.Report(ctx, fmt.Errorf("recount guild %s: %s: %w", guildID, step, err), &errsink.Context{
		Command: "audit messages",
		GuildID: guildID,
	})
}

func (c *Counter) eligible(ctx context.Context, channel platform.Channel) (bool, error) {
	if !channel.Type.Messageable() {
		return false, nil
	}
	local, err := c.store.GetOrCreateChannel(ctx, channel.ID, &storage.ChannelCreate{
		GuildID: channel.GuildID,
		Name:    channel.Name,
		Type:    channel.Type,
	})
	if err != nil {
		return false, err
	}
	if !local.MessageTracking {
		return false, nil
	}
	readable, err := c.platform.CanRead(ctx, channel)
	if err != nil {
		return false, &remoteError{err: err}
	}
	return readable, nil
}

func (c *Counter) countChannel(ctx context.Context, channel platform.Channel, tracking map[string]bool) (Stats, error) {
	stats := Stats{Channels: 1}
	tally := make(map[string]int64)
	seen := newSeenWindow()
	before := ""

	for {
		page, err := c.platform.Messages(ctx, channel.ID, before)
		if errors.Is(err, platform.ErrNoAccess) {
			c.logger.Info("channel access revoked during recount",
				zap.String("channel_id", channel.ID),
				zap.Int("pages", stats.Pages),
			)
			return Stats{}, nil
		}
		if err != nil {
			return Stats{}, &remoteError{err: err}
		}
		if len(page) == 0 {
			break
		}

		stats.Pages++
		seen.next()
		for _, message := range page {
			if !seen.add(message.ID) {
				panic(&DuplicateMessageError{ChannelID: channel.ID, MessageID: message.ID, Page: stats.Pages})
			}
			stats.Messages++
			if tracking[message.AuthorID] {
				tally[message.AuthorID]++
			}
		}
		before = page[len(page)-1].ID
	}

	if len(tally) == 0 {
		return stats, nil
	}
	members, err := c.store.ListChannelMembers(ctx, channel.ID)
	if err != nil {
		return stats, err
	}
	optedIn := make(map[string]bool, len(members))
	for _, member := range members {
		optedIn[member.UserID] = member.MessageTracking
	}

	for userID, count := range tally {
		written, err := c.flush(ctx, userID, channel.ID, count, optedIn)
		if err != nil {
			return stats, err
		}
		if written {
			stats.Written++
		}
	}
	return stats, nil
}

// flush overwrites the stored counter unless the author opted out of this
// channel. optedIn holds the existing membership rows of the channel; authors
// without one get a row first.
func (c *Counter) flush(ctx context.Context, userID, channelID string, count int64, optedIn map[string]bool) (bool, error) {
	enabled, ok := optedIn[userID]
	if !ok {
		member, err := c.store.GetOrCreateChannelMember(ctx, userID, channelID)
		if err != nil {
			return false, err
		}
		enabled = member.MessageTracking
	}
	if !enabled {
		return false, nil
	}
	if err := c.store.SetMessagesSent(ctx, userID, channelID, count); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Counter) skip(ctx context.Context, stats *Stats, channel platform.Channel, err error) {
	stats.Skipped = append(stats.Skipped, channel.ID)
	c.sink.Report(ctx, fmt.Errorf("recount channel %s: %w", channel.ID, err), &errsink.Context{
		Command:   "audit messages",
		GuildID:   channel.GuildID,
		ChannelID: channel.ID,
	})
}

type remoteError struct{ err error }

func (e *remoteError) Error() string { return e.err.Error() }

func (e *remoteError) Unwrap() error { return e.err }
