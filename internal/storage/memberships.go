package storage

import (
	"context"
	"errors"
	"fmt"
)

type GuildMember struct {
	UserID          string
	GuildID         string
	MessageTracking bool
}

type ChannelMember struct {
	UserID          string
	ChannelID       string
	MessageTracking bool
	MessagesSent    int64
}

const (
	guildMemberColumns   = `user_id, guild_id, message_tracking`
	channelMemberColumns = `user_id, channel_id, message_tracking, messages_sent`
)

var guildMemberDecoder = decoder[GuildMember]{
	entity: "guild member",
	fields: map[string]func(*GuildMember) any{
		"user_id":          func(m *GuildMember) any { return &m.UserID },
		"guild_id":         func(m *GuildMember) any { return &m.GuildID },
		"message_tracking": func(m *GuildMember) any { return &m.MessageTracking },
	},
}

var channelMemberDecoder = decoder[ChannelMember]{
	entity: "channel member",
	fields: map[string]func(*ChannelMember) any{
		"user_id":          func(m *ChannelMember) any { return &m.UserID },
		"channel_id":       func(m *ChannelMember) any { return &m.ChannelID },
		"message_tracking": func(m *ChannelMember) any { return &m.MessageTracking },
		"messages_sent":    func(m *ChannelMember) any { return &m.MessagesSent },
	},
}

func (s *Store) GetGuildMember(ctx context.Context, userID, guildID string) (GuildMember, error) {
	member, err := queryOne(ctx, s, guildMemberDecoder, `
		SELECT `+guildMemberColumns+` FROM guilds_users WHERE user_id = ? AND guild_id = ?`, userID, guildID)
	if err != nil {
		return GuildMember{}, fmt.Errorf("get guild member %s/%s: %w", guildID, userID, err)
	}
	return member, nil
}

// GetOrCreateGuildMember needs no creation data beyond the key, but both the
// user and the guild rows must already exist.
func (s *Store) GetOrCreateGuildMember(ctx context.Context, userID, guildID string) (GuildMember, error) {
	member, err := s.GetGuildMember(ctx, userID, guildID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return member, err
	}

	member, err = queryOne(ctx, s, guildMemberDecoder, `
		INSERT INTO guilds_users (user_id, guild_id) VALUES (?, ?)
		ON CONFLICT (user_id, guild_id) DO NOTHING
		RETURNING `+guildMemberColumns, userID, guildID)
	if errors.Is(err, ErrNotFound) {
		return s.GetGuildMember(ctx, userID, guildID)
	}
	if err != nil {
		return GuildMember{}, fmt.Errorf("create guild member %s/%s: %w", guildID, userID, err)
	}
	return member, nil
}

func (s *Store) ListGuildMembers(ctx context.Context, guildID string) ([]GuildMember, error) {
	return queryAll(ctx, s, guildMemberDecoder, `
		SELECT `+guildMemberColumns+` FROM guilds_users WHERE guild_id = ? ORDER BY user_id`, guildID)
}

func (s *Store) SetGuildMemberTracking(ctx context.Context, userID, guildID string, enabled bool) error {
	return s.updateOne(ctx, "guild member", guildID+"/"+userID,
		`UPDATE guilds_users SET message_tracking = ? WHERE user_id = ? AND guild_id = ?`, enabled, userID, guildID)
}

type trackingRow struct {
	UserID  string
	Enabled bool
}

var trackingDecoder = decoder[trackingRow]{
	entity: "guild tracking",
	fields: map[string]func(*trackingRow) any{
		"user_id": func(r *trackingRow) any { return &r.UserID },
		"enabled": func(r *trackingRow) any { return &r.Enabled },
	},
}

// GuildTrackingMap returns, for every locally known member of the guild, the
// combined user and guild-membership tracking flag.
func (s *Store) GuildTrackingMap(ctx context.Context, guildID string) (map[string]bool, error) {
	rows, err := queryAll(ctx, s, trackingDecoder, `
		SELECT gu.user_id AS user_id,
			CASE WHEN u.message_tracking AND gu.message_tracking THEN TRUE ELSE FALSE END AS enabled
		FROM guilds_users gu
		JOIN users u ON u.id = gu.user_id
		WHERE gu.guild_id = ?`, guildID)
	if err != nil {
		return nil, fmt.Errorf("guild tracking map %s: %w", guildID, err)
	}
	tracking := make(map[string]bool, len(rows))
	for _, row := range rows {
		tracking[row.UserID] = row.Enabled
	}
	return tracking, nil
}

func (s *Store) GetChannelMember(ctx context.Context, userID, channelID string) (ChannelMember, error) {
	member, err := queryOne(ctx, s, channelMemberDecoder, `
		SELECT `+channelMemberColumns+` FROM channels_users WHERE user_id = ? AND channel_id = ?`, userID, channelID)
	if err != nil {
		return ChannelMember{}, fmt.Errorf("get channel member %s/%s: %w", channelID, userID, err)
	}
	return member, nil
}

func (s *Store) GetOrCreateChannelMember(ctx context.Context, userID, channelID string) (ChannelMember, error) {
	member, err := s.GetChannelMember(ctx, userID, channelID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return member, err
	}

	member, err = queryOne(ctx, s, channelMemberDecoder, `
		INSERT INTO channels_users (user_id, channel_id) VALUES (?, ?)
		ON CONFLICT (user_id, channel_id) DO NOTHING
		RETURNING `+channelMemberColumns, userID, channelID)
	if errors.Is(err, ErrNotFound) {
		return s.GetChannelMember(ctx, userID, channelID)
	}
	if err != nil {
		return ChannelMember{}, fmt.Errorf("create channel member %s/%s: %w", channelID, userID, err)
	}
	return member, nil
}

func (s *Store) ListChannelMembers(ctx context.Context, channelID string) ([]ChannelMember, error) {
	return queryAll(ctx, s, channelMemberDecoder, `
		SELECT `+channelMemberColumns+` FROM channels_users WHERE channel_id = ? ORDER BY user_id`, channelID)
}

func (s *Store) SetChannelMemberTracking(ctx context.Context, userID, channelID string, enabled bool) error {
	return s.updateOne(ctx, "channel member", channelID+"/"+userID,
		`UPDATE channels_users SET message_tracking = ? WHERE user_id = ? AND channel_id = ?`, enabled, userID, channelID)
}

// IncrementMessages bumps the counter in a single statement so concurrent live
// messages never lose updates.
func (s *Store) IncrementMessages(ctx context.Context, userID, channelID string) error {
	return s.updateOne(ctx, "channel member", channelID+"/"+userID,
		`UPDATE channels_users SET messages_sent = messages_sent + 1 WHERE user_id = ? AND channel_id = ?`, userID, channelID)
}

// SetMessagesSent overwrites the counter with an audited total.
func (s *Store) SetMessagesSent(ctx context.Context, userID, channelID string, count int64) error {
	return s.updateOne(ctx, "channel member", channelID+"/"+userID,
		`UPDATE channels_users SET messages_sent = ? WHERE user_id = ? AND channel_id = ?`, count, userID, channelID)
}
