package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ChannelType string

const (
	ChannelText     ChannelType = "text"
	ChannelVoice    ChannelType = "voice"
	ChannelCategory ChannelType = "category"
	ChannelNews     ChannelType = "news"
	ChannelStage    ChannelType = "stage"
	ChannelForum    ChannelType = "forum"
	ChannelThread   ChannelType = "thread"
	ChannelDM       ChannelType = "dm"
	ChannelUnknown  ChannelType = "unknown"
)

// Messageable reports whether the channel type carries a readable message history.
func (t ChannelType) Messageable() bool {
	return t == ChannelText || t == ChannelNews
}

type Channel struct {
	ID              string
	GuildID         string
	Name            string
	Type            ChannelType
	MessageTracking bool
	CreatedAt       time.Time
}

// ChannelCreate carries what a new channel row needs. GuildID is empty for DMs
// and cannot change once the row exists.
type ChannelCreate struct {
	GuildID string
	Name    string
	Type    ChannelType
}

const channelColumns = `id, guild_id, name, type, message_tracking, created_at`

var channelDecoder = decoder[Channel]{
	entity: "channel",
	fields: map[string]func(*Channel) any{
		"id":               func(c *Channel) any { return &c.ID },
		"guild_id":         func(c *Channel) any { return nullString{&c.GuildID} },
		"name":             func(c *Channel) any { return &c.Name },
		"type":             func(c *Channel) any { return (*string)(&c.Type) },
		"message_tracking": func(c *Channel) any { return &c.MessageTracking },
		"created_at":       func(c *Channel) any { return unixTime{&c.CreatedAt} },
	},
}

func (s *Store) GetChannel(ctx context.Context, id string) (Channel, error) {
	channel, err := queryOne(ctx, s, channelDecoder, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	if err != nil {
		return Channel{}, fmt.Errorf("get channel %s: %w", id, err)
	}
	return channel, nil
}

func (s *Store) GetOrCreateChannel(ctx context.Context, id string, create *ChannelCreate) (Channel, error) {
	channel, err := s.GetChannel(ctx, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return channel, err
	}
	if create == nil {
		return Channel{}, &MissingCreationDataError{Entity: "channel", ID: id}
	}
	kind := create.Type
	if kind == "" {
		kind = ChannelUnknown
	}

	channel, err = queryOne(ctx, s, channelDecoder, `
		INSERT INTO channels (id, guild_id, name, type, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+channelColumns, id, nullable(create.GuildID), create.Name, string(kind), s.now().Unix())
	if errors.Is(err, ErrNotFound) {
		return s.GetChannel(ctx, id)
	}
	if err != nil {
		return Channel{}, fmt.Errorf("create channel %s: %w", id, err)
	}
	return channel, nil
}

func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	return queryAll(ctx, s, channelDecoder, `SELECT `+channelColumns+` FROM channels ORDER BY id`)
}

func (s *Store) ListGuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	return queryAll(ctx, s, channelDecoder, `SELECT `+channelColumns+` FROM channels WHERE guild_id = ? ORDER BY id`, guildID)
}

func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM channels WHERE id = ?`, id)
	return err
}

func (s *Store) SetChannelName(ctx context.Context, id, name string) error {
	return s.updateOne(ctx, "channel", id, `UPDATE channels SET name = ? WHERE id = ?`, name, id)
}

func (s *Store) SetChannelType(ctx context.Context, id string, kind ChannelType) error {
	return s.updateOne(ctx, "channel", id, `UPDATE channels SET type = ? WHERE id = ?`, string(kind), id)
}

func (s *Store) SetChannelTracking(ctx context.Context, id string, enabled bool) error {
	return s.updateOne(ctx, "channel", id, `UPDATE channels SET message_tracking = ? WHERE id = ?`, enabled, id)
}
