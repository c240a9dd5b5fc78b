package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ReactionType string

const (
	ReactionUnicode ReactionType = "unicode"
	ReactionDiscord ReactionType = "discord"
	ReactionGuild   ReactionType = "guild"
)

// Reaction is an emoji the bot adds to every message a user sends. GuildID and
// ChannelID narrow where it applies; both empty means everywhere.
type Reaction struct {
	ID        string
	Emoji     string
	EmojiID   string
	Type      ReactionType
	UserID    string
	GuildID   string
	ChannelID string
	CreatedAt time.Time
}

const reactionColumns = `id, emoji, emoji_id, type, user_id, guild_id, channel_id, created_at`

var reactionDecoder = decoder[Reaction]{
	entity: "reaction",
	fields: map[string]func(*Reaction) any{
		"id":         func(r *Reaction) any { return &r.ID },
		"emoji":      func(r *Reaction) any { return &r.Emoji },
		"emoji_id":   func(r *Reaction) any { return nullString{&r.EmojiID} },
		"type":       func(r *Reaction) any { return (*string)(&r.Type) },
		"user_id":    func(r *Reaction) any { return &r.UserID },
		"guild_id":   func(r *Reaction) any { return nullString{&r.GuildID} },
		"channel_id": func(r *Reaction) any { return nullString{&r.ChannelID} },
		"created_at": func(r *Reaction) any { return unixTime{&r.CreatedAt} },
	},
}

func (s *Store) AddReaction(ctx context.Context, reaction Reaction) (Reaction, error) {
	if reaction.ID == "" {
		reaction.ID = uuid.NewString()
	}
	created, err := queryOne(ctx, s, reactionDecoder, `
		INSERT INTO reactions (id, emoji, emoji_id, type, user_id, guild_id, channel_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+reactionColumns,
		reaction.ID,
		reaction.Emoji,
		nullable(reaction.EmojiID),
		string(reaction.Type),
		reaction.UserID,
		nullable(reaction.GuildID),
		nullable(reaction.ChannelID),
		s.now().Unix(),
	)
	if err != nil {
		return Reaction{}, fmt.Errorf("add reaction: %w", err)
	}
	return created, nil
}

// ReactionExists matches on user, emoji and the exact scope.
func (s *Store) ReactionExists(ctx context.Context, userID, emoji, guildID, channelID string) (bool, error) {
	items, err := queryAll(ctx, s, reactionDecoder, `
		SELECT `+reactionColumns+` FROM reactions
		WHERE user_id = ? AND emoji = ?
			AND COALESCE(guild_id, '') = ? AND COALESCE(channel_id, '') = ?`,
		userID, emoji, guildID, channelID)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (s *Store) ListUserReactions(ctx context.Context, userID string) ([]Reaction, error) {
	return queryAll(ctx, s, reactionDecoder, `
		SELECT `+reactionColumns+` FROM reactions WHERE user_id = ? ORDER BY created_at, id`, userID)
}

// ReactionsForMessage returns the reactions of userID that apply to a message
// posted in the given guild and channel.
func (s *Store) ReactionsForMessage(ctx context.Context, userID, guildID, channelID string) ([]Reaction, error) {
	return queryAll(ctx, s, reactionDecoder, `
		SELECT `+reactionColumns+` FROM reactions
		WHERE user_id = ?
			AND (guild_id IS NULL OR guild_id = ?)
			AND (channel_id IS NULL OR channel_id = ?)
		ORDER BY created_at, id`, userID, guildID, channelID)
}

func (s *Store) DeleteReaction(ctx context.Context, id string) error {
	return s.updateOne(ctx, "reaction", id, `DELETE FROM reactions WHERE id = ?`, id)
}
