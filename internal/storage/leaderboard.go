package storage

import "context"

type LeaderboardEntry struct {
	UserID       string
	MessagesSent int64
}

var leaderboardDecoder = decoder[LeaderboardEntry]{
	entity: "leaderboard entry",
	fields: map[string]func(*LeaderboardEntry) any{
		"user_id":       func(e *LeaderboardEntry) any { return &e.UserID },
		"messages_sent": func(e *LeaderboardEntry) any { return &e.MessagesSent },
	},
}

func (s *Store) ChannelLeaderboard(ctx context.Context, channelID string, limit int) ([]LeaderboardEntry, error) {
	return queryAll(ctx, s, leaderboardDecoder, `
		SELECT user_id, messages_sent FROM channel_message_view
		WHERE scope_id = ? AND messages_sent > 0
		ORDER BY messages_sent DESC, user_id LIMIT ?`, channelID, limit)
}

func (s *Store) GuildLeaderboard(ctx context.Context, guildID string, limit int) ([]LeaderboardEntry, error) {
	return queryAll(ctx, s, leaderboardDecoder, `
		SELECT user_id, messages_sent FROM guild_message_view
		WHERE scope_id = ? AND messages_sent > 0
		ORDER BY messages_sent DESC, user_id LIMIT ?`, guildID, limit)
}

func (s *Store) GlobalLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return queryAll(ctx, s, leaderboardDecoder, `
		SELECT user_id, messages_sent FROM global_message_view
		WHERE messages_sent > 0
		ORDER BY messages_sent DESC, user_id LIMIT ?`, limit)
}
