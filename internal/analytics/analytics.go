package analytics

import (
	"context"
	"fmt"
	"strings"

	"statkeeper/internal/storage"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
)

type Context int

const (
	ContextGlobal Context = iota
	ContextGuild
	ContextChannel
)

func ParseContext(name string) (Context, error) {
	switch strings.ToLower(name) {
	case "global":
		return ContextGlobal, nil
	case "", "guild", "server":
		return ContextGuild, nil
	case "channel":
		return ContextChannel, nil
	default:
		return 0, fmt.Errorf("unknown leaderboard context %q", name)
	}
}

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// Leaderboard ranks users by messages sent. id is the guild or channel id and
// is ignored for the global context.
func (s *Service) Leaderboard(ctx context.Context, kind Context, id string, limit int) ([]storage.LeaderboardEntry, error) {
	limit = ClampLimit(limit)
	switch kind {
	case ContextGlobal:
		return s.store.GlobalLeaderboard(ctx, limit)
	case ContextGuild:
		return s.store.GuildLeaderboard(ctx, id, limit)
	case ContextChannel:
		return s.store.ChannelLeaderboard(ctx, id, limit)
	default:
		return nil, fmt.Errorf("unknown leaderboard context %d", kind)
	}
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Format renders entries as a silent chat message. where completes the
// sentence "Showing the top N users ...".
func Format(entries []storage.LeaderboardEntry, limit int, where string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@silent Messages Leaderboard.\nShowing the top %d users %s.", ClampLimit(limit), where)
	for i, entry := range entries {
		fmt.Fprintf(&b, "\n%d. <@%s> - %d", i+1, entry.UserID, entry.MessagesSent)
	}
	return b.String()
}
