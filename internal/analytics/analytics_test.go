package analytics

import (
	"context"
	"testing"

	"statkeeper/internal/storage"
)

func TestLeaderboardContexts(t *testing.T) {
	ctx := context.Background()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, userID := range []string{"u1", "u2"} {
		if _, err := store.GetOrCreateUser(ctx, userID, &storage.UserCreate{Username: userID}); err != nil {
			t.Fatalf("user: %v", err)
		}
	}
	if _, err := store.GetOrCreateGuild(ctx, "g1", &storage.GuildCreate{Name: "guild"}); err != nil {
		t.Fatalf("guild: %v", err)
	}
	if _, err := store.GetOrCreateChannel(ctx, "c1", &storage.ChannelCreate{GuildID: "g1", Name: "general", Type: storage.ChannelText}); err != nil {
		t.Fatalf("channel: %v", err)
	}
	for userID, sent := range map[string]int64{"u1": 3, "u2": 8} {
		if _, err := store.GetOrCreateGuildMember(ctx, userID, "g1"); err != nil {
			t.Fatalf("guild member: %v", err)
		}
		if _, err := store.GetOrCreateChannelMember(ctx, userID, "c1"); err != nil {
			t.Fatalf("channel member: %v", err)
		}
		if err := store.SetMessagesSent(ctx, userID, "c1", sent); err != nil {
			t.Fatalf("set messages: %v", err)
		}
	}

	service := New(store)
	for _, tc := range []struct {
		kind Context
		id   string
	}{
		{ContextGlobal, ""},
		{ContextGuild, "g1"},
		{ContextChannel, "c1"},
	} {
		entries, err := service.Leaderboard(ctx, tc.kind, tc.id, 0)
		if err != nil {
			t.Fatalf("leaderboard %d: %v", tc.kind, err)
		}
		if len(entries) != 2 || entries[0].UserID != "u2" || entries[0].MessagesSent != 8 {
			t.Fatalf("leaderboard %d: unexpected entries %+v", tc.kind, entries)
		}
	}

	entries, err := service.Leaderboard(ctx, ContextGuild, "g1", 1)
	if err != nil {
		t.Fatalf("limited leaderboard: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestFormat(t *testing.T) {
	entries := []storage.LeaderboardEntry{
		{UserID: "u2", MessagesSent: 8},
		{UserID: "u1", MessagesSent: 3},
	}
	got := Format(entries, 10, "globally")
	want := "@silent Messages Leaderboard.\nShowing the top 10 users globally.\n1. <@u2> - 8\n2. <@u1> - 3"
	if got != want {
		t.Fatalf("unexpected output:\n%s", got)
	}
}

func TestParseContext(t *testing.T) {
	if kind, err := ParseContext(""); err != nil || kind != ContextGuild {
		t.Fatalf("default context: %v %v", kind, err)
	}
	if _, err := ParseContext("planet"); err == nil {
		t.Fatal("expected error for unknown context")
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultLimit, 0: DefaultLimit, 5: 5, 500: MaxLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
