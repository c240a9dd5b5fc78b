package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestMigrateIsRepeatable(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestGetOrCreateUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetOrCreateUser(ctx, "u1", nil)
	var missing *MissingCreationDataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "user", missing.Entity)

	user, err := store.GetOrCreateUser(ctx, "u1", &UserCreate{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.MessageTracking)
	assert.False(t, user.Admin)
	assert.False(t, user.CreatedAt.IsZero())

	again, err := store.GetOrCreateUser(ctx, "u1", &UserCreate{Username: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)

	existing, err := store.GetOrCreateUser(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, user.ID, existing.ID)
}

func TestUserSetters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetOrCreateUser(ctx, "u1", &UserCreate{Username: "alice"})
	require.NoError(t, err)

	require.NoError(t, store.SetUsername(ctx, "u1", "alicia"))
	require.NoError(t, store.SetUserTracking(ctx, "u1", false))
	require.NoError(t, store.SetUserAdmin(ctx, "u1", true))

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alicia", user.Username)
	assert.False(t, user.MessageTracking)
	assert.True(t, user.Admin)

	err = store.SetUsername(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChannelNullableGuild(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	dm, err := store.GetOrCreateChannel(ctx, "c1", &ChannelCreate{Name: "dm", Type: ChannelDM})
	require.NoError(t, err)
	assert.Empty(t, dm.GuildID)
	assert.Equal(t, ChannelDM, dm.Type)

	_, err = store.GetOrCreateGuild(ctx, "g1", &GuildCreate{Name: "guild"})
	require.NoError(t, err)
	text, err := store.GetOrCreateChannel(ctx, "c2", &ChannelCreate{GuildID: "g1", Name: "general"})
	require.NoError(t, err)
	assert.Equal(t, "g1", text.GuildID)
	assert.Equal(t, ChannelUnknown, text.Type)

	channels, err := store.ListGuildChannels(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "c2", channels[0].ID)
}

func TestDeleteGuildCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMember(t, store, "u1", "g1", "c1")

	require.NoError(t, store.DeleteGuild(ctx, "g1"))

	_, err := store.GetChannel(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetGuildMember(ctx, "u1", "g1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetChannelMember(ctx, "u1", "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetUser(ctx, "u1")
	assert.NoError(t, err)
}

func TestMessageCounters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMember(t, store, "u1", "g1", "c1")

	for i := 0; i < 3; i++ {
		require.NoError(t, store.IncrementMessages(ctx, "u1", "c1"))
	}
	member, err := store.GetChannelMember(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), member.MessagesSent)

	require.NoError(t, store.SetMessagesSent(ctx, "u1", "c1", 42))
	member, err = store.GetChannelMember(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), member.MessagesSent)
}

func TestListChannelMembers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMember(t, store, "u2", "g1", "c1")
	seedMember(t, store, "u1", "g1", "c1")
	seedMember(t, store, "u1", "g1", "c2")
	require.NoError(t, store.SetChannelMemberTracking(ctx, "u2", "c1", false))

	members, err := store.ListChannelMembers(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []ChannelMember{
		{UserID: "u1", ChannelID: "c1", MessageTracking: true},
		{UserID: "u2", ChannelID: "c1", MessageTracking: false},
	}, members)
}

func TestBannedUsersLeaveLeaderboards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMember(t, store, "u1", "g1", "c1")
	seedMember(t, store, "u2", "g1", "c1")
	require.NoError(t, store.SetMessagesSent(ctx, "u1", "c1", 5))
	require.NoError(t, store.SetMessagesSent(ctx, "u2", "c1", 7))

	require.NoError(t, store.SetUserBanned(ctx, "u2", true))
	user, err := store.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, user.Banned)

	channel, err := store.ChannelLeaderboard(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []LeaderboardEntry{{UserID: "u1", MessagesSent: 5}}, channel)
	global, err := store.GlobalLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []LeaderboardEntry{{UserID: "u1", MessagesSent: 5}}, global)

	assert.ErrorIs(t, store.SetUserBanned(ctx, "missing", true), ErrNotFound)
}

func TestGuildTrackingMap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMember(t, store, "u1", "g1", "c1")
	seedMember(t, store, "u2", "g1", "c1")
	seedMember(t, store, "u3", "g1", "c1")

	require.NoError(t, store.SetUserTracking(ctx, "u2", false))
	require.NoError(t, store.SetGuildMemberTracking(ctx, "u3", "g1", false))

	tracking, err := store.GuildTrackingMap(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"u1": true, "u2": false, "u3": false}, tracking)
}

func TestLeaderboards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMember(t, store, "u1", "g1", "c1")
	seedMember(t, store, "u2", "g1", "c1")
	seedMember(t, store, "u1", "g1", "c2")

	require.NoError(t, store.SetMessagesSent(ctx, "u1", "c1", 5))
	require.NoError(t, store.SetMessagesSent(ctx, "u2", "c1", 7))
	require.NoError(t, store.SetMessagesSent(ctx, "u1", "c2", 4))

	channel, err := store.ChannelLeaderboard(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []LeaderboardEntry{{UserID: "u2", MessagesSent: 7}, {UserID: "u1", MessagesSent: 5}}, channel)

	guild, err := store.GuildLeaderboard(ctx, "g1", 10)
	require.NoError(t, err)
	assert.Equal(t, []LeaderboardEntry{{UserID: "u1", MessagesSent: 9}, {UserID: "u2", MessagesSent: 7}}, guild)

	require.NoError(t, store.SetUserTracking(ctx, "u1", false))
	global, err := store.GlobalLeaderboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []LeaderboardEntry{{UserID: "u2", MessagesSent: 7}}, global)
}

func TestReactions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	anywhere, err := store.AddReaction(ctx, Reaction{Emoji: "👍", Type: ReactionUnicode, UserID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, anywhere.ID)
	_, err = store.AddReaction(ctx, Reaction{Emoji: "<:cat:99>", EmojiID: "99", Type: ReactionGuild, UserID: "u1", GuildID: "g1"})
	require.NoError(t, err)
	_, err = store.AddReaction(ctx, Reaction{Emoji: "🔥", Type: ReactionUnicode, UserID: "u1", GuildID: "g1", ChannelID: "c9"})
	require.NoError(t, err)

	exists, err := store.ReactionExists(ctx, "u1", "👍", "", "")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = store.ReactionExists(ctx, "u1", "👍", "g1", "")
	require.NoError(t, err)
	assert.False(t, exists)

	applicable, err := store.ReactionsForMessage(ctx, "u1", "g1", "c1")
	require.NoError(t, err)
	emojis := make([]string, 0, len(applicable))
	for _, reaction := range applicable {
		emojis = append(emojis, reaction.Emoji)
	}
	assert.ElementsMatch(t, []string{"👍", "<:cat:99>"}, emojis)

	require.NoError(t, store.DeleteReaction(ctx, anywhere.ID))
	all, err := store.ListUserReactions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetSetting(ctx, SettingStatus)
	assert.ErrorIs(t, err, ErrNotFound)

	value, err := store.GetOrCreateSetting(ctx, SettingStatus)
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.SetSetting(ctx, SettingStatus, "counting"))
	value, err = store.GetSetting(ctx, SettingStatus)
	require.NoError(t, err)
	assert.Equal(t, "counting", value)
}

func TestRebind(t *testing.T) {
	store := &Store{driver: DriverPostgres}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2", store.rebind("UPDATE t SET a = ? WHERE b = ?"))

	store.driver = DriverSQLite
	assert.Equal(t, "SELECT ?", store.rebind("SELECT ?"))
}

func TestIsTooManyConnections(t *testing.T) {
	assert.True(t, IsTooManyConnections(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "53300"})))
	assert.False(t, IsTooManyConnections(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsTooManyConnections(errors.New("boom")))
}

func TestRetryRepeatsConnectionExhaustion(t *testing.T) {
	previous := retryInterval
	retryInterval = 0
	t.Cleanup(func() { retryInterval = previous })

	store := newTestStore(t)
	attempts := 0
	err := store.retry(context.Background(), func() error {
		attempts++
		if attempts < 4 {
			return &pgconn.PgError{Code: codeTooManyConnections}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, attempts)

	attempts = 0
	failure := errors.New("syntax error")
	err = store.retry(context.Background(), func() error {
		attempts++
		return failure
	})
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 1, attempts)
}

func TestDecodeRejectsUnmappedColumn(t *testing.T) {
	store := newTestStore(t)
	_, err := queryAll(context.Background(), store, settingDecoder, `SELECT key, value, 1 AS extra FROM settings`)
	require.NoError(t, err)

	require.NoError(t, store.SetSetting(context.Background(), "k", "v"))
	_, err = queryAll(context.Background(), store, settingDecoder, `SELECT key, value, 1 AS extra FROM settings`)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "extra", decodeErr.Column)
}

func seedMember(t *testing.T, store *Store, userID, guildID, channelID string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.GetOrCreateUser(ctx, userID, &UserCreate{Username: userID})
	require.NoError(t, err)
	_, err = store.GetOrCreateGuild(ctx, guildID, &GuildCreate{Name: guildID})
	require.NoError(t, err)
	_, err = store.GetOrCreateChannel(ctx, channelID, &ChannelCreate{GuildID: guildID, Name: channelID, Type: ChannelText})
	require.NoError(t, err)
	_, err = store.GetOrCreateGuildMember(ctx, userID, guildID)
	require.NoError(t, err)
	_, err = store.GetOrCreateChannelMember(ctx, userID, channelID)
	require.NoError(t, err)
}
