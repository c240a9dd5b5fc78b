package audit

import (
	"context"
	"errors"
	"testing"

	"statkeeper/internal/counter"
	"statkeeper/internal/errsink/errsinktest"
	"statkeeper/internal/platform"
	"statkeeper/internal/platform/platformtest"
	"statkeeper/internal/reconcile"
	"statkeeper/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store        *storage.Store
	remote       *platformtest.Fake
	sink         *errsinktest.Recorder
	orchestrator *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(context.Background()))

	remote := platformtest.New()
	remote.AddGuild(platform.Guild{ID: "g1", Name: "One"},
		platform.Member{UserID: "u1", Username: "alice"},
		platform.Member{UserID: "u2", Username: "bob"},
	)
	remote.AddGuild(platform.Guild{ID: "g2", Name: "Two"},
		platform.Member{UserID: "u2", Username: "bob"},
	)
	remote.AddChannel(platform.Channel{ID: "c1", GuildID: "g1", Name: "general", Type: storage.ChannelText},
		platform.Message{ID: "m3", AuthorID: "u1"},
		platform.Message{ID: "m2", AuthorID: "u2"},
		platform.Message{ID: "m1", AuthorID: "u1"},
	)
	remote.AddChannel(platform.Channel{ID: "c2", GuildID: "g2", Name: "lobby", Type: storage.ChannelText},
		platform.Message{ID: "m4", AuthorID: "u2"},
	)

	sink := &errsinktest.Recorder{}
	logger := zap.NewNop()
	return &fixture{
		store:  store,
		remote: remote,
		sink:   sink,
		orchestrator: New(
			reconcile.New(store, remote, sink, logger),
			counter.New(store, remote, sink, logger),
			logger,
		),
	}
}

func TestUnauthorizedRequestsRunNothing(t *testing.T) {
	requests := map[string]Request{
		"denied":                {Tier: TierDenied},
		"guild admin, no guild": {Tier: TierGuildAdmin},
	}
	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			called := false
			_, err := f.orchestrator.Run(context.Background(), req, func(Update) { called = true })
			assert.ErrorIs(t, err, ErrNotAuthorized)
			assert.False(t, called)

			users, err := f.store.ListUsers(context.Background())
			require.NoError(t, err)
			assert.Empty(t, users)
		})
	}
}

func TestGlobalAuditRunsStagesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var updates []Update
	report, err := f.orchestrator.Run(ctx, Request{Tier: TierGlobalAdmin}, func(u Update) { updates = append(updates, u) })
	require.NoError(t, err)

	stages := make([]Stage, 0, len(updates))
	for _, update := range updates {
		stages = append(stages, update.Stage)
	}
	assert.Equal(t, []Stage{StageUsers, StageGuilds, StageChannels, StageMessages, StageDone}, stages)
	assert.Equal(t, PlanAll, report.Completed)

	member, err := f.store.GetChannelMember(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), member.MessagesSent)
	member, err = f.store.GetChannelMember(ctx, "u2", "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), member.MessagesSent)
}

func TestFailingGuildDoesNotFailAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.MembersErr["g2"] = errors.New("members unavailable")

	report, err := f.orchestrator.Run(ctx, Request{Tier: TierGlobalAdmin}, nil)
	require.NoError(t, err)
	assert.Equal(t, PlanAll, report.Completed)
	assert.Equal(t, []string{"g2"}, report.Users.Skipped)
	assert.Equal(t, []string{"g2"}, report.Guilds.Skipped)
	assert.Equal(t, []string{"g2"}, report.Messages.Skipped)
	assert.NotEmpty(t, f.sink.Reports())

	member, err := f.store.GetChannelMember(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), member.MessagesSent)
}

func TestGuildListingFailureStopsAudit(t *testing.T) {
	f := newFixture(t)
	f.remote.GuildsErr = errors.New("gateway down")

	report, err := f.orchestrator.Run(context.Background(), Request{Tier: TierGlobalAdmin}, nil)
	assert.Error(t, err)
	assert.Empty(t, report.Completed)
}

func TestGuildAdminAuditStaysInGuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.orchestrator.Run(ctx, Request{Tier: TierGuildAdmin, GuildID: "g2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, reconcile.SingleGuild("g2"), report.Scope)

	guilds, err := f.store.ListGuilds(ctx)
	require.NoError(t, err)
	require.Len(t, guilds, 1)
	assert.Equal(t, "g2", guilds[0].ID)
	assert.Zero(t, f.remote.Calls("c1"))
}

func TestSingleStagePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.orchestrator.Run(ctx, Request{Tier: TierGlobalAdmin, Stages: PlanUsers}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Users.Created)
	assert.Equal(t, PlanUsers, report.Completed)

	guilds, err := f.store.ListGuilds(ctx)
	require.NoError(t, err)
	assert.Empty(t, guilds)
}

func TestMessagesOnlyAuditCountsCurrentMembers(t *testing.T) {
	plans := map[string][][]Stage{
		"fresh store":         {PlanMessages},
		"users then messages": {PlanUsers, PlanMessages},
	}
	for name, runs := range plans {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			var report Report
			for _, plan := range runs {
				var err error
				report, err = f.orchestrator.Run(ctx, Request{Tier: TierGlobalAdmin, Stages: plan}, nil)
				require.NoError(t, err)
			}
			assert.Equal(t, 3, report.Messages.Written)

			member, err := f.store.GetChannelMember(ctx, "u1", "c1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), member.MessagesSent)
			member, err = f.store.GetChannelMember(ctx, "u2", "c1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), member.MessagesSent)
			member, err = f.store.GetChannelMember(ctx, "u2", "c2")
			require.NoError(t, err)
			assert.Equal(t, int64(1), member.MessagesSent)
		})
	}
}

func TestChecklist(t *testing.T) {
	global := reconcile.Global()
	assert.Equal(t,
		"Running global audit, this may take a while.\n- :green_square: Users\n- :red_square: Servers\n- :red_square: Channels\n- :red_square: Messages",
		Checklist(global, PlanAll, 1))
	assert.Equal(t,
		"Server audit completed.\n- :green_square: Users\n- :green_square: Servers\n- :green_square: Channels\n- :green_square: Messages",
		Checklist(reconcile.SingleGuild("g1"), PlanAll, 4))
	assert.Equal(t,
		"Running global audit, this may take a while.\n- :red_square: Messages",
		Checklist(global, PlanMessages, 0))
}

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan("all")
	require.NoError(t, err)
	assert.Equal(t, PlanAll, plan)

	plan, err = ParsePlan("Guilds")
	require.NoError(t, err)
	assert.Equal(t, PlanGuilds, plan)

	_, err = ParsePlan("everything")
	assert.Error(t, err)
}
