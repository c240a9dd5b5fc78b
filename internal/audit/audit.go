// Package audit sequences a full statistics audit: users, then guilds, then
// channels, then a message recount. Every stage depends on the rows written by
// the stages before it, so stages never overlap.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"statkeeper/internal/counter"
	"statkeeper/internal/reconcile"

	"go.uber.org/zap"
)

// ErrNotAuthorized rejects a request before any stage runs.
var ErrNotAuthorized = errors.New("audit: not authorized")

// Tier is the permission level of whoever asked for the audit.
type Tier int

const (
	TierDenied Tier = iota
	TierGlobalAdmin
	TierGuildAdmin
)

type Stage int

const (
	StageUsers Stage = iota
	StageGuilds
	StageChannels
	StageMessages
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageUsers:
		return "users"
	case StageGuilds:
		return "guilds"
	case StageChannels:
		return "channels"
	case StageMessages:
		return "messages"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) label() string {
	switch s {
	case StageUsers:
		return "Users"
	case StageGuilds:
		return "Servers"
	case StageChannels:
		return "Channels"
	case StageMessages:
		return "Messages"
	default:
		return s.String()
	}
}

// Plans accepted by the audit command.
var (
	PlanAll      = []Stage{StageUsers, StageGuilds, StageChannels, StageMessages}
	PlanUsers    = []Stage{StageUsers}
	PlanGuilds   = []Stage{StageGuilds}
	PlanMessages = []Stage{StageMessages}
)

// ParsePlan maps a command name (all, users, guilds, messages) to its stages.
func ParsePlan(name string) ([]Stage, error) {
	switch strings.ToLower(name) {
	case "", "all":
		return PlanAll, nil
	case "users":
		return PlanUsers, nil
	case "guilds", "servers":
		return PlanGuilds, nil
	case "channels":
		return []Stage{StageChannels}, nil
	case "messages":
		return PlanMessages, nil
	default:
		return nil, fmt.Errorf("unknown audit %q", name)
	}
}

type Request struct {
	Tier Tier
	// GuildID is the guild a guild admin invoked the audit from.
	GuildID string
	// Stages defaults to PlanAll.
	Stages []Stage
}

// Scope resolves the audit scope for the request, or ErrNotAuthorized.
func (r Request) Scope() (reconcile.Scope, error) {
	switch r.Tier {
	case TierGlobalAdmin:
		return reconcile.Global(), nil
	case TierGuildAdmin:
		if r.GuildID == "" {
			return reconcile.Scope{}, ErrNotAuthorized
		}
		return reconcile.SingleGuild(r.GuildID), nil
	default:
		return reconcile.Scope{}, ErrNotAuthorized
	}
}

// Update is handed to the progress callback when a stage starts and once more
// when the run is done.
type Update struct {
	Scope     reconcile.Scope
	Plan      []Stage
	Stage     Stage
	Completed int
}

func (u Update) Checklist() string {
	return Checklist(u.Scope, u.Plan, u.Completed)
}

// Checklist renders the operator-facing progress message with the first
// completed stages of plan ticked.
func Checklist(scope reconcile.Scope, plan []Stage, completed int) string {
	name := "server"
	if scope.IsGlobal() {
		name = "global"
	}

	var b strings.Builder
	if completed >= len(plan) {
		b.WriteString(strings.ToUpper(name[:1]) + name[1:] + " audit completed.")
	} else {
		b.WriteString("Running " + name + " audit, this may take a while.")
	}
	for i, stage := range plan {
		square := ":red_square:"
		if i < completed {
			square = ":green_square:"
		}
		b.WriteString("\n- " + square + " " + stage.label())
	}
	return b.String()
}

// Report collects what each stage did.
type Report struct {
	Scope     reconcile.Scope
	Users     reconcile.Result
	Guilds    reconcile.Result
	Channels  reconcile.Result
	Messages  counter.Stats
	Completed []Stage
}

type Orchestrator struct {
	reconciler *reconcile.Reconciler
	counter    *counter.Counter
	logger     *zap.Logger
}

func New(reconciler *reconcile.Reconciler, recounter *counter.Counter, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{reconciler: reconciler, counter: recounter, logger: logger}
}

// Run executes the request's stages in order. Per-guild failures are reported
// by the stages themselves and do not fail the run; a failed guild listing or a
// store failure stops the run at the current stage.
func (o *Orchestrator) Run(ctx context.Context, req Request, progress func(Update)) (Report, error) {
	scope, err := req.Scope()
	if err != nil {
		return Report{}, err
	}
	plan := req.Stages
	if len(plan) == 0 {
		plan = PlanAll
	}
	if progress == nil {
		progress = func(Update) {}
	}

	report := Report{Scope: scope}
	logger := o.logger.With(zap.Bool("global", scope.IsGlobal()), zap.String("guild_id", scope.GuildID))
	logger.Info("audit started", zap.Int("stages", len(plan)))

	for i, stage := range plan {
		progress(Update{Scope: scope, Plan: plan, Stage: stage, Completed: i})
		if err := o.runStage(ctx, scope, stage, &report); err != nil {
			logger.Error("audit stage failed", zap.Stringer("stage", stage), zap.Error(err))
			return report, fmt.Errorf("audit %s: %w", stage, err)
		}
		report.Completed = append(report.Completed, stage)
	}

	progress(Update{Scope: scope, Plan: plan, Stage: StageDone, Completed: len(plan)})
	logger.Info("audit completed",
		zap.Int("messages", report.Messages.Messages),
		zap.Int("counters_written", report.Messages.Written),
	)
	return report, nil
}

func (o *Orchestrator) runStage(ctx context.Context, scope reconcile.Scope, stage Stage, report *Report) error {
	var err error
	switch stage {
	case StageUsers:
		report.Users, err = o.reconciler.Users(ctx, scope)
	case StageGuilds:
		report.Guilds, err = o.reconciler.Guilds(ctx, scope)
	case StageChannels:
		report.Channels, err = o.reconciler.Channels(ctx, scope)
	case StageMessages:
		report.Messages, err = o.recount(ctx, scope)
	default:
		err = fmt.Errorf("unknown stage %s", stage)
	}
	return err
}

func (o *Orchestrator) recount(ctx context.Context, scope reconcile.Scope) (counter.Stats, error) {
	var total counter.Stats
	guilds, err := o.reconciler.ScopeGuilds(ctx, scope)
	if err != nil {
		return total, err
	}
	for _, guild := range guilds {
		stats, err := o.counter.CountGuild(ctx, guild)
		if err != nil {
			return total, fmt.Errorf("recount guild %s: %w", guild.ID, err)
		}
		total.Merge(stats)
	}
	return total, nil
}
