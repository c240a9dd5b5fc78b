// Package reconcile brings the local mirror of users, guilds and channels in
// line with what the platform reports. Remote state is authoritative: missing
// rows are created, drifted names and types are overwritten and rows that no
// longer exist remotely are deleted.
package reconcile

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
	Guilds(ctx context.Context) ([]platform.Guild, error)
	Guild(ctx context.Context, guildID string) (platform.Guild, error)
	Members(ctx context.Context, guildID string) ([]platform.Member, error)
	Channels(ctx context.Context, guildID string) ([]platform.Channel, error)
}

// Scope selects every guild the bot is in, or a single guild.
type Scope struct {
	GuildID string
}

func Global() Scope { return Scope{} }

func SingleGuild(guildID string) Scope { return Scope{GuildID: guildID} }

func (s Scope) IsGlobal() bool { return s.GuildID == "" }

// Result counts row changes. Skipped lists guilds whose remote listing failed.
type Result struct {
	Created int
	Updated int
	Deleted int
	Skipped []string
}

func (r *Result) merge(other Result) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Skipped = append(r.Skipped, other.Skipped...)
}

type Reconciler struct {
	store    *storage.Store
	platform Platform
	sink     errsink.Reporter
	logger   *zap.Logger
}

func New(store *storage.Store, client Platform, sink errsink.Reporter, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, platform: client, sink: sink, logger: logger}
}

// ScopeGuilds resolves the guilds covered by scope. A failure here aborts the
// calling pass since nothing can be reconciled without it.
func (r *Reconciler) ScopeGuilds(ctx context.Context, scope Scope) ([]platform.Guild, error) {
	if scope.IsGlobal() {
		guilds, err := r.platform.Guilds(ctx)
		if err != nil {
			return nil, fmt.Errorf("list guilds: %w", err)
		}
		return guilds, nil
	}
	guild, err := r.platform.Guild(ctx, scope.GuildID)
	if err != nil {
		return nil, fmt.Errorf("get guild %s: %w", scope.GuildID, err)
	}
	return []platform.Guild{guild}, nil
}

// Users mirrors every member of the guilds in scope. The global pass also
// deletes users that are no longer in any guild, unless a guild's member list
// could not be read: a partial listing must not prune live users.
func (r *Reconciler) Users(ctx context.Context, scope Scope) (Result, error) {
	var result Result
	guilds, err := r.ScopeGuilds(ctx, scope)
	if err != nil {
		return result, err
	}

	seen := make(map[string]struct{})
	for _, guild := range guilds {
		members, err := r.platform.Members(ctx, guild.ID)
		if err != nil {
			r.skip(ctx, &result, "users", guild.ID, err)
			continue
		}
		for _, member := range members {
			seen[member.UserID] = struct{}{}
			if err := r.upsertUser(ctx, member, &result); err != nil {
				return result, err
			}
		}
	}

	if scope.IsGlobal() {
		if len(result.Skipped) > 0 {
			r.logger.Warn("user prune skipped after incomplete member listing", zap.Strings("skipped_guilds", result.Skipped))
		} else {
			users, err := r.store.ListUsers(ctx)
			if err != nil {
				return result, err
			}
			for _, user := range users {
				if _, ok := seen[user.ID]; ok {
					continue
				}
				if err := r.store.DeleteUser(ctx, user.ID); err != nil {
					return result, err
				}
				result.Deleted++
			}
		}
	}

	r.logger.Info("users reconciled", resultFields(scope, result)...)
	return result, nil
}

// Guilds mirrors the guild rows and the memberships of their members. The
// global pass deletes guilds the bot is no longer in.
func (r *Reconciler) Guilds(ctx context.Context, scope Scope) (Result, error) {
	var result Result
	guilds, err := r.ScopeGuilds(ctx, scope)
	if err != nil {
		return result, err
	}

	for _, guild := range guilds {
		if err := r.upsertGuild(ctx, guild, &result); err != nil {
			return result, err
		}
		members, err := r.platform.Members(ctx, guild.ID)
		if err != nil {
			r.skip(ctx, &result, "guilds", guild.ID, err)
			continue
		}
		for _, member := range members {
			if err := r.upsertUser(ctx, member, &result); err != nil {
				return result, err
			}
			if err := r.ensureGuildMember(ctx, member.UserID, guild.ID, &result); err != nil {
				return result, err
			}
		}
	}

	if scope.IsGlobal() {
		remote := make(map[string]struct{}, len(guilds))
		for _, guild := range guilds {
			remote[guild.ID] = struct{}{}
		}
		local, err := r.store.ListGuilds(ctx)
		if err != nil {
			return result, err
		}
		for _, guild := range local {
			if _, ok := remote[guild.ID]; ok {
				continue
			}
			if err := r.store.DeleteGuild(ctx, guild.ID); err != nil {
				return result, err
			}
			result.Deleted++
		}
	}

	r.logger.Info("guilds reconciled", resultFields(scope, result)...)
	return result, nil
}

// Channels mirrors each guild's channels and deletes local channels of that
// guild that no longer exist remotely. The global pass also deletes channels
// of guilds the bot is no longer in.
func (r *Reconciler) Channels(ctx context.Context, scope Scope) (Result, error) {
	var result Result
	guilds, err := r.ScopeGuilds(ctx, scope)
	if err != nil {
		return result, err
	}

	for _, guild := range guilds {
		guildResult, err := r.guildChannels(ctx, guild)
		if err != nil {
			var remote *remoteError
			if errors.As(err, &remote) {
				r.skip(ctx, &result, "channels", guild.ID, remote.err)
				continue
			}
			return result, err
		}
		result.merge(guildResult)
	}

	if scope.IsGlobal() {
		deleted, err := r.sweepOrphanChannels(ctx, guilds)
		if err != nil {
			return result, err
		}
		result.Deleted += deleted
	}

	r.logger.Info("channels reconciled", resultFields(scope, result)...)
	return result, nil
}

func (r *Reconciler) guildChannels(ctx context.Context, guild platform.Guild) (Result, error) {
	var result Result
	channels, err := r.platform.Channels(ctx, guild.ID)
	if err != nil {
		return result, &remoteError{err: err}
	}
	if err := r.upsertGuild(ctx, guild, &result); err != nil {
		return result, err
	}

	remote := make(map[string]struct{}, len(channels))
	for _, channel := range channels {
		remote[channel.ID] = struct{}{}
		if err := r.upsertChannel(ctx, channel, &result); err != nil {
			return result, err
		}
	}

	local, err := r.store.ListGuildChannels(ctx, guild.ID)
	if err != nil {
		return result, err
	}
	for _, channel := range local {
		if _, ok := remote[channel.ID]; ok {
			continue
		}
		if err := r.store.DeleteChannel(ctx, channel.ID); err != nil {
			return result, err
		}
		result.Deleted++
	}
	return result, nil
}

func (r *Reconciler) sweepOrphanChannels(ctx context.Context, guilds []platform.Guild) (int, error) {
	remote := make(map[string]struct{}, len(guilds))
	for _, guild := range guilds {
		remote[guild.ID] = struct{}{}
	}
	local, err := r.store.ListChannels(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, channel := range local {
		if channel.GuildID == "" {
			continue
		}
		if _, ok := remote[channel.GuildID]; ok {
			continue
		}
		if err := r.store.DeleteChannel(ctx, channel.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (r *Reconciler) upsertUser(ctx context.Context, member platform.Member, result *Result) error {
	user, err := r.store.GetUser(ctx, member.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		if _, err := r.store.GetOrCreateUser(ctx, member.UserID, &storage.UserCreate{Username: member.Username}); err != nil {
			return err
		}
		result.Created++
		return nil
	}
	if err != nil {
		return err
	}
	if user.Username != member.Username {
		if err := r.store.SetUsername(ctx, member.UserID, member.Username); err != nil {
			return err
		}
		result.Updated++
	}
	return nil
}

func (r *Reconciler) upsertGuild(ctx context.Context, remote platform.Guild, result *Result) error {
	guild, err := r.store.GetGuild(ctx, remote.ID)
	if errors.Is(err, storage.ErrNotFound) {
		if _, err := r.store.GetOrCreateGuild(ctx, remote.ID, &storage.GuildCreate{Name: remote.Name}); err != nil {
			return err
		}
		result.Created++
		return nil
	}
	if err != nil {
		return err
	}
	if guild.Name != remote.Name {
		if err := r.store.SetGuildName(ctx, remote.ID, remote.Name); err != nil {
			return err
		}
		result.Updated++
	}
	return nil
}

func (r *Reconciler) upsertChannel(ctx context.Context, remote platform.Channel, result *Result) error {
	channel, err := r.store.GetChannel(ctx, remote.ID)
	if errors.Is(err, storage.ErrNotFound) {
		if _, err := r.store.GetOrCreateChannel(ctx, remote.ID, &storage.ChannelCreate{
			GuildID: remote.GuildID,
			Name:    remote.Name,
			Type:    remote.Type,
		}); err != nil {
			return err
		}
		result.Created++
		return nil
	}
	if err != nil {
		return err
	}

	changed := false
	if channel.Name != remote.Name {
		if err := r.store.SetChannelName(ctx, remote.ID, remote.Name); err != nil {
			return err
		}
		changed = true
	}
	if channel.Type != remote.Type {
		if err := r.store.SetChannelType(ctx, remote.ID, remote.Type); err != nil {
			return err
		}
		changed = true
	}
	if changed {
		result.Updated++
	}
	return nil
}

func (r *Reconciler) ensureGuildMember(ctx context.Context, userID, guildID string, result *Result) error {
	_, err := r.store.GetGuildMember(ctx, userID, guildID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if _, err := r.store.GetOrCreateGuildMember(ctx, userID, guildID); err != nil {
		return err
	}
	result.Created++
	return nil
}

func (r *Reconciler) skip(ctx context.Context, result *Result, stage, guildID string, err error) {
	result.Skipped = append(result.Skipped, guildID)
	r.sink.Report(ctx, fmt.Errorf("reconcile %s for guild %s: %w", stage, guildID, err), &errsink.Context{
		Command: "audit " + stage,
		GuildID: guildID,
	})
}

// remoteError marks a platform failure that only affects one guild.
type remoteError struct{ err error }

func (e *remoteError) Error() string { return e.err.Error() }

func (e *remoteError) Unwrap() error { return e.err }

func resultFields(scope Scope, result Result) []zap.Field {
	return []zap.Field{
		zap.Bool("global", scope.IsGlobal()),
		zap.String("guild_id", scope.GuildID),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Int("skipped", len(result.Skipped)),
	}
}
