package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"statkeeper/internal/analytics"
	"statkeeper/internal/audit"
	"statkeeper/internal/privacy"
	"statkeeper/internal/reactions"
	"statkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(list []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(list))
	for _, opt := range list {
		m[opt.Name] = opt
	}
	return m
}

func (o options) stringValue(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o options) intValue(name string) int {
	if opt, ok := o[name]; ok {
		return int(opt.IntValue())
	}
	return 0
}

func (o options) boolValue(name string) *bool {
	if opt, ok := o[name]; ok {
		value := opt.BoolValue()
		return &value
	}
	return nil
}

// id returns the snowflake of a user or channel option.
func (o options) id(name string) string {
	if opt, ok := o[name]; ok {
		if value, ok := opt.Value.(string); ok {
			return value
		}
	}
	return ""
}

// subcommandPath flattens groups and subcommands into a path such as
// "admin toggle-server" plus the leaf options.
func subcommandPath(list []*discordgo.ApplicationCommandInteractionDataOption) (string, options) {
	var path []string
	for len(list) == 1 {
		opt := list[0]
		if opt.Type != discordgo.ApplicationCommandOptionSubCommand && opt.Type != discordgo.ApplicationCommandOptionSubCommandGroup {
			break
		}
		path = append(path, opt.Name)
		list = opt.Options
	}
	return strings.Join(path, " "), optionMap(list)
}

func parseActivityType(name string) (discordgo.ActivityType, bool) {
	switch strings.ToLower(name) {
	case "playing", "":
		return discordgo.ActivityTypeGame, true
	case "streaming":
		return discordgo.ActivityTypeStreaming, true
	case "listening":
		return discordgo.ActivityTypeListening, true
	case "watching":
		return discordgo.ActivityTypeWatching, true
	case "custom":
		return discordgo.ActivityTypeCustom, true
	case "competing":
		return discordgo.ActivityTypeCompeting, true
	default:
		return 0, false
	}
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	path, opts := subcommandPath(data.Options)
	b.logger.Debug("command received",
		zap.String("command", strings.TrimSpace(data.Name+" "+path)),
		zap.String("guild_id", interaction.GuildID),
		zap.String("user_id", interactionUser(interaction).ID),
	)

	switch data.Name {
	case "ping":
		b.respond(interaction, fmt.Sprintf("Pong! %dms", session.HeartbeatLatency().Milliseconds()), false)
	case "status":
		b.handleStatus(ctx, interaction, opts)
	case "statistics":
		switch path {
		case "leaderboard":
			b.handleLeaderboard(ctx, interaction, opts)
		case "audit":
			b.handleAudit(ctx, interaction, opts)
		}
	case "privacy":
		b.handlePrivacy(ctx, interaction, path, opts)
	case "reactions":
		b.handleReactions(ctx, interaction, path, opts)
	}
}

func (b *Bot) handleStatus(ctx context.Context, interaction *discordgo.InteractionCreate, opts options) {
	b.respond(interaction, "Updating status...", true)

	tier, err := b.permissionTier(ctx, interaction)
	if err != nil {
		b.fail(ctx, interaction, "status", err)
		return
	}
	if tier != audit.TierGlobalAdmin {
		b.edit(interaction, replyDenied)
		return
	}

	text, kindName := opts.stringValue("text"), opts.stringValue("type")
	kind, ok := parseActivityType(kindName)
	if !ok {
		b.edit(interaction, fmt.Sprintf("Unknown activity type %q.", kindName))
		return
	}
	if err := b.store.SetSetting(ctx, storage.SettingStatus, text); err != nil {
		b.fail(ctx, interaction, "status", err)
		return
	}
	if err := b.store.SetSetting(ctx, storage.SettingStatusType, strings.ToLower(kindName)); err != nil {
		b.fail(ctx, interaction, "status", err)
		return
	}
	if err := b.platform.UpdateStatus(text, kind); err != nil {
		b.fail(ctx, interaction, "status", err)
		return
	}
	b.edit(interaction, "Status updated.")
}

func (b *Bot) handleLeaderboard(ctx context.Context, interaction *discordgo.InteractionCreate, opts options) {
	kind, err := analytics.ParseContext(opts.stringValue("context"))
	if err != nil {
		b.respond(interaction, err.Error(), true)
		return
	}
	limit := analytics.ClampLimit(opts.intValue("limit"))
	b.respond(interaction, "Loading leaderboard...", false)

	var id, where string
	switch kind {
	case analytics.ContextGlobal:
		tier, err := b.permissionTier(ctx, interaction)
		if err != nil {
			b.fail(ctx, interaction, "statistics leaderboard", err)
			return
		}
		if tier != audit.TierGlobalAdmin {
			b.edit(interaction, replyDenied)
			return
		}
		where = "globally"
	case analytics.ContextGuild:
		id = interaction.GuildID
		guild, err := b.platform.Guild(ctx, id)
		if err != nil {
			b.fail(ctx, interaction, "statistics leaderboard", err)
			return
		}
		where = "in " + guild.Name
	case analytics.ContextChannel:
		id = interaction.ChannelID
		where = "in <#" + id + ">"
	}

	entries, err := b.analytics.Leaderboard(ctx, kind, id, limit)
	if err != nil {
		b.fail(ctx, interaction, "statistics leaderboard", err)
		return
	}
	b.edit(interaction, analytics.Format(entries, limit, where))
}

func (b *Bot) handleAudit(ctx context.Context, interaction *discordgo.InteractionCreate, opts options) {
	plan, err := audit.ParsePlan(opts.stringValue("stage"))
	if err != nil {
		b.respond(interaction, err.Error(), true)
		return
	}
	tier, err := b.permissionTier(ctx, interaction)
	if err != nil {
		b.report(ctx, interaction, "statistics audit", err)
		b.respond(interaction, replyFailed, true)
		return
	}

	req := audit.Request{Tier: tier, GuildID: interaction.GuildID, Stages: plan}
	scope, err := req.Scope()
	if err != nil {
		b.respond(interaction, replyDenied, true)
		return
	}
	b.respond(interaction, audit.Checklist(scope, plan, 0), false)

	report, err := b.audit.Run(ctx, req, func(update audit.Update) {
		b.edit(interaction, update.Checklist())
	})
	if err != nil {
		b.fail(ctx, interaction, "statistics audit", err)
		return
	}
	b.logger.Info("audit finished",
		zap.String("user_id", interactionUser(interaction).ID),
		zap.Bool("global", report.Scope.IsGlobal()),
		zap.Int("stages", len(report.Completed)),
		zap.Int("messages", report.Messages.Messages),
	)
}

func (b *Bot) handlePrivacy(ctx context.Context, interaction *discordgo.InteractionCreate, path string, opts options) {
	b.respond(interaction, "Updating tracking...", true)

	caller := interactionUser(interaction)
	user := privacy.UserRef{ID: caller.ID, Username: caller.Username}
	guild, err := b.guildRef(ctx, interaction.GuildID)
	if err != nil {
		b.fail(ctx, interaction, "privacy", err)
		return
	}

	switch path {
	case "opt-out", "opt-in":
		enabled := path == "opt-in"
		err = b.privacy.SetUserTracking(ctx, user, enabled)
		if err == nil {
			b.edit(interaction, privacyReply("global", enabled, ""))
		}
	case "out", "in":
		enabled := path == "in"
		scope := opts.stringValue("scope")
		switch scope {
		case "global":
			err = b.privacy.SetUserTracking(ctx, user, enabled)
		case "server":
			err = b.privacy.SetGuildMemberTracking(ctx, user, guild, enabled)
		case "channel":
			var channel privacy.ChannelRef
			channel, err = b.channelRef(ctx, guild, interaction.ChannelID)
			if err == nil {
				err = b.privacy.SetChannelMemberTracking(ctx, user, channel, enabled)
			}
		default:
			b.edit(interaction, fmt.Sprintf("Unknown scope %q.", scope))
			return
		}
		if err == nil {
			b.edit(interaction, privacyReply(scope, enabled, interaction.ChannelID))
		}
	case "status":
		var channel privacy.ChannelRef
		channel, err = b.channelRef(ctx, guild, interaction.ChannelID)
		if err != nil {
			break
		}
		var flags privacy.Flags
		flags, err = b.resolver.Flags(ctx, user.ID, guild.ID, channel.ID)
		if err == nil {
			b.edit(interaction, formatFlags(flags, channel.ID))
		}
	case "admin toggle-server", "admin toggle-channel":
		err = b.handleToggle(ctx, interaction, path, guild, opts)
	}
	if err != nil {
		b.fail(ctx, interaction, "privacy "+path, err)
	}
}

func (b *Bot) handleToggle(ctx context.Context, interaction *discordgo.InteractionCreate, path string, guild privacy.GuildRef, opts options) error {
	tier, err := b.permissionTier(ctx, interaction)
	if err != nil {
		return err
	}
	if !canToggle(tier, interaction.GuildID, guild.ID) {
		b.edit(interaction, replyDenied)
		return nil
	}

	if path == "admin toggle-server" {
		enabled, err := b.privacy.ToggleGuild(ctx, guild, opts.boolValue("value"))
		if err != nil {
			return err
		}
		b.edit(interaction, fmt.Sprintf("Message counting in this server is now %s.", onOff(enabled)))
		return nil
	}

	channel, err := b.channelRef(ctx, guild, opts.id("channel"))
	if err != nil {
		return err
	}
	if channel.Guild.ID != guild.ID {
		b.edit(interaction, replyDenied)
		return nil
	}
	enabled, err := b.privacy.ToggleChannel(ctx, channel, opts.boolValue("value"))
	if err != nil {
		return err
	}
	b.edit(interaction, fmt.Sprintf("Message counting in <#%s> is now %s.", channel.ID, onOff(enabled)))
	return nil
}

func (b *Bot) handleReactions(ctx context.Context, interaction *discordgo.InteractionCreate, path string, opts options) {
	caller := interactionUser(interaction)
	target := caller.ID
	if id := opts.id("user"); id != "" {
		target = id
	}
	self := target == caller.ID

	b.respond(interaction, "Working on it...", path == "list")

	tier, err := b.permissionTier(ctx, interaction)
	if err != nil {
		b.fail(ctx, interaction, "reactions "+path, err)
		return
	}
	perms := memberPermissions(interaction)

	switch path {
	case "list":
		if !canListReactions(self, tier, perms) {
			b.edit(interaction, "You do not have permission to list reactions for other users.")
			return
		}
		list, err := b.reactions.List(ctx, target)
		if err != nil {
			b.fail(ctx, interaction, "reactions list", err)
			return
		}
		b.edit(interaction, formatReactions(list))
	case "add":
		if !canAddReactions(self, tier, perms) {
			b.edit(interaction, "You do not have permission to add reactions for other users.")
			return
		}
		scope := reactions.Scope{}
		if channelID := opts.id("channel"); channelID != "" {
			scope = reactions.Scope{GuildID: interaction.GuildID, ChannelID: channelID}
		} else if serverOnly := opts.boolValue("server-only"); serverOnly != nil && *serverOnly {
			scope = reactions.Scope{GuildID: interaction.GuildID}
		}
		emoji := opts.stringValue("emoji")
		if _, err := b.reactions.Add(ctx, target, emoji, scope); err != nil {
			if reply, ok := reactionErrorReply(err); ok {
				b.edit(interaction, reply)
				return
			}
			b.fail(ctx, interaction, "reactions add", err)
			return
		}
		b.edit(interaction, fmt.Sprintf("Added reaction %s to <@%s>.", emoji, target))
	case "remove":
		if !canRemoveReactions(self, tier, perms) {
			b.edit(interaction, "You do not have permission to remove reactions for other users.")
			return
		}
		removed, err := b.reactions.Remove(ctx, target, opts.stringValue("emoji"))
		if err != nil {
			if reply, ok := reactionErrorReply(err); ok {
				b.edit(interaction, reply)
				return
			}
			b.fail(ctx, interaction, "reactions remove", err)
			return
		}
		if removed == 1 {
			b.edit(interaction, "Removed reaction.")
			return
		}
		b.edit(interaction, fmt.Sprintf("Removed %d reactions.", removed))
	}
}

func (b *Bot) guildRef(ctx context.Context, guildID string) (privacy.GuildRef, error) {
	guild, err := b.platform.Guild(ctx, guildID)
	if err != nil {
		return privacy.GuildRef{}, err
	}
	return privacy.GuildRef{ID: guild.ID, Name: guild.Name}, nil
}

func (b *Bot) channelRef(ctx context.Context, guild privacy.GuildRef, channelID string) (privacy.ChannelRef, error) {
	channel, err := b.platform.Channel(ctx, channelID)
	if err != nil {
		return privacy.ChannelRef{}, err
	}
	ref := privacy.ChannelRef{ID: channel.ID, Guild: guild, Name: channel.Name, Type: channel.Type}
	if channel.GuildID != guild.ID {
		ref.Guild = privacy.GuildRef{ID: channel.GuildID}
	}
	return ref, nil
}

func privacyReply(scope string, enabled bool, channelID string) string {
	if !enabled {
		switch scope {
		case "server":
			return "Opt out completed. Your messages will no longer be counted by the bot in this server."
		case "channel":
			return fmt.Sprintf("Opt out completed. Your messages will no longer be counted by the bot in <#%s>.", channelID)
		default:
			return "Opt out completed. Your messages will no longer be counted by the bot."
		}
	}
	switch scope {
	case "server":
		return "Opt in completed. Your messages will now be counted by the bot.\n" +
			"Please note that this will not overwrite any more specific tracking rules, so if you have disabled tracking for a specific channel, that setting will still apply."
	case "channel":
		return "Opt in completed. Your messages will now be counted by the bot."
	default:
		return "Opt in completed. Your messages will now be counted by the bot.\n" +
			"Please note that this will not overwrite any more specific tracking rules, so if you have disabled tracking for a specific channel or server, that setting will still apply."
	}
}

func formatFlags(flags privacy.Flags, channelID string) string {
	rows := []struct {
		label   string
		enabled bool
	}{
		{"You (everywhere)", flags.User},
		{"This server", flags.Guild},
		{"You in this server", flags.GuildMember},
		{fmt.Sprintf("<#%s>", channelID), flags.Channel},
		{fmt.Sprintf("You in <#%s>", channelID), flags.ChannelMember},
	}
	var b strings.Builder
	if flags.Allowed() {
		b.WriteString("Your messages here are counted.")
	} else {
		b.WriteString("Your messages here are not counted.")
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "\n- %s: %s", row.label, onOff(row.enabled))
	}
	return b.String()
}

func reactionErrorReply(err error) (string, bool) {
	switch {
	case errors.Is(err, reactions.ErrInvalidEmoji):
		return "That is not a valid emoji.", true
	case errors.Is(err, reactions.ErrUnavailable):
		return "The bot cannot use that emoji.", true
	case errors.Is(err, reactions.ErrDuplicate):
		return "That reaction already exists.", true
	case errors.Is(err, reactions.ErrNoReaction):
		return "No matching reaction found.", true
	default:
		return "", false
	}
}

func formatReactions(list []storage.Reaction) string {
	if len(list) == 0 {
		return "No reactions found."
	}
	var b strings.Builder
	for i, reaction := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "ID: `%s` | %s", reaction.ID, reaction.Emoji)
		if reaction.ChannelID != "" {
			fmt.Fprintf(&b, " | Channel: <#%s>", reaction.ChannelID)
		}
		if reaction.GuildID != "" {
			fmt.Fprintf(&b, " | Server: %s", reaction.GuildID)
		}
	}
	return truncate(b.String(), maxMessageLength)
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
