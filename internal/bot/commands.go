package bot

import (
	"statkeeper/internal/analytics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var (
	minLimit = 1.0
	maxLimit = analytics.MaxLimit

	activityChoices = []*discordgo.ApplicationCommandOptionChoice{
		{Name: "playing", Value: "playing"},
		{Name: "streaming", Value: "streaming"},
		{Name: "listening", Value: "listening"},
		{Name: "watching", Value: "watching"},
		{Name: "custom", Value: "custom"},
		{Name: "competing", Value: "competing"},
	}
	scopeChoices = []*discordgo.ApplicationCommandOptionChoice{
		{Name: "global", Value: "global"},
		{Name: "server", Value: "server"},
		{Name: "channel", Value: "channel"},
	}
	auditChoices = []*discordgo.ApplicationCommandOptionChoice{
		{Name: "all", Value: "all"},
		{Name: "users", Value: "users"},
		{Name: "guilds", Value: "guilds"},
		{Name: "messages", Value: "messages"},
	}
)

func optionalBool(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionBoolean,
		Name:        name,
		Description: description,
	}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	dmPermission := false
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ping",
			Description: "Check the bot's latency",
		},
		{
			Name:        "status",
			Description: "Set the bot's status",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "status text",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "activity type",
					Required:    true,
					Choices:     activityChoices,
				},
			},
		},
		{
			Name:         "statistics",
			Description:  "Message statistics",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("leaderboard", "Show the most active users",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "context",
						Description: "where to rank users",
						Choices:     scopeChoices,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "limit",
						Description: "number of users to show",
						MinValue:    &minLimit,
						MaxValue:    float64(maxLimit),
					},
				),
				subcommand("audit", "Rebuild the statistics from the platform",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "stage",
						Description: "what to audit",
						Choices:     auditChoices,
					},
				),
			},
		},
		{
			Name:         "privacy",
			Description:  "Control which messages are counted",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("status", "Show which tracking settings apply here"),
				subcommand("opt-out", "Stop counting your messages everywhere"),
				subcommand("opt-in", "Count your messages again"),
				subcommand("out", "Stop counting your messages in one place",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "scope",
						Description: "where to stop counting",
						Required:    true,
						Choices:     scopeChoices,
					},
				),
				subcommand("in", "Count your messages again in one place",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "scope",
						Description: "where to count again",
						Required:    true,
						Choices:     scopeChoices,
					},
				),
				{
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Name:        "admin",
					Description: "Server and channel tracking",
					Options: []*discordgo.ApplicationCommandOption{
						subcommand("toggle-server", "Toggle message counting for this server",
							optionalBool("value", "force on or off"),
						),
						subcommand("toggle-channel", "Toggle message counting for a channel",
							&discordgo.ApplicationCommandOption{
								Type:         discordgo.ApplicationCommandOptionChannel,
								Name:         "channel",
								Description:  "target channel",
								Required:     true,
								ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeGuildVoice},
							},
							optionalBool("value", "force on or off"),
						),
					},
				},
			},
		},
		{
			Name:         "reactions",
			Description:  "Automatic reactions",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("list", "List automatic reactions",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "target user",
					},
				),
				subcommand("add", "React to every message of a user",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "emoji",
						Description: "emoji, :shortcode: or server emoji",
						Required:    true,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "target user",
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "only react in this channel",
					},
					optionalBool("server-only", "only react in this server"),
				),
				subcommand("remove", "Remove an automatic reaction",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "emoji",
						Description: "emoji to remove",
						Required:    true,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "target user",
					},
				),
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{}, len(commands))
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		if err := b.session.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
			b.logger.Warn("stale command delete failed", zap.String("command", cmd.Name), zap.Error(err))
		}
	}
	b.logger.Info("commands registered", zap.Int("count", len(commands)))
	return nil
}
