package bot

import (
	"context"
	"errors"
	"fmt"

	"statkeeper/internal/analytics"
	"statkeeper/internal/audit"
	"statkeeper/internal/config"
	"statkeeper/internal/errsink"
	"statkeeper/internal/platform"
	"statkeeper/internal/privacy"
	"statkeeper/internal/reactions"
	"statkeeper/internal/storage"
	"statkeeper/internal/tracking"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	replyDenied = "You do not have permission to run this command."
	replyFailed = "An error occurred while executing the command. The error has been logged and the devs notified."
)

// Dependencies is everything the bot needs. All collaborators are built
// before the bot and never reach back into it.
type Dependencies struct {
	Config    config.Config
	Logger    *zap.Logger
	Session   *discordgo.Session
	Platform  *platform.Discord
	Store     *storage.Store
	Sink      errsink.Reporter
	Tracker   *tracking.Tracker
	Privacy   *privacy.Service
	Resolver  *privacy.Resolver
	Reactions *reactions.Service
	Audit     *audit.Orchestrator
	Analytics *analytics.Service
}

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	session   *discordgo.Session
	platform  *platform.Discord
	store     *storage.Store
	sink      errsink.Reporter
	tracker   *tracking.Tracker
	privacy   *privacy.Service
	resolver  *privacy.Resolver
	reactions *reactions.Service
	audit     *audit.Orchestrator
	analytics *analytics.Service
}

func New(deps Dependencies) (*Bot, error) {
	if deps.Session == nil || deps.Store == nil || deps.Platform == nil || deps.Sink == nil {
		return nil, errors.New("bot: session, platform, store and sink are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	deps.Session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages

	return &Bot{
		cfg:       deps.Config,
		logger:    logger,
		session:   deps.Session,
		platform:  deps.Platform,
		store:     deps.Store,
		sink:      deps.Sink,
		tracker:   deps.Tracker,
		privacy:   deps.Privacy,
		resolver:  deps.Resolver,
		reactions: deps.Reactions,
		audit:     deps.Audit,
		analytics: deps.Analytics,
	}, nil
}

// NewSession opens nothing; it only builds the discordgo session the other
// collaborators share.
func NewSession(token string) (*discordgo.Session, error) {
	return discordgo.New("Bot " + token)
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	return b.registerCommands()
}

// Close waits for pending reaction tasks and closes the gateway connection.
func (b *Bot) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		if b.reactions != nil {
			b.reactions.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("reaction tasks still running at shutdown")
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))

	ctx := context.Background()
	text, err := b.store.GetOrCreateSetting(ctx, storage.SettingStatus)
	if err != nil {
		b.sink.Report(ctx, fmt.Errorf("load status: %w", err), &errsink.Context{Command: "ready"})
		return
	}
	kindName, err := b.store.GetOrCreateSetting(ctx, storage.SettingStatusType)
	if err != nil {
		b.sink.Report(ctx, fmt.Errorf("load status type: %w", err), &errsink.Context{Command: "ready"})
		return
	}
	if text == "" {
		return
	}
	kind, ok := parseActivityType(kindName)
	if !ok {
		kind = discordgo.ActivityTypeGame
	}
	if err := b.platform.UpdateStatus(text, kind); err != nil {
		b.logger.Warn("status restore failed", zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	ctx := context.Background()
	errCtx := &errsink.Context{Command: "message", GuildID: msg.GuildID, ChannelID: msg.ChannelID, UserID: msg.Author.ID}

	channel, err := b.platform.Channel(ctx, msg.ChannelID)
	if err != nil {
		b.sink.Report(ctx, fmt.Errorf("resolve channel: %w", err), errCtx)
		return
	}
	guild, err := b.platform.Guild(ctx, msg.GuildID)
	if err != nil {
		b.sink.Report(ctx, fmt.Errorf("resolve guild: %w", err), errCtx)
		return
	}

	if _, err := b.tracker.Record(ctx, tracking.Message{
		ID:     msg.ID,
		Author: privacy.UserRef{ID: msg.Author.ID, Username: msg.Author.Username},
		Channel: privacy.ChannelRef{
			ID:    channel.ID,
			Guild: privacy.GuildRef{ID: guild.ID, Name: guild.Name},
			Name:  channel.Name,
			Type:  channel.Type,
		},
	}); err != nil {
		b.sink.Report(ctx, fmt.Errorf("record message %s: %w", msg.ID, err), errCtx)
	}

	if b.cfg.Reactions.Enabled && b.reactions != nil {
		b.reactions.Dispatch(reactions.Message{
			ID:        msg.ID,
			AuthorID:  msg.Author.ID,
			GuildID:   msg.GuildID,
			ChannelID: msg.ChannelID,
		})
	}
}

func (b *Bot) respond(interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := b.session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction response failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

func (b *Bot) edit(interaction *discordgo.InteractionCreate, content string) {
	if _, err := b.session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.Warn("interaction edit failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

// fail reports err and replaces the pending response with the generic error
// message.
func (b *Bot) fail(ctx context.Context, interaction *discordgo.InteractionCreate, command string, err error) {
	b.report(ctx, interaction, command, err)
	b.edit(interaction, replyFailed)
}

func (b *Bot) report(ctx context.Context, interaction *discordgo.InteractionCreate, command string, err error) {
	b.sink.Report(ctx, err, &errsink.Context{
		Command:   command,
		GuildID:   interaction.GuildID,
		ChannelID: interaction.ChannelID,
		UserID:    interactionUser(interaction).ID,
	})
}

func interactionUser(interaction *discordgo.InteractionCreate) *discordgo.User {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User
	}
	if interaction.User != nil {
		return interaction.User
	}
	return &discordgo.User{}
}

// ChannelNotifier posts error notices to the bot's logs channel.
type ChannelNotifier struct {
	session   *discordgo.Session
	channelID string
}

func NewChannelNotifier(session *discordgo.Session, channelID string) *ChannelNotifier {
	return &ChannelNotifier{session: session, channelID: channelID}
}

func (n *ChannelNotifier) Notify(ctx context.Context, message string) error {
	if n.channelID == "" {
		return nil
	}
	_, err := n.session.ChannelMessageSend(n.channelID, truncate(message, maxMessageLength), discordgo.WithContext(ctx))
	return err
}

const maxMessageLength = 2000

func truncate(message string, limit int) string {
	runes := []rune(message)
	if len(runes) <= limit {
		return message
	}
	return string(runes[:limit-1]) + "…"
}
