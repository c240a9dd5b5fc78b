package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"statkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
)

const (
	guildPageSize      = 100
	memberPageSize     = 1000
	maxMessagePageSize = 100

	readPermissions = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
)

// Discord serves the platform view from a discordgo session. Lookups of single
// guilds and channels prefer the gateway state; listings always go to REST.
type Discord struct {
	session         *discordgo.Session
	messagePageSize int

	botMu sync.Mutex
	botID string
}

// NewDiscord wraps session. messagePageSize is clamped to the REST maximum.
func NewDiscord(session *discordgo.Session, messagePageSize int) *Discord {
	if messagePageSize <= 0 || messagePageSize > maxMessagePageSize {
		messagePageSize = maxMessagePageSize
	}
	return &Discord{session: session, messagePageSize: messagePageSize}
}

func (d *Discord) Guilds(ctx context.Context) ([]Guild, error) {
	var guilds []Guild
	after := ""
	for {
		page, err := d.session.UserGuilds(guildPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
		for _, guild := range page {
			guilds = append(guilds, Guild{ID: guild.ID, Name: guild.Name})
		}
		if len(page) < guildPageSize {
			return guilds, nil
		}
		after = page[len(page)-1].ID
	}
}

func (d *Discord) Guild(ctx context.Context, guildID string) (Guild, error) {
	if guild, err := d.session.State.Guild(guildID); err == nil && guild.Name != "" {
		return Guild{ID: guild.ID, Name: guild.Name}, nil
	}
	guild, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return Guild{}, mapError(err)
	}
	return Guild{ID: guild.ID, Name: guild.Name}, nil
}

func (d *Discord) Members(ctx context.Context, guildID string) ([]Member, error) {
	var members []Member
	after := ""
	for {
		page, err := d.session.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
		for _, member := range page {
			if member.User == nil {
				continue
			}
			members = append(members, Member{
				UserID:   member.User.ID,
				Username: member.User.Username,
				Bot:      member.User.Bot,
			})
		}
		if len(page) < memberPageSize {
			return members, nil
		}
		last := page[len(page)-1]
		if last.User == nil {
			return members, nil
		}
		after = last.User.ID
	}
}

func (d *Discord) Channels(ctx context.Context, guildID string) ([]Channel, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	result := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		result = append(result, FromDiscordChannel(channel))
	}
	return result, nil
}

func (d *Discord) Channel(ctx context.Context, channelID string) (Channel, error) {
	if channel, err := d.session.State.Channel(channelID); err == nil {
		return FromDiscordChannel(channel), nil
	}
	channel, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return Channel{}, mapError(err)
	}
	return FromDiscordChannel(channel), nil
}

// Messages returns one page of history, newest first. An empty beforeID
// requests the newest page.
func (d *Discord) Messages(ctx context.Context, channelID, beforeID string) ([]Message, error) {
	page, err := d.session.ChannelMessages(channelID, d.messagePageSize, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	messages := make([]Message, 0, len(page))
	for _, message := range page {
		authorID := ""
		if message.Author != nil {
			authorID = message.Author.ID
		}
		messages = append(messages, Message{ID: message.ID, ChannelID: message.ChannelID, AuthorID: authorID})
	}
	return messages, nil
}

func (d *Discord) CanRead(ctx context.Context, channel Channel) (bool, error) {
	botID, err := d.botUserID(ctx)
	if err != nil {
		return false, err
	}
	perms, err := d.session.UserChannelPermissions(botID, channel.ID, discordgo.WithContext(ctx))
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, ErrNoAccess) {
			return false, nil
		}
		return false, mapped
	}
	return perms&readPermissions == readPermissions, nil
}

func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := d.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	return nil
}

// EmojiAvailable reports whether a custom emoji belongs to a guild the bot is in.
func (d *Discord) EmojiAvailable(_ context.Context, emojiID string) bool {
	state := d.session.State
	state.RLock()
	defer state.RUnlock()
	for _, guild := range state.Guilds {
		for _, emoji := range guild.Emojis {
			if emoji != nil && emoji.ID == emojiID && emoji.Available {
				return true
			}
		}
	}
	return false
}

// UpdateStatus replaces the bot's activity.
func (d *Discord) UpdateStatus(text string, kind discordgo.ActivityType) error {
	activity := &discordgo.Activity{Name: text, Type: kind}
	if kind == discordgo.ActivityTypeCustom {
		activity = &discordgo.Activity{Name: "Custom Status", State: text, Type: kind}
	}
	return d.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status:     string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{activity},
	})
}

func (d *Discord) botUserID(ctx context.Context) (string, error) {
	if d.session.State != nil && d.session.State.User != nil {
		return d.session.State.User.ID, nil
	}

	d.botMu.Lock()
	defer d.botMu.Unlock()
	if d.botID != "" {
		return d.botID, nil
	}
	user, err := d.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	d.botID = user.ID
	return d.botID, nil
}

func FromDiscordChannel(channel *discordgo.Channel) Channel {
	return Channel{
		ID:      channel.ID,
		GuildID: channel.GuildID,
		Name:    channel.Name,
		Type:    ChannelType(channel.Type),
	}
}

func ChannelType(kind discordgo.ChannelType) storage.ChannelType {
	switch kind {
	case discordgo.ChannelTypeGuildText:
		return storage.ChannelText
	case discordgo.ChannelTypeGuildNews:
		return storage.ChannelNews
	case discordgo.ChannelTypeGuildVoice:
		return storage.ChannelVoice
	case discordgo.ChannelTypeGuildStageVoice:
		return storage.ChannelStage
	case discordgo.ChannelTypeGuildCategory:
		return storage.ChannelCategory
	case discordgo.ChannelTypeGuildForum:
		return storage.ChannelForum
	case discordgo.ChannelTypeGuildNewsThread, discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread:
		return storage.ChannelThread
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return storage.ChannelDM
	default:
		return storage.ChannelUnknown
	}
}

func mapError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %v", ErrNoAccess, err)
		case discordgo.ErrCodeUnknownEmoji:
			return fmt.Errorf("%w: %v", ErrUnknownEmoji, err)
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownGuild, discordgo.ErrCodeUnknownMessage:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrNoAccess, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}
