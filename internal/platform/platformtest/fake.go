// Package platformtest provides an in-memory platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"statkeeper/internal/platform"
)

// Fake is a scriptable in-memory platform. Messages are stored newest first.
type Fake struct {
	mu sync.Mutex

	GuildList    []platform.Guild
	MemberLists  map[string][]platform.Member
	ChannelLists map[string][]platform.Channel
	History      map[string][]platform.Message
	// ScriptedPages, when set for a channel, is served page by page regardless of cursor.
	ScriptedPages map[string][][]platform.Message
	Unreadable    map[string]bool
	Emojis        map[string]bool
	PageSize      int

	GuildsErr   error
	MembersErr  map[string]error
	ChannelsErr map[string]error
	MessagesErr map[string]error
	ReactionErr map[string]error

	MessageCalls map[string]int
	Reactions    []AddedReaction
}

type AddedReaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

func New() *Fake {
	return &Fake{
		MemberLists:   make(map[string][]platform.Member),
		ChannelLists:  make(map[string][]platform.Channel),
		History:       make(map[string][]platform.Message),
		ScriptedPages: make(map[string][][]platform.Message),
		Unreadable:    make(map[string]bool),
		Emojis:        make(map[string]bool),
		MembersErr:    make(map[string]error),
		ChannelsErr:   make(map[string]error),
		MessagesErr:   make(map[string]error),
		ReactionErr:   make(map[string]error),
		MessageCalls:  make(map[string]int),
		PageSize:      2,
	}
}

func (f *Fake) AddGuild(guild platform.Guild, members ...platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GuildList = append(f.GuildList, guild)
	f.MemberLists[guild.ID] = append(f.MemberLists[guild.ID], members...)
}

func (f *Fake) AddChannel(channel platform.Channel, newestFirst ...platform.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChannelLists[channel.GuildID] = append(f.ChannelLists[channel.GuildID], channel)
	for i := range newestFirst {
		newestFirst[i].ChannelID = channel.ID
	}
	f.History[channel.ID] = append(f.History[channel.ID], newestFirst...)
}

func (f *Fake) Guilds(context.Context) ([]platform.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GuildsErr != nil {
		return nil, f.GuildsErr
	}
	return append([]platform.Guild(nil), f.GuildList...), nil
}

func (f *Fake) Guild(_ context.Context, guildID string) (platform.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, guild := range f.GuildList {
		if guild.ID == guildID {
			return guild, nil
		}
	}
	return platform.Guild{}, fmt.Errorf("guild %s: %w", guildID, platform.ErrNotFound)
}

func (f *Fake) Members(_ context.Context, guildID string) ([]platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.MembersErr[guildID]; err != nil {
		return nil, err
	}
	return append([]platform.Member(nil), f.MemberLists[guildID]...), nil
}

func (f *Fake) Channels(_ context.Context, guildID string) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ChannelsErr[guildID]; err != nil {
		return nil, err
	}
	return append([]platform.Channel(nil), f.ChannelLists[guildID]...), nil
}

func (f *Fake) Channel(_ context.Context, channelID string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, channels := range f.ChannelLists {
		for _, channel := range channels {
			if channel.ID == channelID {
				return channel, nil
			}
		}
	}
	return platform.Channel{}, fmt.Errorf("channel %s: %w", channelID, platform.ErrNotFound)
}

func (f *Fake) Messages(_ context.Context, channelID, beforeID string) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.MessageCalls[channelID]
	f.MessageCalls[channelID] = call + 1
	if err := f.MessagesErr[channelID]; err != nil {
		return nil, err
	}

	if pages, ok := f.ScriptedPages[channelID]; ok {
		if call >= len(pages) {
			return nil, nil
		}
		return append([]platform.Message(nil), pages[call]...), nil
	}

	history := f.History[channelID]
	start := 0
	if beforeID != "" {
		start = len(history)
		for i, message := range history {
			if message.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + f.PageSize
	if end > len(history) {
		end = len(history)
	}
	return append([]platform.Message(nil), history[start:end]...), nil
}

func (f *Fake) CanRead(_ context.Context, channel platform.Channel) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Unreadable[channel.ID], nil
}

func (f *Fake) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ReactionErr[emoji]; err != nil {
		return err
	}
	f.Reactions = append(f.Reactions, AddedReaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *Fake) EmojiAvailable(_ context.Context, emojiID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Emojis[emojiID]
}

// AddedReactions returns a copy of the reactions added so far.
func (f *Fake) AddedReactions() []AddedReaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AddedReaction(nil), f.Reactions...)
}

// Calls returns how many message pages were requested for a channel.
func (f *Fake) Calls(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MessageCalls[channelID]
}
