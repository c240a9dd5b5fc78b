// Package platform describes the chat platform as the statistics code sees it
// and adapts a discordgo session to that view.
package platform

import (
	"errors"

	"statkeeper/internal/storage"
)

var (
	// ErrNoAccess is returned when the bot lost permission to read a resource.
	ErrNoAccess = errors.New("platform: missing access")
	// ErrUnknownEmoji is returned when a reaction refers to an emoji the platform rejects.
	ErrUnknownEmoji = errors.New("platform: unknown emoji")
	ErrNotFound     = errors.New("platform: not found")
)

type Guild struct {
	ID   string
	Name string
}

type Member struct {
	UserID   string
	Username string
	Bot      bool
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
	Type    storage.ChannelType
}

type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
}
