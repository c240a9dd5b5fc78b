package reactions

import (
	"errors"
	"regexp"
	"strings"

	"statkeeper/internal/storage"

	"github.com/kyokomi/emoji/v2"
)

var ErrInvalidEmoji = errors.New("reactions: not a valid emoji")

var (
	guildEmojiPattern = regexp.MustCompile(`^<(a?):([A-Za-z0-9_]{2,32}):(\d{15,21})>$`)
	shortcodePattern  = regexp.MustCompile(`^:[a-z0-9_+\-]+:$`)
)

const variationSelector = "\ufe0f"

// Emoji is a parsed reaction emoji.
type Emoji struct {
	// Text is the form users typed and the form stored.
	Text string
	Type storage.ReactionType
	// ID and Name are set for guild emojis only.
	ID       string
	Name     string
	Animated bool
	unicode  string
}

// API returns the form the reaction endpoint expects.
func (e Emoji) API() string {
	if e.Type == storage.ReactionGuild {
		return e.Name + ":" + e.ID
	}
	return e.unicode
}

// ParseEmoji accepts a literal unicode emoji, a :shortcode: or a custom guild
// emoji in <:name:id> or <a:name:id> form.
func ParseEmoji(text string) (Emoji, error) {
	text = strings.TrimSpace(text)
	if match := guildEmojiPattern.FindStringSubmatch(text); match != nil {
		return Emoji{
			Text:     text,
			Type:     storage.ReactionGuild,
			ID:       match[3],
			Name:     match[2],
			Animated: match[1] == "a",
		}, nil
	}
	if shortcodePattern.MatchString(text) {
		unicode, ok := emoji.CodeMap()[text]
		if !ok {
			return Emoji{}, ErrInvalidEmoji
		}
		return Emoji{Text: text, Type: storage.ReactionDiscord, unicode: strings.TrimSpace(unicode)}, nil
	}
	if isUnicodeEmoji(text) {
		return Emoji{Text: text, Type: storage.ReactionUnicode, unicode: text}, nil
	}
	return Emoji{}, ErrInvalidEmoji
}

func isUnicodeEmoji(text string) bool {
	if text == "" {
		return false
	}
	codes := emoji.RevCodeMap()
	if _, ok := codes[text]; ok {
		return true
	}
	if _, ok := codes[text+variationSelector]; ok {
		return true
	}
	_, ok := codes[strings.TrimSuffix(text, variationSelector)]
	return ok
}
