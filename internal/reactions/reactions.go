// Package reactions manages per-user auto-reactions and adds them to new
// messages in the background.
package reactions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"statkeeper/internal/errsink"
	"statkeeper/internal/platform"
	"statkeeper/internal/storage"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

var (
	ErrDuplicate   = errors.New("reactions: reaction already exists")
	ErrUnavailable = errors.New("reactions: emoji is not available to the bot")
	ErrNoReaction  = errors.New("reactions: no such reaction")
)

const taskTimeout = 30 * time.Second

type Platform interface {
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	EmojiAvailable(ctx context.Context, emojiID string) bool
}

// Scope narrows where a reaction applies. The zero value means everywhere.
type Scope struct {
	GuildID   string
	ChannelID string
}

// Message identifies a freshly posted message.
type Message struct {
	ID        string
	AuthorID  string
	GuildID   string
	ChannelID string
}

type Service struct {
	store    *storage.Store
	platform Platform
	sink     errsink.Reporter
	logger   *zap.Logger

	tasks  conc.WaitGroup
	mu     sync.Mutex
	closed bool
}

func New(store *storage.Store, client Platform, sink errsink.Reporter, logger *zap.Logger) *Service {
	return &Service{store: store, platform: client, sink: sink, logger: logger}
}

func (s *Service) Add(ctx context.Context, userID, text string, scope Scope) (storage.Reaction, error) {
	parsed, err := ParseEmoji(text)
	if err != nil {
		return storage.Reaction{}, err
	}
	if parsed.Type == storage.ReactionGuild && !s.platform.EmojiAvailable(ctx, parsed.ID) {
		return storage.Reaction{}, ErrUnavailable
	}

	exists, err := s.store.ReactionExists(ctx, userID, parsed.Text, scope.GuildID, scope.ChannelID)
	if err != nil {
		return storage.Reaction{}, err
	}
	if exists {
		return storage.Reaction{}, ErrDuplicate
	}

	return s.store.AddReaction(ctx, storage.Reaction{
		Emoji:     parsed.Text,
		EmojiID:   parsed.ID,
		Type:      parsed.Type,
		UserID:    userID,
		GuildID:   scope.GuildID,
		ChannelID: scope.ChannelID,
	})
}

// Remove deletes every reaction of userID with this emoji, whatever its scope,
// and returns how many were removed.
func (s *Service) Remove(ctx context.Context, userID, text string) (int, error) {
	parsed, err := ParseEmoji(text)
	if err != nil {
		return 0, err
	}
	reactions, err := s.store.ListUserReactions(ctx, userID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, reaction := range reactions {
		if reaction.Emoji != parsed.Text {
			continue
		}
		if err := s.store.DeleteReaction(ctx, reaction.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed == 0 {
		return 0, ErrNoReaction
	}
	return removed, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]storage.Reaction, error) {
	return s.store.ListUserReactions(ctx, userID)
}

// Dispatch reacts to msg in the background. Failures and panics in the task are
// reported to the error sink and never reach the caller.
func (s *Service) Dispatch(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		var catcher panics.Catcher
		var err error
		catcher.Try(func() { err = s.react(ctx, msg) })
		if recovered := catcher.Recovered(); recovered != nil {
			err = recovered.AsError()
		}
		if err != nil {
			s.sink.Report(ctx, fmt.Errorf("auto-react to message %s: %w", msg.ID, err), &errsink.Context{
				Command:   "reactions",
				GuildID:   msg.GuildID,
				ChannelID: msg.ChannelID,
				UserID:    msg.AuthorID,
			})
		}
	})
}

// Close stops accepting tasks and waits for running ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.tasks.Wait()
}

func (s *Service) react(ctx context.Context, msg Message) error {
	reactions, err := s.store.ReactionsForMessage(ctx, msg.AuthorID, msg.GuildID, msg.ChannelID)
	if err != nil {
		return err
	}

	var errs []error
	for _, reaction := range reactions {
		parsed, err := ParseEmoji(reaction.Emoji)
		if err == nil && parsed.Type == storage.ReactionGuild && !s.platform.EmojiAvailable(ctx, parsed.ID) {
			err = ErrUnavailable
		}
		if err == nil {
			err = s.platform.AddReaction(ctx, msg.ChannelID, msg.ID, parsed.API())
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidEmoji), errors.Is(err, ErrUnavailable), errors.Is(err, platform.ErrUnknownEmoji):
			s.logger.Info("dropping unusable reaction",
				zap.String("reaction_id", reaction.ID),
				zap.String("emoji", reaction.Emoji),
				zap.String("user_id", reaction.UserID),
			)
			if err := s.store.DeleteReaction(ctx, reaction.ID); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("reaction %s: %w", reaction.Emoji, err))
		}
	}
	return errors.Join(errs...)
}
