package privacy

import (
	"context"

	"statkeeper/internal/storage"
)

// Service applies tracking switches. Each method touches exactly one scope and
// leaves the other four flags alone.
type Service struct {
	store *storage.Store
}

func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

type UserRef struct {
	ID       string
	Username string
}

type GuildRef struct {
	ID   string
	Name string
}

// ChannelRef describes a channel and the guild it belongs to. Guild.ID is empty
// for direct messages.
type ChannelRef struct {
	ID    string
	Guild GuildRef
	Name  string
	Type  storage.ChannelType
}

func (s *Service) SetUserTracking(ctx context.Context, user UserRef, enabled bool) error {
	if _, err := s.store.GetOrCreateUser(ctx, user.ID, &storage.UserCreate{Username: user.Username}); err != nil {
		return err
	}
	return s.store.SetUserTracking(ctx, user.ID, enabled)
}

func (s *Service) SetGuildMemberTracking(ctx context.Context, user UserRef, guild GuildRef, enabled bool) error {
	if err := s.ensureGuildMember(ctx, user, guild); err != nil {
		return err
	}
	return s.store.SetGuildMemberTracking(ctx, user.ID, guild.ID, enabled)
}

func (s *Service) SetChannelMemberTracking(ctx context.Context, user UserRef, channel ChannelRef, enabled bool) error {
	if err := s.ensureGuildMember(ctx, user, channel.Guild); err != nil {
		return err
	}
	if _, err := s.ensureChannel(ctx, channel); err != nil {
		return err
	}
	if _, err := s.store.GetOrCreateChannelMember(ctx, user.ID, channel.ID); err != nil {
		return err
	}
	return s.store.SetChannelMemberTracking(ctx, user.ID, channel.ID, enabled)
}

// ToggleGuild sets guild tracking to value, or flips it when value is nil, and
// returns the stored result.
func (s *Service) ToggleGuild(ctx context.Context, guild GuildRef, value *bool) (bool, error) {
	current, err := s.store.GetOrCreateGuild(ctx, guild.ID, &storage.GuildCreate{Name: guild.Name})
	if err != nil {
		return false, err
	}
	next := !current.MessageTracking
	if value != nil {
		next = *value
	}
	if err := s.store.SetGuildTracking(ctx, guild.ID, next); err != nil {
		return false, err
	}
	return next, nil
}

// ToggleChannel behaves like ToggleGuild for a single channel.
func (s *Service) ToggleChannel(ctx context.Context, channel ChannelRef, value *bool) (bool, error) {
	current, err := s.ensureChannel(ctx, channel)
	if err != nil {
		return false, err
	}
	next := !current.MessageTracking
	if value != nil {
		next = *value
	}
	if err := s.store.SetChannelTracking(ctx, channel.ID, next); err != nil {
		return false, err
	}
	return next, nil
}

func (s *Service) ensureGuildMember(ctx context.Context, user UserRef, guild GuildRef) error {
	if _, err := s.store.GetOrCreateUser(ctx, user.ID, &storage.UserCreate{Username: user.Username}); err != nil {
		return err
	}
	if _, err := s.store.GetOrCreateGuild(ctx, guild.ID, &storage.GuildCreate{Name: guild.Name}); err != nil {
		return err
	}
	_, err := s.store.GetOrCreateGuildMember(ctx, user.ID, guild.ID)
	return err
}

func (s *Service) ensureChannel(ctx context.Context, channel ChannelRef) (storage.Channel, error) {
	if channel.Guild.ID != "" {
		if _, err := s.store.GetOrCreateGuild(ctx, channel.Guild.ID, &storage.GuildCreate{Name: channel.Guild.Name}); err != nil {
			return storage.Channel{}, err
		}
	}
	return s.store.GetOrCreateChannel(ctx, channel.ID, &storage.ChannelCreate{
		GuildID: channel.Guild.ID,
		Name:    channel.Name,
		Type:    channel.Type,
	})
}
