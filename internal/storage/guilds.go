package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Guild struct {
	ID              string
	Name            string
	MessageTracking bool
	CreatedAt       time.Time
}

type GuildCreate struct {
	Name string
}

const guildColumns = `id, name, message_tracking, created_at`

var guildDecoder = decoder[Guild]{
	entity: "guild",
	fields: map[string]func(*Guild) any{
		"id":               func(g *Guild) any { return &g.ID },
		"name":             func(g *Guild) any { return &g.Name },
		"message_tracking": func(g *Guild) any { return &g.MessageTracking },
		"created_at":       func(g *Guild) any { return unixTime{&g.CreatedAt} },
	},
}

func (s *Store) GetGuild(ctx context.Context, id string) (Guild, error) {
	guild, err := queryOne(ctx, s, guildDecoder, `SELECT `+guildColumns+` FROM guilds WHERE id = ?`, id)
	if err != nil {
		return Guild{}, fmt.Errorf("get guild %s: %w", id, err)
	}
	return guild, nil
}

func (s *Store) GetOrCreateGuild(ctx context.Context, id string, create *GuildCreate) (Guild, error) {
	guild, err := s.GetGuild(ctx, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return guild, err
	}
	if create == nil {
		return Guild{}, &MissingCreationDataError{Entity: "guild", ID: id}
	}

	guild, err = queryOne(ctx, s, guildDecoder, `
		INSERT INTO guilds (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+guildColumns, id, create.Name, s.now().Unix())
	if errors.Is(err, ErrNotFound) {
		return s.GetGuild(ctx, id)
	}
	if err != nil {
		return Guild{}, fmt.Errorf("create guild %s: %w", id, err)
	}
	return guild, nil
}

func (s *Store) ListGuilds(ctx context.Context) ([]Guild, error) {
	return queryAll(ctx, s, guildDecoder, `SELECT `+guildColumns+` FROM guilds ORDER BY id`)
}

// DeleteGuild removes the guild along with its channels and memberships.
func (s *Store) DeleteGuild(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM guilds WHERE id = ?`, id)
	return err
}

func (s *Store) SetGuildName(ctx context.Context, id, name string) error {
	return s.updateOne(ctx, "guild", id, `UPDATE guilds SET name = ? WHERE id = ?`, name, id)
}

func (s *Store) SetGuildTracking(ctx context.Context, id string, enabled bool) error {
	return s.updateOne(ctx, "guild", id, `UPDATE guilds SET message_tracking = ? WHERE id = ?`, enabled, id)
}
