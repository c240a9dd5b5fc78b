package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type User struct {
	ID              string
	Username        string
	Banned          bool
	MessageTracking bool
	Admin           bool
	CreatedAt       time.Time
}

type UserCreate struct {
	Username string
}

const userColumns = `id, username, banned, message_tracking, admin, created_at`

var userDecoder = decoder[User]{
	entity: "user",
	fields: map[string]func(*User) any{
		"id":               func(u *User) any { return &u.ID },
		"username":         func(u *User) any { return &u.Username },
		"banned":           func(u *User) any { return &u.Banned },
		"message_tracking": func(u *User) any { return &u.MessageTracking },
		"admin":            func(u *User) any { return &u.Admin },
		"created_at":       func(u *User) any { return unixTime{&u.CreatedAt} },
	},
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	user, err := queryOne(ctx, s, userDecoder, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

func (s *Store) GetOrCreateUser(ctx context.Context, id string, create *UserCreate) (User, error) {
	user, err := s.GetUser(ctx, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return user, err
	}
	if create == nil {
		return User{}, &MissingCreationDataError{Entity: "user", ID: id}
	}

	user, err = queryOne(ctx, s, userDecoder, `
		INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+userColumns, id, create.Username, s.now().Unix())
	if errors.Is(err, ErrNotFound) {
		return s.GetUser(ctx, id)
	}
	if err != nil {
		return User{}, fmt.Errorf("create user %s: %w", id, err)
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	return queryAll(ctx, s, userDecoder, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *Store) SetUsername(ctx context.Context, id, username string) error {
	return s.updateOne(ctx, "user", id, `UPDATE users SET username = ? WHERE id = ?`, username, id)
}

func (s *Store) SetUserTracking(ctx context.Context, id string, enabled bool) error {
	return s.updateOne(ctx, "user", id, `UPDATE users SET message_tracking = ? WHERE id = ?`, enabled, id)
}

func (s *Store) SetUserAdmin(ctx context.Context, id string, admin bool) error {
	return s.updateOne(ctx, "user", id, `UPDATE users SET admin = ? WHERE id = ?`, admin, id)
}

func (s *Store) SetUserBanned(ctx context.Context, id string, banned bool) error {
	return s.updateOne(ctx, "user", id, `UPDATE users SET banned = ? WHERE id = ?`, banned, id)
}

// updateOne runs a single-row update and reports ErrNotFound when nothing matched.
func (s *Store) updateOne(ctx context.Context, entity, id, query string, args ...any) error {
	affected, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", entity, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("update %s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}
