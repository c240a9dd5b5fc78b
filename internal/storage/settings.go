package storage

import (
	"context"
	"errors"
	"fmt"
)

// Setting keys persisted by the bot.
const (
	SettingStatus     = "status"
	SettingStatusType = "status_type"
)

type setting struct {
	Key   string
	Value string
}

var settingDecoder = decoder[setting]{
	entity: "setting",
	fields: map[string]func(*setting) any{
		"key":   func(s *setting) any { return &s.Key },
		"value": func(s *setting) any { return &s.Value },
	},
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	item, err := queryOne(ctx, s, settingDecoder, `SELECT key, value FROM settings WHERE key = ?`, key)
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return item.Value, nil
}

// GetOrCreateSetting returns the stored value, inserting an empty one first if
// the key is new.
func (s *Store) GetOrCreateSetting(ctx context.Context, key string) (string, error) {
	value, err := s.GetSetting(ctx, key)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return value, err
	}
	if _, err := s.exec(ctx, `INSERT INTO settings (key, value) VALUES (?, '') ON CONFLICT (key) DO NOTHING`, key); err != nil {
		return "", fmt.Errorf("create setting %s: %w", key, err)
	}
	return s.GetSetting(ctx, key)
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
