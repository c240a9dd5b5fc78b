// Package errsink collects errors that were caught and skipped so they can be
// inspected later: structured log, an append-only error file and a notice in
// the bot's logs channel.
package errsink

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Context describes where an error happened. Every field is optional.
type Context struct {
	Command   string
	GuildID   string
	ChannelID string
	UserID    string
}

type Reporter interface {
	Report(ctx context.Context, err error, ec *Context)
}

// Notifier forwards a short error notice to operators.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type Sink struct {
	logger   *zap.Logger
	path     string
	notifier Notifier
	notices  *noticeWindowLimiter
	now      func() time.Time
	mu       sync.Mutex
}

// New builds a sink. An empty path disables the error file and a nil notifier
// disables channel notices. At most noticeLimit notices are sent per minute.
func New(logger *zap.Logger, path string, notifier Notifier) *Sink {
	return &Sink{
		logger:   logger,
		path:     path,
		notifier: notifier,
		notices:  newNoticeLimiter(noticeLimit, noticeWindow),
		now:      time.Now,
	}
}

func (s *Sink) Report(ctx context.Context, err error, ec *Context) {
	if err == nil {
		return
	}
	if ec == nil {
		ec = &Context{}
	}

	s.logger.Error("error reported",
		zap.String("command", ec.Command),
		zap.String("guild_id", ec.GuildID),
		zap.String("channel_id", ec.ChannelID),
		zap.String("user_id", ec.UserID),
		zap.Error(err),
	)

	if s.path != "" {
		if writeErr := s.append(formatBlock(s.now(), err, ec)); writeErr != nil {
			s.logger.Warn("error file write failed", zap.String("path", s.path), zap.Error(writeErr))
		}
	}

	if s.notifier != nil {
		if !s.notices.allow(s.now()) {
			s.logger.Debug("error notice suppressed", zap.String("command", ec.Command))
			return
		}
		if notifyErr := s.notifier.Notify(ctx, formatNotice(err, ec)); notifyErr != nil {
			s.logger.Warn("error notice failed", zap.Error(notifyErr))
		}
	}
}

func (s *Sink) append(block string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(block); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func formatBlock(at time.Time, err error, ec *Context) string {
	var b strings.Builder
	b.WriteString("=====\n")
	b.WriteString(at.UTC().Format(time.RFC3339))
	b.WriteString("\n")
	for _, line := range contextLines(ec) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "error: %v\n", err)
	return b.String()
}

func formatNotice(err error, ec *Context) string {
	lines := append([]string{"An error occurred and has been logged."}, contextLines(ec)...)
	lines = append(lines, fmt.Sprintf("```%v```", err))
	return strings.Join(lines, "\n")
}

func contextLines(ec *Context) []string {
	var lines []string
	if ec.Command != "" {
		lines = append(lines, "command: "+ec.Command)
	}
	if ec.GuildID != "" {
		lines = append(lines, "guild: "+ec.GuildID)
	}
	if ec.ChannelID != "" {
		lines = append(lines, "channel: "+ec.ChannelID)
	}
	if ec.UserID != "" {
		lines = append(lines, "user: "+ec.UserID)
	}
	return lines
}
