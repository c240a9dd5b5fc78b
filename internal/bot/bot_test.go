package bot

import (
	"strings"
	"testing"
	"time"

	"statkeeper/internal/audit"
	"statkeeper/internal/privacy"
	"statkeeper/internal/reactions"
	"statkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func TestTierFor(t *testing.T) {
	cases := []struct {
		name    string
		admin   bool
		guildID string
		perms   int64
		want    audit.Tier
	}{
		{"bot admin", true, "", 0, audit.TierGlobalAdmin},
		{"bot admin in guild", true, "g1", 0, audit.TierGlobalAdmin},
		{"guild administrator", false, "g1", discordgo.PermissionAdministrator, audit.TierGuildAdmin},
		{"administrator without guild", false, "", discordgo.PermissionAdministrator, audit.TierDenied},
		{"moderator", false, "g1", discordgo.PermissionModerateMembers, audit.TierDenied},
		{"member", false, "g1", 0, audit.TierDenied},
	}
	for _, tc := range cases {
		if got := tierFor(tc.admin, tc.guildID, tc.perms); got != tc.want {
			t.Fatalf("%s: expected tier %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestReactionPermissions(t *testing.T) {
	if !canListReactions(true, audit.TierDenied, 0) {
		t.Fatalf("expected self list to be allowed")
	}
	if canListReactions(false, audit.TierGuildAdmin, discordgo.PermissionAdministrator) {
		t.Fatalf("expected guild admin list of others to be denied")
	}
	if !canAddReactions(false, audit.TierDenied, discordgo.PermissionModerateMembers) {
		t.Fatalf("expected moderators to add reactions for others")
	}
	if canAddReactions(false, audit.TierDenied, 0) {
		t.Fatalf("expected plain members to be denied")
	}
	if !canRemoveReactions(false, audit.TierGuildAdmin, 0) {
		t.Fatalf("expected guild admins to remove reactions for others")
	}
	if canRemoveReactions(false, audit.TierDenied, discordgo.PermissionModerateMembers) {
		t.Fatalf("expected moderators to be denied removal")
	}
}

func TestCanToggle(t *testing.T) {
	if !canToggle(audit.TierGlobalAdmin, "", "g2") {
		t.Fatalf("expected bot admin to toggle any guild")
	}
	if !canToggle(audit.TierGuildAdmin, "g1", "g1") {
		t.Fatalf("expected guild admin to toggle own guild")
	}
	if canToggle(audit.TierGuildAdmin, "g1", "g2") {
		t.Fatalf("expected guild admin to be limited to own guild")
	}
	if canToggle(audit.TierDenied, "g1", "g1") {
		t.Fatalf("expected members to be denied")
	}
}

func TestParseActivityType(t *testing.T) {
	cases := map[string]discordgo.ActivityType{
		"playing":   discordgo.ActivityTypeGame,
		"Streaming": discordgo.ActivityTypeStreaming,
		"listening": discordgo.ActivityTypeListening,
		"watching":  discordgo.ActivityTypeWatching,
		"custom":    discordgo.ActivityTypeCustom,
		"competing": discordgo.ActivityTypeCompeting,
	}
	for name, want := range cases {
		got, ok := parseActivityType(name)
		if !ok || got != want {
			t.Fatalf("%s: expected %d, got %d (ok=%v)", name, want, got, ok)
		}
	}
	if _, ok := parseActivityType("dancing"); ok {
		t.Fatalf("expected unknown activity type to be rejected")
	}
}

func TestCommandDefinitions(t *testing.T) {
	seen := make(map[string]bool)
	for _, cmd := range commandDefinitions() {
		if seen[cmd.Name] {
			t.Fatalf("duplicate command %q", cmd.Name)
		}
		seen[cmd.Name] = true
		if cmd.Description == "" {
			t.Fatalf("command %q has no description", cmd.Name)
		}
	}
	for _, name := range []string{"ping", "status", "statistics", "privacy", "reactions"} {
		if !seen[name] {
			t.Fatalf("missing command %q", name)
		}
	}
}

func TestSubcommandPath(t *testing.T) {
	data := []*discordgo.ApplicationCommandInteractionDataOption{{
		Name: "admin",
		Type: discordgo.ApplicationCommandOptionSubCommandGroup,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{{
			Name: "toggle-channel",
			Type: discordgo.ApplicationCommandOptionSubCommand,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "c1"},
				{Name: "value", Type: discordgo.ApplicationCommandOptionBoolean, Value: false},
			},
		}},
	}}

	path, opts := subcommandPath(data)
	if path != "admin toggle-channel" {
		t.Fatalf("unexpected path %q", path)
	}
	if opts.id("channel") != "c1" {
		t.Fatalf("expected channel option c1, got %q", opts.id("channel"))
	}
	value := opts.boolValue("value")
	if value == nil || *value {
		t.Fatalf("expected explicit false value, got %v", value)
	}
	if opts.boolValue("missing") != nil {
		t.Fatalf("expected missing option to be nil")
	}
}

func TestPrivacyReply(t *testing.T) {
	if got := privacyReply("global", false, ""); got != "Opt out completed. Your messages will no longer be counted by the bot." {
		t.Fatalf("unexpected global opt out reply %q", got)
	}
	if got := privacyReply("channel", false, "c9"); !strings.Contains(got, "<#c9>") {
		t.Fatalf("expected channel mention, got %q", got)
	}
	if got := privacyReply("server", true, ""); !strings.HasPrefix(got, "Opt in completed.") {
		t.Fatalf("unexpected opt in reply %q", got)
	}
}

func TestFormatFlags(t *testing.T) {
	got := formatFlags(privacy.Flags{User: true, Guild: true, GuildMember: true, Channel: true, ChannelMember: false}, "c1")
	want := "Your messages here are not counted." +
		"\n- You (everywhere): on" +
		"\n- This server: on" +
		"\n- You in this server: on" +
		"\n- <#c1>: on" +
		"\n- You in <#c1>: off"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	all := privacy.Flags{User: true, Guild: true, GuildMember: true, Channel: true, ChannelMember: true}
	if got := formatFlags(all, "c1"); !strings.HasPrefix(got, "Your messages here are counted.") {
		t.Fatalf("unexpected header %q", got)
	}
}

func TestReactionErrorReply(t *testing.T) {
	for _, err := range []error{reactions.ErrInvalidEmoji, reactions.ErrUnavailable, reactions.ErrDuplicate, reactions.ErrNoReaction} {
		if _, ok := reactionErrorReply(err); !ok {
			t.Fatalf("expected a reply for %v", err)
		}
	}
	if _, ok := reactionErrorReply(storage.ErrNotFound); ok {
		t.Fatalf("expected unexpected errors to fall through")
	}
}

func TestFormatReactions(t *testing.T) {
	if got := formatReactions(nil); got != "No reactions found." {
		t.Fatalf("unexpected empty listing %q", got)
	}
	got := formatReactions([]storage.Reaction{
		{ID: "r1", Emoji: "🔥"},
		{ID: "r2", Emoji: ":smile:", GuildID: "g1", ChannelID: "c1", CreatedAt: time.Unix(0, 0)},
	})
	want := "ID: `r1` | 🔥\nID: `r2` | :smile: | Channel: <#c1> | Server: g1"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("expected untouched message, got %q", got)
	}
	got := truncate(strings.Repeat("a", 20), 10)
	if len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Fatalf("unexpected truncation %q", got)
	}
}
