package bot

import (
	"context"
	"errors"

	"statkeeper/internal/audit"
	"statkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
)

// tierFor maps a caller to an access tier. Bot admins are global; guild
// administrators are limited to the guild they invoked from.
func tierFor(admin bool, guildID string, perms int64) audit.Tier {
	if admin {
		return audit.TierGlobalAdmin
	}
	if guildID != "" && perms&discordgo.PermissionAdministrator != 0 {
		return audit.TierGuildAdmin
	}
	return audit.TierDenied
}

func (b *Bot) permissionTier(ctx context.Context, interaction *discordgo.InteractionCreate) (audit.Tier, error) {
	admin, err := b.isBotAdmin(ctx, interactionUser(interaction).ID)
	if err != nil {
		return audit.TierDenied, err
	}
	return tierFor(admin, interaction.GuildID, memberPermissions(interaction)), nil
}

func (b *Bot) isBotAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := b.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Admin, nil
}

func memberPermissions(interaction *discordgo.InteractionCreate) int64 {
	if interaction.Member == nil {
		return 0
	}
	return interaction.Member.Permissions
}

// canListReactions, canAddReactions and canRemoveReactions decide whether the
// caller may manage another user's reactions. Acting on oneself is always
// allowed.
func canListReactions(self bool, tier audit.Tier, _ int64) bool {
	return self || tier == audit.TierGlobalAdmin
}

func canAddReactions(self bool, tier audit.Tier, perms int64) bool {
	return self || tier == audit.TierGlobalAdmin || perms&discordgo.PermissionModerateMembers != 0
}

func canRemoveReactions(self bool, tier audit.Tier, _ int64) bool {
	return self || tier != audit.TierDenied
}

// canToggle reports whether the caller may change guild or channel tracking
// for guildID.
func canToggle(tier audit.Tier, invokedIn, guildID string) bool {
	switch tier {
	case audit.TierGlobalAdmin:
		return true
	case audit.TierGuildAdmin:
		return invokedIn != "" && invokedIn == guildID
	default:
		return false
	}
}
