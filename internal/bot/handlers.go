package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"highlight_bot/internal/index"
	"highlight_bot/internal/model"
	"highlight_bot/internal/storage"
)

const (
	emojiOK   = "✅"
	emojiFail = "❌"
)

func (b *Bot) handleCommand(ctx context.Context, m *discordgo.Message, cmd, args string) {
	b.log.Debug("command", "cmd", cmd, "guild_id", m.GuildID, "user_id", m.Author.ID)

	switch cmd {
	case "", "help":
		b.handleHelp(m)
	case "add":
		b.guildOnly(m, func() { b.handleAdd(ctx, m, args) })
	case "remove", "delete", "del", "rm":
		b.guildOnly(m, func() { b.handleRemove(ctx, m, args) })
	case "list", "show", "ls":
		b.guildOnly(m, func() { b.handleList(ctx, m) })
	case "clear":
		b.guildOnly(m, func() { b.handleClear(ctx, m) })
	case "block":
		b.guildOnly(m, func() { b.handleBlock(ctx, m, args) })
	case "unblock":
		b.guildOnly(m, func() { b.handleUnblock(ctx, m, args) })
	case "blocked", "blocks":
		b.handleBlocked(ctx, m)
	case "blocked-by", "blocked?":
		b.handleBlockedBy(ctx, m, args)
	case "import":
		b.guildOnly(m, func() { b.handleImport(ctx, m, args) })
	case "delete-my-account":
		b.handleDeleteAccount(ctx, m, args)
	default:
		b.reply(m.ChannelID, "Unknown command. Use "+b.cfg.CommandPrefix+" help for a list of commands.")
	}
}

func (b *Bot) guildOnly(m *discordgo.Message, fn func()) {
	if m.GuildID == "" {
		b.reply(m.ChannelID, "This command only works inside a server.")
		return
	}
	fn()
}

func (b *Bot) handleHelp(m *discordgo.Message) {
	p := b.cfg.CommandPrefix
	b.reply(m.ChannelID, `Highlight words and phrases are not case-sensitive, so coffee, Coffee, and COFFEE all notify you. When one is said by someone else, you get a private message with the message and its context.

Highlights:
`+p+` add <word or phrase> — register a highlight (up to 10 per server)
`+p+` remove <word or phrase> — remove a highlight
`+p+` list — show your highlights in this server
`+p+` clear — remove all your highlights in this server
`+p+` import <server id> — copy your highlights from another server

Blocks:
`+p+` block <@user, #channel, or id> — never get highlighted by them
`+p+` unblock <@user, #channel, or id> — undo a block
`+p+` blocked — list what you have blocked
`+p+` blocked-by <@user> — ask whether someone blocked you

Account:
`+p+` delete-my-account confirm — delete all your highlights and blocks`)
}

func (b *Bot) handleAdd(ctx context.Context, m *discordgo.Message, args string) {
	keyword := index.NormalizeMentions(strings.TrimSpace(args))
	if keyword == "" {
		b.reply(m.ChannelID, "Usage: "+b.cfg.CommandPrefix+" add <word or phrase>")
		return
	}

	if err := b.store.AddHighlight(ctx, m.GuildID, m.Author.ID, keyword); err != nil {
		b.failWith(m, err)
		return
	}
	b.registry.Invalidate(m.GuildID)
	b.react(m, emojiOK)
}

func (b *Bot) handleRemove(ctx context.Context, m *discordgo.Message, args string) {
	keyword := strings.TrimSpace(args)
	if keyword == "" {
		b.reply(m.ChannelID, "Usage: "+b.cfg.CommandPrefix+" remove <word or phrase>")
		return
	}

	if err := b.store.RemoveHighlight(ctx, m.GuildID, m.Author.ID, index.NormalizeMentions(keyword)); err != nil {
		b.failWith(m, err)
		return
	}
	b.registry.Invalidate(m.GuildID)
	b.react(m, emojiOK)
}

func (b *Bot) handleList(ctx context.Context, m *discordgo.Message) {
	keywords, err := b.store.UserHighlights(ctx, m.GuildID, m.Author.ID)
	if err != nil {
		b.failWith(m, err)
		return
	}
	b.reply(m.ChannelID, FormatHighlightList(keywords))
}

func (b *Bot) handleClear(ctx context.Context, m *discordgo.Message) {
	if err := b.store.ClearUser(ctx, m.GuildID, m.Author.ID); err != nil {
		b.failWith(m, err)
		return
	}
	b.registry.Invalidate(m.GuildID)
	b.react(m, emojiOK)
}

func (b *Bot) handleBlock(ctx context.Context, m *discordgo.Message, args string) {
	entityID, kind, err := b.resolveEntity(args)
	if err != nil {
		b.reply(m.ChannelID, err.Error())
		return
	}
	if entityID == m.Author.ID {
		b.reply(m.ChannelID, "You cannot block yourself.")
		return
	}

	if err := b.store.AddBlock(ctx, m.Author.ID, entityID, kind); err != nil {
		b.failWith(m, err)
		return
	}
	// A channel block changes only that channel's registrations. Category
	// blocks span every channel under the category, and the cache is keyed
	// by channel, so those drop the whole guild (as do user blocks, whose
	// kind may have been guessed from a bare ID).
	if kind == model.EntityChannel {
		b.registry.InvalidateChannel(m.GuildID, entityID)
	} else {
		b.registry.Invalidate(m.GuildID)
	}
	b.react(m, emojiOK)
}

func (b *Bot) handleUnblock(ctx context.Context, m *discordgo.Message, args string) {
	entityID, err := parseEntityID(args)
	if err != nil {
		b.reply(m.ChannelID, err.Error())
		return
	}

	if err := b.store.RemoveBlock(ctx, m.Author.ID, entityID); err != nil {
		b.failWith(m, err)
		return
	}
	b.registry.Invalidate(m.GuildID)
	b.react(m, emojiOK)
}

func (b *Bot) handleBlocked(ctx context.Context, m *discordgo.Message) {
	blocks, err := b.store.Blocks(ctx, m.Author.ID)
	if err != nil {
		b.failWith(m, err)
		return
	}
	b.reply(m.ChannelID, FormatBlockList(blocks))
}

func (b *Bot) handleBlockedBy(ctx context.Context, m *discordgo.Message, args string) {
	userID, err := parseUserID(args)
	if err != nil {
		b.reply(m.ChannelID, "Usage: "+b.cfg.CommandPrefix+" blocked-by <@user or id>")
		return
	}

	blocked, err := b.store.Blocked(ctx, userID, m.Author.ID)
	if err != nil {
		b.failWith(m, err)
		return
	}
	if blocked {
		b.reply(m.ChannelID, fmt.Sprintf("Yes, <@%s> has blocked you.", userID))
	} else {
		b.reply(m.ChannelID, fmt.Sprintf("No, <@%s> has not blocked you.", userID))
	}
}

// handleImport copies the author's highlights from another guild into this
// one. The copy is rejected wholesale when it would exceed the limit.
func (b *Bot) handleImport(ctx context.Context, m *discordgo.Message, args string) {
	sourceGuildID := strings.TrimSpace(args)
	if sourceGuildID == "" || !isSnowflake(sourceGuildID) {
		b.reply(m.ChannelID, "Usage: "+b.cfg.CommandPrefix+" import <server id>")
		return
	}
	if sourceGuildID == m.GuildID {
		b.reply(m.ChannelID, "That is this server.")
		return
	}

	if err := b.store.ImportHighlights(ctx, sourceGuildID, m.GuildID, m.Author.ID); err != nil {
		b.failWith(m, err)
		return
	}
	b.registry.Invalidate(m.GuildID)
	b.react(m, emojiOK)
}

func (b *Bot) handleDeleteAccount(ctx context.Context, m *discordgo.Message, args string) {
	if strings.TrimSpace(args) != "confirm" {
		b.reply(m.ChannelID,
			"Are you sure you want to delete your account? This removes all your highlights and blocks, in every server. To confirm, run "+b.cfg.CommandPrefix+" delete-my-account confirm.")
		return
	}

	if err := b.store.DeleteAccount(ctx, m.Author.ID); err != nil {
		b.failWith(m, err)
		return
	}
	b.registry.InvalidateAll()
	b.reply(m.ChannelID, fmt.Sprintf("<@%s> I've deleted your account successfully.", m.Author.ID))
}

// resolveEntity turns a block command argument into an entity ID and kind.
// Channel kinds are looked up so category blocks are stored as such.
func (b *Bot) resolveEntity(args string) (string, model.EntityKind, error) {
	ref := strings.TrimSpace(args)
	if ref == "" {
		return "", "", fmt.Errorf("usage: %s block <@user, #channel, or id>", b.cfg.CommandPrefix)
	}

	if id := index.MentionID(ref); id != "" {
		return id, model.EntityUser, nil
	}
	if id := channelMentionID(ref); id != "" {
		return id, b.channelKind(id), nil
	}
	if isSnowflake(ref) {
		if _, err := b.channel(ref); err == nil {
			return ref, b.channelKind(ref), nil
		}
		return ref, model.EntityUser, nil
	}
	return "", "", fmt.Errorf("could not parse %q as a user or channel", ref)
}

func (b *Bot) channelKind(channelID string) model.EntityKind {
	ch, err := b.channel(channelID)
	if err == nil && ch.Type == discordgo.ChannelTypeGuildCategory {
		return model.EntityCategory
	}
	return model.EntityChannel
}

// failWith acknowledges a failed command: validation errors are explained to
// the user, infrastructure errors are logged and reported generically.
func (b *Bot) failWith(m *discordgo.Message, err error) {
	b.react(m, emojiFail)
	switch {
	case errors.Is(err, storage.ErrTooManyHighlights):
		b.reply(m.ChannelID, fmt.Sprintf("You can only have %d highlight words or phrases per server.", storage.MaxPerUser))
	case errors.Is(err, storage.ErrInvalidHighlightLength):
		b.reply(m.ChannelID, fmt.Sprintf("Highlights must be between %d and %d characters long.", storage.MinKeywordLength, storage.MaxKeywordLength))
	default:
		b.log.Error("command failed", "error", err)
		b.reply(m.ChannelID, "Something went wrong, please try again later.")
	}
}

func (b *Bot) reply(channelID, text string) {
	if _, err := b.api.ChannelMessageSend(channelID, text); err != nil {
		b.log.Error("send reply", "channel_id", channelID, "error", err)
	}
}

func (b *Bot) react(m *discordgo.Message, emoji string) {
	if err := b.api.MessageReactionAdd(m.ChannelID, m.ID, emoji); err != nil {
		b.log.Error("add reaction", "channel_id", m.ChannelID, "error", err)
	}
}
