// Package bot adapts the Discord gateway to the highlight engine and
// implements the user-facing command layer.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"

	"highlight_bot/internal/activity"
	"highlight_bot/internal/config"
	"highlight_bot/internal/highlight"
	"highlight_bot/internal/model"
	"highlight_bot/internal/registry"
	"highlight_bot/internal/storage"
)

// discordAPI is the slice of *discordgo.Session the bot calls outside of
// gateway lifecycle management. Kept as an interface so handlers can be
// tested against a mock.
type discordAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Bot is the Discord bot: it forwards gateway events into the highlight
// engine and handles user commands.
type Bot struct {
	session  *discordgo.Session
	api      discordAPI
	store    storage.Storage
	registry *registry.Cache
	tracker  *activity.Tracker
	svc      *highlight.Service
	cfg      *config.Config
	log      *slog.Logger
	selfID   string
}

// New creates a Bot with the given Discord token, storage, and config.
func New(cfg *config.Config, store storage.Storage, log *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return &Bot{
		session:  session,
		api:      session,
		store:    store,
		registry: registry.New(store, log),
		tracker:  activity.NewTracker(activity.DefaultCapacity, activity.DefaultWindow),
		cfg:      cfg,
		log:      log,
	}, nil
}

// Run connects to the gateway and dispatches events until ctx is cancelled,
// then waits for in-flight notifications to settle.
func (b *Bot) Run(ctx context.Context) error {
	b.session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageTyping |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentMessageContent

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	b.selfID = b.session.State.User.ID
	b.svc = highlight.New(highlight.Config{
		SelfID:       b.selfID,
		IsCommand:    b.isCommand,
		DMsPerMinute: b.cfg.DMsPerMinute,
	}, b.store, b.registry, b.tracker, b, b.log)

	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessageCreate(ctx, m)
	})
	b.session.AddHandler(func(_ *discordgo.Session, t *discordgo.TypingStart) {
		b.svc.OnTyping(t.ChannelID, t.UserID)
	})
	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		b.onReaction(r.MessageReaction)
	})
	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		b.onReaction(r.MessageReaction)
	})
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
		b.svc.OnMemberRemove(ctx, m.GuildID, m.User.ID)
	})
	b.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		// Unavailable means an outage, not that the bot was removed.
		if g.Unavailable {
			return
		}
		b.svc.OnGuildLeave(ctx, g.ID)
	})

	b.log.Info("connected", "user_id", b.selfID)

	<-ctx.Done()

	if err := b.session.Close(); err != nil {
		b.log.Error("close gateway", "error", err)
	}
	b.svc.Wait()
	return nil
}

// isCommand reports whether a message would be dispatched as a command. The
// highlight engine uses the same definition, so invocations are suppressed
// exactly when they are handled.
func (b *Bot) isCommand(content string) bool {
	_, _, ok := parseCommand(b.cfg.CommandPrefix, content)
	return ok
}

func (b *Bot) onMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	// Bot-authored messages neither trigger highlights nor carry commands.
	if m.Author == nil || m.Author.Bot {
		return
	}

	msg := b.toModelMessage(m.Message)
	if cmd, args, ok := parseCommand(b.cfg.CommandPrefix, m.Content); ok {
		b.handleCommand(ctx, m.Message, cmd, args)
	}
	b.svc.OnMessage(ctx, msg)
}

func (b *Bot) onReaction(r *discordgo.MessageReaction) {
	createdAt, err := discordgo.SnowflakeTimestamp(r.MessageID)
	if err != nil {
		b.svc.OnReaction(r.ChannelID, r.UserID, time.Time{})
		return
	}
	b.svc.OnReaction(r.ChannelID, r.UserID, createdAt)
}

func (b *Bot) toModelMessage(m *discordgo.Message) model.Message {
	msg := model.Message{
		ID:         m.ID,
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    m.Content,
		CreatedAt:  m.Timestamp,
	}
	if ch, err := b.channel(m.ChannelID); err == nil {
		msg.CategoryID = ch.ParentID
	}
	if m.GuildID != "" {
		if g, err := b.guild(m.GuildID); err == nil {
			msg.GuildName = g.Name
		}
	}
	return msg
}

// channel prefers the gateway state cache and falls back to the REST API.
func (b *Bot) channel(channelID string) (*discordgo.Channel, error) {
	if b.session != nil {
		if ch, err := b.session.State.Channel(channelID); err == nil {
			return ch, nil
		}
	}
	return b.api.Channel(channelID)
}

func (b *Bot) guild(guildID string) (*discordgo.Guild, error) {
	if b.session != nil {
		if g, err := b.session.State.Guild(guildID); err == nil {
			return g, nil
		}
	}
	return b.api.Guild(guildID)
}

// Member implements highlight.Chat. A member the platform does not know is
// reported as absent, not as an error.
func (b *Bot) Member(_ context.Context, guildID, userID string) (bool, error) {
	member, err := b.api.GuildMember(guildID, userID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("fetch member: %w", err)
	}
	return member != nil, nil
}

// MessagesAround implements highlight.Chat: up to limit messages around the
// given one, oldest first.
func (b *Bot) MessagesAround(_ context.Context, channelID, messageID string, limit int) ([]model.Message, error) {
	msgs, err := b.api.ChannelMessages(channelID, limit, "", "", messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch messages around: %w", err)
	}

	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Author == nil {
			continue
		}
		out = append(out, model.Message{
			ID:         m.ID,
			GuildID:    m.GuildID,
			ChannelID:  m.ChannelID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			Content:    m.Content,
			CreatedAt:  m.Timestamp,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SendDM implements highlight.Chat.
func (b *Bot) SendDM(_ context.Context, userID, content string) error {
	ch, err := b.api.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	if _, err := b.api.ChannelMessageSend(ch.ID, content); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	switch restErr.Message.Code {
	case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownGuild:
		return true
	}
	return false
}
