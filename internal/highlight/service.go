// Package highlight implements the highlight matching and notification
// scheduling engine.
package highlight

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"highlight_bot/internal/activity"
	"highlight_bot/internal/model"
	"highlight_bot/internal/registry"
	"highlight_bot/internal/storage"
)

// Defaults for notification scheduling.
const (
	// DefaultGracePeriod is how long a scheduled notification waits for new
	// activity from the target user before it is delivered.
	DefaultGracePeriod = 10 * time.Second
	// DefaultContextSize is how many surrounding messages a notification
	// includes.
	DefaultContextSize = 8
)

// Chat is the slice of the platform the engine needs.
type Chat interface {
	// Member reports whether the user is currently a member of the guild.
	Member(ctx context.Context, guildID, userID string) (bool, error)
	// MessagesAround returns up to limit messages surrounding the given
	// message, oldest first, including the message itself.
	MessagesAround(ctx context.Context, channelID, messageID string, limit int) ([]model.Message, error)
	// SendDM sends a direct message to the user.
	SendDM(ctx context.Context, userID, content string) error
}

// Config carries the engine's tunables.
type Config struct {
	// SelfID is the bot's own user ID; its messages never trigger highlights.
	SelfID string
	// IsCommand reports whether a message is a bot command invocation. The
	// command layer supplies its own parser here so the two layers cannot
	// disagree on what an invocation is. Nil treats no message as a command.
	IsCommand func(content string) bool
	// GracePeriod is the delay before delivery during which fresh activity
	// cancels the notification. Zero means DefaultGracePeriod.
	GracePeriod time.Duration
	// ContextSize is the number of context messages per notification.
	// Zero means DefaultContextSize.
	ContextSize int
	// DMsPerMinute rate-limits deliveries per recipient. Zero disables the
	// limiter.
	DMsPerMinute int
}

// Service is the highlight engine. It is shared by all concurrently handled
// gateway events; the registry and tracker it owns are safe for concurrent
// use, and each pending notification runs in its own goroutine.
type Service struct {
	cfg      Config
	store    storage.Storage
	registry *registry.Cache
	activity *activity.Tracker
	chat     Chat
	log      *slog.Logger

	wg sync.WaitGroup

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Service over the given collaborators.
func New(cfg Config, store storage.Storage, reg *registry.Cache, tracker *activity.Tracker, chat Chat, log *slog.Logger) *Service {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = DefaultContextSize
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		registry: reg,
		activity: tracker,
		chat:     chat,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Registry returns the cache so the command layer can invalidate it after
// mutations.
func (s *Service) Registry() *registry.Cache {
	return s.registry
}

// OnMessage processes one incoming guild message: it records the author's
// activity, finds eligible highlighted users, and schedules a notification
// for each. Matching errors affect only this message; the event loop keeps
// running.
func (s *Service) OnMessage(ctx context.Context, msg model.Message) {
	if msg.GuildID == "" {
		return
	}
	if msg.AuthorID == s.cfg.SelfID {
		return
	}

	s.activity.Record(msg.ChannelID, msg.AuthorID)

	ix, err := s.registry.Get(ctx, msg.GuildID, msg.ChannelID, msg.CategoryID)
	if err != nil {
		s.log.Error("lookup channel registrations", "guild_id", msg.GuildID, "channel_id", msg.ChannelID, "error", err)
		return
	}
	if ix.Empty() {
		return
	}

	// Command invocations still count as author activity above, but must
	// not trigger anyone's highlights: otherwise registering a command name
	// as a keyword turns every invocation into a notification.
	if s.cfg.IsCommand != nil && s.cfg.IsCommand(msg.Content) {
		return
	}

	f := newFinder(s.store, s.chat, s.log, msg)
	for _, c := range f.run(ctx, ix) {
		// The recency check and the stamp are one atomic step, so concurrent
		// messages from a burst cannot both schedule a notification for the
		// same user. The stamp is optimistic: it does not wake watchers, so
		// it cannot cancel the wait it guards.
		if !s.activity.StampIfInactive(msg.ChannelID, c.UserID) {
			continue
		}

		s.wg.Add(1)
		go func(c candidate) {
			defer s.wg.Done()
			s.waitAndNotify(ctx, c, msg)
		}(c)
	}
}

// OnTyping records a typing signal as channel activity.
func (s *Service) OnTyping(channelID, userID string) {
	if userID == s.cfg.SelfID {
		return
	}
	s.activity.Record(channelID, userID)
}

// OnReaction records a reaction (added or removed) as channel activity.
// The reacted message's creation time approximates when the user saw the
// channel; reacting to an old message should not suppress notifications.
func (s *Service) OnReaction(channelID, userID string, messageCreatedAt time.Time) {
	if userID == s.cfg.SelfID {
		return
	}
	if messageCreatedAt.IsZero() {
		s.activity.Record(channelID, userID)
		return
	}
	s.activity.RecordAt(channelID, userID, messageCreatedAt)
}

// OnMemberRemove clears the departing member's highlights in that guild.
func (s *Service) OnMemberRemove(ctx context.Context, guildID, userID string) {
	if err := s.store.ClearUser(ctx, guildID, userID); err != nil {
		s.log.Error("clear member highlights", "guild_id", guildID, "user_id", userID, "error", err)
		return
	}
	s.registry.Invalidate(guildID)
}

// OnGuildLeave clears every highlight registered in the guild.
func (s *Service) OnGuildLeave(ctx context.Context, guildID string) {
	if err := s.store.ClearGuild(ctx, guildID); err != nil {
		s.log.Error("clear guild highlights", "guild_id", guildID, "error", err)
		return
	}
	s.registry.Invalidate(guildID)
}

// Wait blocks until all in-flight notification waits finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// waitAndNotify holds a scheduled notification through the grace period.
// Genuine activity from the target user in the channel cancels it; context
// cancellation abandons it; otherwise it is delivered once.
func (s *Service) waitAndNotify(ctx context.Context, c candidate, msg model.Message) {
	activityCh, cancel := s.activity.Watch(msg.ChannelID, c.UserID)
	defer cancel()

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-activityCh:
		s.log.Debug("notification cancelled by activity", "channel_id", msg.ChannelID, "user_id", c.UserID)
	case <-timer.C:
		s.deliver(ctx, c, msg)
	}
}

// deliver sends the notification. Failures are swallowed: at-most-once
// delivery, no retries, and one user's failure never affects another's
// pending notification.
func (s *Service) deliver(ctx context.Context, c candidate, msg model.Message) {
	if lim := s.limiter(c.UserID); lim != nil && !lim.Allow() {
		s.log.Debug("notification rate limited", "user_id", c.UserID)
		return
	}

	around, err := s.chat.MessagesAround(ctx, msg.ChannelID, msg.ID, s.cfg.ContextSize)
	if err != nil {
		s.log.Debug("fetch notification context", "channel_id", msg.ChannelID, "error", err)
		around = nil
	}

	content := FormatNotification(c.Keyword, msg, around)
	if err := s.chat.SendDM(ctx, c.UserID, content); err != nil {
		s.log.Debug("send notification", "user_id", c.UserID, "error", err)
		return
	}
	s.log.Info("notification delivered", "user_id", c.UserID, "channel_id", msg.ChannelID, "keyword", c.Keyword)
}

func (s *Service) limiter(userID string) *rate.Limiter {
	if s.cfg.DMsPerMinute <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(s.cfg.DMsPerMinute)/60), s.cfg.DMsPerMinute)
		s.limiters[userID] = lim
	}
	return lim
}
