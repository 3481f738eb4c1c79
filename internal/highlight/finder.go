package highlight

import (
	"context"
	"log/slog"

	"highlight_bot/internal/index"
	"highlight_bot/internal/model"
	"highlight_bot/internal/storage"
)

// candidate is a user who should be notified, with the keyword (in their
// preferred casing) that triggered it.
type candidate struct {
	UserID  string
	Keyword string
}

// finder applies the eligibility rules to one message's raw keyword matches.
// A finder lives for a single message; seen carries the per-message dedup so
// a user with several matching keywords is notified once, first match wins.
type finder struct {
	store storage.Storage
	chat  Chat
	log   *slog.Logger
	msg   model.Message
	seen  map[string]struct{}
}

func newFinder(store storage.Storage, chat Chat, log *slog.Logger, msg model.Message) *finder {
	return &finder{
		store: store,
		chat:  chat,
		log:   log,
		msg:   msg,
		seen:  make(map[string]struct{}),
	}
}

// run searches the message and filters every subscriber of every match.
func (f *finder) run(ctx context.Context, ix *index.Index) []candidate {
	content := index.NormalizeMentions(f.msg.Content)

	var out []candidate
	for _, m := range ix.Search(content) {
		for _, sub := range m.Subscribers {
			ok, err := f.shouldNotify(ctx, m, sub)
			if err != nil {
				f.log.Error("filter candidate", "user_id", sub.UserID, "message_id", f.msg.ID, "error", err)
				continue
			}
			if ok {
				out = append(out, candidate{UserID: sub.UserID, Keyword: sub.Keyword})
			}
		}
	}
	return out
}

// shouldNotify applies the per-candidate rules in order, short-circuiting on
// the first failure. Command-invocation and bot-author checks happen at the
// message level before the finder runs.
func (f *finder) shouldNotify(ctx context.Context, m index.Match, sub index.Subscriber) (bool, error) {
	// Users may not highlight themselves.
	if sub.UserID == f.msg.AuthorID {
		return false, nil
	}

	if _, ok := f.seen[sub.UserID]; ok {
		return false, nil
	}

	// A user who left the guild is dropped silently.
	member, err := f.chat.Member(ctx, f.msg.GuildID, sub.UserID)
	if err != nil {
		return false, err
	}
	if !member {
		return false, nil
	}

	// Mention parity: a keyword registered as a mention token only matches
	// literal mention tokens for the same target, and a plain keyword must
	// not match inside someone's mention.
	subMention := index.IsMention(sub.Keyword)
	if subMention != (m.Mention != "") {
		return false, nil
	}
	if subMention && index.MentionID(sub.Keyword) != index.MentionID(m.Mention) {
		return false, nil
	}

	// Channel and category blocks were filtered out of the registry; the
	// author block depends on who is speaking, so it is checked here.
	blocked, err := f.store.Blocked(ctx, sub.UserID, f.msg.AuthorID)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}

	f.seen[sub.UserID] = struct{}{}
	return true, nil
}
