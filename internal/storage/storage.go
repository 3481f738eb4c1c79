// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"highlight_bot/internal/model"
)

// Limits on user-registered highlight keywords.
const (
	MinKeywordLength = 2
	MaxKeywordLength = 200
	MaxPerUser       = 10
)

// Validation errors surfaced to the command layer. They describe bad user
// input, not infrastructure failures, and are never retried.
var (
	ErrInvalidHighlightLength = errors.New("highlight must be between 2 and 200 characters")
	ErrTooManyHighlights      = errors.New("too many highlights")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// ChannelHighlights returns every highlight registered in the guild,
	// excluding highlights of users who block the channel or its category.
	ChannelHighlights(ctx context.Context, guildID, channelID, categoryID string) ([]model.Highlight, error)
	UserHighlights(ctx context.Context, guildID, userID string) ([]string, error)
	// AddHighlight registers a keyword. Registering an already-registered
	// keyword is a silent no-op.
	AddHighlight(ctx context.Context, guildID, userID, keyword string) error
	RemoveHighlight(ctx context.Context, guildID, userID, keyword string) error
	ClearUser(ctx context.Context, guildID, userID string) error
	ClearGuild(ctx context.Context, guildID string) error
	// ImportHighlights copies the user's keywords from one guild to another.
	// The copy is all-or-nothing: if the combined count would exceed the
	// per-user limit, nothing is copied and ErrTooManyHighlights is returned.
	ImportHighlights(ctx context.Context, sourceGuildID, targetGuildID, userID string) error
	HighlightCount(ctx context.Context, guildID, userID string) (int, error)

	// Blocked reports whether userID has blocked entityID.
	Blocked(ctx context.Context, userID, entityID string) (bool, error)
	Blocks(ctx context.Context, userID string) ([]model.Block, error)
	AddBlock(ctx context.Context, userID, entityID string, kind model.EntityKind) error
	RemoveBlock(ctx context.Context, userID, entityID string) error

	// DeleteAccount removes every highlight and block owned by the user,
	// across all guilds.
	DeleteAccount(ctx context.Context, userID string) error

	Close() error
}
