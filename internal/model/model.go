// Package model defines the domain types used across the application.
package model

import "time"

// Highlight represents a keyword registered by a user in one guild.
// Keyword preserves the casing the user typed; matching is case-insensitive.
type Highlight struct {
	GuildID   string
	UserID    string
	Keyword   string
	CreatedAt time.Time
}

// EntityKind defines what kind of entity a block targets.
type EntityKind string

// Supported block targets.
const (
	EntityUser     EntityKind = "user"
	EntityChannel  EntityKind = "channel"
	EntityCategory EntityKind = "category"
)

// Block represents a user-initiated suppression of notifications from a
// specific user, channel, or channel category.
type Block struct {
	UserID    string
	EntityID  string
	Kind      EntityKind
	CreatedAt time.Time
}

// Message is a platform-neutral view of a chat message.
type Message struct {
	ID         string
	GuildID    string
	GuildName  string
	ChannelID  string
	CategoryID string
	AuthorID   string
	AuthorName string
	Content    string
	CreatedAt  time.Time
}
