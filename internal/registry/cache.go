// Package registry caches compiled keyword indexes per channel.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"highlight_bot/internal/index"
	"highlight_bot/internal/model"
)

// Loader supplies the active registrations visible to a channel. Implemented
// by the storage layer, which pre-filters subscribers who block the channel
// or its parent category.
type Loader interface {
	ChannelHighlights(ctx context.Context, guildID, channelID, categoryID string) ([]model.Highlight, error)
}

// Cache lazily builds and caches one keyword index per channel, keyed under
// the owning guild. Mutating commands call Invalidate after their store write
// completes and before acknowledging, so a later Get always observes the
// change. Load errors are never cached.
type Cache struct {
	loader Loader
	log    *slog.Logger

	mu     sync.Mutex
	guilds map[string]map[string]*index.Index
	gen    map[string]uint64
}

// New creates an empty Cache over the given loader.
func New(loader Loader, log *slog.Logger) *Cache {
	return &Cache{
		loader: loader,
		log:    log,
		guilds: make(map[string]map[string]*index.Index),
		gen:    make(map[string]uint64),
	}
}

// Get returns the channel's keyword index, building it on first use.
func (c *Cache) Get(ctx context.Context, guildID, channelID, categoryID string) (*index.Index, error) {
	c.mu.Lock()
	if ix, ok := c.guilds[guildID][channelID]; ok {
		c.mu.Unlock()
		return ix, nil
	}
	gen := c.gen[guildID]
	c.gen[guildID] = gen // materialize so guild-wide invalidation sees in-flight loads
	c.mu.Unlock()

	// Load outside the lock; the store call may hit the network.
	highlights, err := c.loader.ChannelHighlights(ctx, guildID, channelID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("load channel highlights: %w", err)
	}
	ix := index.Build(highlights)

	c.mu.Lock()
	defer c.mu.Unlock()

	// An invalidation raced with the load; the result may be stale, so hand
	// it to the caller without caching it.
	if c.gen[guildID] != gen {
		c.log.Debug("registry load raced invalidation", "guild_id", guildID, "channel_id", channelID)
		return ix, nil
	}

	// Most channels of a guild see the same keyword set. Share the compiled
	// matcher with an identical sibling instead of keeping a duplicate.
	for _, cached := range c.guilds[guildID] {
		if ix.SameKeywords(cached) {
			ix = cached
			break
		}
	}

	if c.guilds[guildID] == nil {
		c.guilds[guildID] = make(map[string]*index.Index)
	}
	c.guilds[guildID][channelID] = ix
	return ix, nil
}

// Invalidate drops every cached channel index for a guild.
func (c *Cache) Invalidate(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[guildID]++
	delete(c.guilds, guildID)
}

// InvalidateAll drops every cached index. Used when a mutation spans guilds,
// such as account deletion.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for guildID := range c.gen {
		c.gen[guildID]++
	}
	c.guilds = make(map[string]map[string]*index.Index)
}

// InvalidateChannel drops a single channel's cached index.
func (c *Cache) InvalidateChannel(guildID, channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[guildID]++
	delete(c.guilds[guildID], channelID)
}
