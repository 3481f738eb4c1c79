package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"highlight_bot/internal/model"
	"highlight_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ChannelHighlights returns every highlight registered in the guild whose
// owner does not block the channel or its parent category. Author blocks are
// deliberately not filtered here; they depend on the message author and are
// checked per candidate at match time.
func (s *SQLite) ChannelHighlights(ctx context.Context, guildID, channelID, categoryID string) ([]model.Highlight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id, user_id, keyword, created_at
		 FROM highlights h
		 WHERE guild_id = ?
		   AND NOT EXISTS (
		       SELECT 1 FROM blocks b
		       WHERE b.user_id = h.user_id AND b.entity_id IN (?, ?)
		   )
		 ORDER BY user_id, lower(keyword)`,
		guildID, channelID, categoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("query channel highlights: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanHighlights(rows)
}

// UserHighlights returns the user's registered keywords in one guild,
// in their preferred casing.
func (s *SQLite) UserHighlights(ctx context.Context, guildID, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword FROM highlights
		 WHERE guild_id = ? AND user_id = ?
		 ORDER BY lower(keyword)`,
		guildID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user highlights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keywords []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

// AddHighlight registers a keyword after validating its length and the
// per-user limit. A duplicate (case-insensitive) insert is a no-op.
func (s *SQLite) AddHighlight(ctx context.Context, guildID, userID, keyword string) error {
	if n := len([]rune(keyword)); n < MinKeywordLength || n > MaxKeywordLength {
		return ErrInvalidHighlightLength
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	count, err := highlightCount(ctx, tx, guildID, userID)
	if err != nil {
		return err
	}
	if count >= MaxPerUser {
		return ErrTooManyHighlights
	}

	now := time.Now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO highlights (guild_id, user_id, keyword, created_at) VALUES (?, ?, ?, ?)`,
		guildID, userID, keyword, now,
	); err != nil {
		return fmt.Errorf("insert highlight: %w", err)
	}
	return tx.Commit()
}

// RemoveHighlight deletes one keyword, matched case-insensitively.
func (s *SQLite) RemoveHighlight(ctx context.Context, guildID, userID, keyword string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM highlights WHERE guild_id = ? AND user_id = ? AND lower(keyword) = lower(?)`,
		guildID, userID, keyword,
	)
	if err != nil {
		return fmt.Errorf("delete highlight: %w", err)
	}
	return nil
}

// ClearUser removes all of the user's keywords in one guild.
func (s *SQLite) ClearUser(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM highlights WHERE guild_id = ? AND user_id = ?`, guildID, userID,
	)
	if err != nil {
		return fmt.Errorf("clear user highlights: %w", err)
	}
	return nil
}

// ClearGuild removes every keyword registered in the guild.
func (s *SQLite) ClearGuild(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE guild_id = ?`, guildID)
	if err != nil {
		return fmt.Errorf("clear guild highlights: %w", err)
	}
	return nil
}

// ImportHighlights copies the user's keywords from sourceGuildID into
// targetGuildID inside one transaction, enforcing the combined limit.
func (s *SQLite) ImportHighlights(ctx context.Context, sourceGuildID, targetGuildID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sourceCount, err := highlightCount(ctx, tx, sourceGuildID, userID)
	if err != nil {
		return err
	}
	targetCount, err := highlightCount(ctx, tx, targetGuildID, userID)
	if err != nil {
		return err
	}
	if sourceCount+targetCount >= MaxPerUser {
		return ErrTooManyHighlights
	}

	now := time.Now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO highlights (guild_id, user_id, keyword, created_at)
		 SELECT ?, user_id, keyword, ? FROM highlights WHERE guild_id = ? AND user_id = ?`,
		targetGuildID, now, sourceGuildID, userID,
	); err != nil {
		return fmt.Errorf("copy highlights: %w", err)
	}
	return tx.Commit()
}

// HighlightCount returns how many keywords the user has in one guild.
func (s *SQLite) HighlightCount(ctx context.Context, guildID, userID string) (int, error) {
	return highlightCount(ctx, s.db, guildID, userID)
}

// Blocked reports whether userID has blocked entityID.
func (s *SQLite) Blocked(ctx context.Context, userID, entityID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocks WHERE user_id = ? AND entity_id = ?`, userID, entityID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check blocked: %w", err)
	}
	return count > 0, nil
}

// Blocks returns every entity the user has blocked.
func (s *SQLite) Blocks(ctx context.Context, userID string) ([]model.Block, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, entity_id, kind, created_at FROM blocks WHERE user_id = ? ORDER BY created_at, entity_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blocks []model.Block
	for rows.Next() {
		var b model.Block
		var kind, created string
		if err := rows.Scan(&b.UserID, &b.EntityID, &kind, &created); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Kind = model.EntityKind(kind)
		b.CreatedAt, _ = time.Parse(timeLayout, created)
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// AddBlock records a block. Blocking an already-blocked entity is a no-op.
func (s *SQLite) AddBlock(ctx context.Context, userID, entityID string, kind model.EntityKind) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blocks (user_id, entity_id, kind, created_at) VALUES (?, ?, ?, ?)`,
		userID, entityID, string(kind), now,
	)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// RemoveBlock deletes a block.
func (s *SQLite) RemoveBlock(ctx context.Context, userID, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE user_id = ? AND entity_id = ?`, userID, entityID,
	)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// DeleteAccount removes all highlights and blocks owned by the user.
func (s *SQLite) DeleteAccount(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM highlights WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete highlights: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete blocks: %w", err)
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func highlightCount(ctx context.Context, q querier, guildID, userID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM highlights WHERE guild_id = ? AND user_id = ?`, guildID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count highlights: %w", err)
	}
	return count, nil
}

func scanHighlights(rows *sql.Rows) ([]model.Highlight, error) {
	var highlights []model.Highlight
	for rows.Next() {
		var h model.Highlight
		var created string
		if err := rows.Scan(&h.GuildID, &h.UserID, &h.Keyword, &created); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		h.CreatedAt, _ = time.Parse(timeLayout, created)
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}
