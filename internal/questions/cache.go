package questions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jambcbt/battle-backend/internal/battle"
)

// Cache stores the last fetched question set per subject in an embedded
// sqlite file, the client-local equivalent of the browser cache the bank's
// web client keeps.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (and if needed initializes) the cache database at path.
// Use ":memory:" for a throwaway cache.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening question cache: %w", err)
	}
	// Safe to run every open - uses IF NOT EXISTS.
	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS question_set (
    subject  TEXT PRIMARY KEY,
    payload  TEXT NOT NULL,
    saved_at INTEGER NOT NULL
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating question cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) Save(ctx context.Context, subject string, qs []battle.Question) error {
	payload, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO question_set (subject, payload, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(subject) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		subject, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving question cache for %q: %w", subject, err)
	}
	return nil
}

func (c *Cache) Load(ctx context.Context, subject string) ([]battle.Question, error) {
	var payload string
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM question_set WHERE subject = ?`, subject).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoQuestions
	}
	if err != nil {
		return nil, fmt.Errorf("loading question cache for %q: %w", subject, err)
	}
	var qs []battle.Question
	if err := json.Unmarshal([]byte(payload), &qs); err != nil {
		return nil, fmt.Errorf("decoding question cache for %q: %w", subject, err)
	}
	return qs, nil
}

// CachedSubjects lists the subjects with a usable cached set.
func (c *Cache) CachedSubjects(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT subject FROM question_set ORDER BY subject`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
