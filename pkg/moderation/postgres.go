package moderation

import (
	"context"
	"database/sql"
	"fmt"

	"chatsync/pkg/apperr"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_bans (
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (conversation_id, user_id)
);
CREATE TABLE IF NOT EXISTS chat_blocks (
	blocker_id TEXT NOT NULL,
	blocked_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (blocker_id, blocked_id)
);`

// Postgres reads moderation state owned by the membership service's
// database.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with lib/pq and makes sure the tables exist.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create moderation schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) exists(ctx context.Context, op, q string, args ...any) (bool, error) {
	var ok bool
	if err := p.db.QueryRowContext(ctx, q, args...).Scan(&ok); err != nil {
		return false, apperr.TransientIO(op, err)
	}
	return ok, nil
}

func (p *Postgres) IsBlocked(ctx context.Context, blocker, blocked string) (bool, error) {
	return p.exists(ctx, "moderation.is_blocked",
		`SELECT EXISTS(SELECT 1 FROM chat_blocks WHERE blocker_id = $1 AND blocked_id = $2)`, blocker, blocked)
}

func (p *Postgres) IsBanned(ctx context.Context, conv, user string) (bool, error) {
	return p.exists(ctx, "moderation.is_banned",
		`SELECT EXISTS(SELECT 1 FROM chat_bans WHERE conversation_id = $1 AND user_id = $2)`, conv, user)
}

func (p *Postgres) SetBan(ctx context.Context, conv, user string, banned bool) error {
	q := `INSERT INTO chat_bans (conversation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if !banned {
		q = `DELETE FROM chat_bans WHERE conversation_id = $1 AND user_id = $2`
	}
	if _, err := p.db.ExecContext(ctx, q, conv, user); err != nil {
		return apperr.TransientIO("moderation.set_ban", err)
	}
	return nil
}

func (p *Postgres) SetBlock(ctx context.Context, blocker, blocked string, on bool) error {
	q := `INSERT INTO chat_blocks (blocker_id, blocked_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if !on {
		q = `DELETE FROM chat_blocks WHERE blocker_id = $1 AND blocked_id = $2`
	}
	if _, err := p.db.ExecContext(ctx, q, blocker, blocked); err != nil {
		return apperr.TransientIO("moderation.set_block", err)
	}
	return nil
}
