// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS torrents (
	info_hash       TEXT PRIMARY KEY CHECK (length(info_hash) = 40),
	title           TEXT NOT NULL,
	size            INTEGER NOT NULL DEFAULT 0,
	seeders         INTEGER NOT NULL DEFAULT 0,
	leechers        INTEGER NOT NULL DEFAULT 0,
	magnet_uri      TEXT NOT NULL DEFAULT '',
	files           TEXT NOT NULL DEFAULT '[]',
	sources         TEXT NOT NULL DEFAULT '[]',
	dirty           INTEGER NOT NULL DEFAULT 1,
	enrichment_id   INTEGER REFERENCES enrichments(id),
	release_type    TEXT,
	release_group   TEXT,
	resolution      TEXT,
	canonical_title TEXT,
	year            INTEGER,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_seen_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	indexed_at      TIMESTAMP,
	enriched_at     TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_torrents_dirty ON torrents (dirty) WHERE dirty = 1;
CREATE INDEX IF NOT EXISTS idx_torrents_enrichment ON torrents (enrichment_id);

CREATE TABLE IF NOT EXISTS enrichments (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	provider      TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	overview      TEXT NOT NULL DEFAULT '',
	release_date  TEXT NOT NULL DEFAULT '',
	year          INTEGER,
	runtime       INTEGER,
	genres        TEXT NOT NULL DEFAULT '[]',
	poster_path   TEXT NOT NULL DEFAULT '',
	backdrop_path TEXT NOT NULL DEFAULT '',
	season_count  INTEGER,
	episode_count INTEGER,
	status        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (provider, external_id)
);

CREATE TABLE IF NOT EXISTS blacklist_hashes (
	info_hash  TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS blacklist_trackers (
	substring  TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps the sqlite connection used by every store.
type DB struct {
	conn *sql.DB
}

// New opens (creating if needed) the sqlite database at path and applies the schema.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// modernc sqlite serializes writes; a single writer connection avoids
	// SQLITE_BUSY under concurrent job handlers
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Database opened")
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

// Conn exposes the underlying connection for stores and transactions.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Close() error {
	return db.conn.Close()
}
