// Package journal records injection reports in SQLite so a daemon can
// answer "what was hidden where" after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/domfilter/wire"
)

// Journal is a report store. It satisfies the sink interface.
type Journal struct {
	db *sql.DB
}

// New wraps an already initialised database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// DB returns the underlying database.
func (j *Journal) DB() *sql.DB { return j.db }

// Send records one row per selector of r.
func (j *Journal) Send(ctx context.Context, r wire.Report) error {
	if len(r.Selectors) == 0 {
		return nil
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	return runTx(ctx, j.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO injections (session_id, page_url, hostname, kind, selector, at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("journal: prepare: %w", err)
		}
		defer stmt.Close()
		for _, sel := range r.Selectors {
			if _, err := stmt.ExecContext(ctx, r.SessionID, r.PageURL, r.Hostname, r.Type, sel, at.UnixMilli()); err != nil {
				return fmt.Errorf("journal: insert: %w", err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// HostStats aggregates injections for one hostname.
type HostStats struct {
	Hostname string `json:"hostname"`
	Cosmetic int64  `json:"cosmetic"`
	Net      int64  `json:"net"`
	Sessions int64  `json:"sessions"`
}

// Stats returns per-host totals, busiest hosts first.
func (j *Journal) Stats(ctx context.Context) ([]HostStats, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT hostname,
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
		       COUNT(DISTINCT session_id)
		FROM injections
		GROUP BY hostname
		ORDER BY COUNT(*) DESC, hostname`, wire.KindCosmetic, wire.KindNet)
	if err != nil {
		return nil, fmt.Errorf("journal: stats: %w", err)
	}
	defer rows.Close()

	var out []HostStats
	for rows.Next() {
		var s HostStats
		if err := rows.Scan(&s.Hostname, &s.Cosmetic, &s.Net, &s.Sessions); err != nil {
			return nil, fmt.Errorf("journal: stats scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Entry is one recorded selector.
type Entry struct {
	SessionID string    `json:"session_id"`
	PageURL   string    `json:"page_url"`
	Hostname  string    `json:"hostname"`
	Kind      string    `json:"kind"`
	Selector  string    `json:"selector"`
	At        time.Time `json:"at"`
}

// Recent returns up to limit entries, newest first. An empty hostname
// matches every host.
func (j *Journal) Recent(ctx context.Context, hostname string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, page_url, hostname, kind, selector, at
		FROM injections
		WHERE ? = '' OR hostname = ?
		ORDER BY at DESC, id DESC
		LIMIT ?`, hostname, hostname, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var atMs int64
		if err := rows.Scan(&e.SessionID, &e.PageURL, &e.Hostname, &e.Kind, &e.Selector, &atMs); err != nil {
			return nil, fmt.Errorf("journal: recent scan: %w", err)
		}
		e.At = time.UnixMilli(atMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
