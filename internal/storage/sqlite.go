// Package storage handles database connections, schema migrations, and match
// history persistence using SQLite.
package storage

import (
	"database/sql"
	"time"

	"github.com/woozymasta/muster/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters, and runs migrations.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordMatch persists a finalized match together with its per-client
// dispositions in a single transaction.
func (r *Repository) RecordMatch(rec models.MatchRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO matches (id, outcome, info, client_count, created_at, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Outcome, rec.Info, len(rec.Clients), rec.CreatedAt, rec.FinalizedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	for _, c := range rec.Clients {
		_, err = tx.Exec(`
			INSERT INTO match_clients (match_id, client, disposition, country_code)
			VALUES (?, ?, ?, ?)`,
			rec.ID, c.Name, c.Disposition, c.CountryCode,
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetMatches retrieves up to limit recorded matches, most recently finalized
// first, with their client dispositions attached.
func (r *Repository) GetMatches(limit int) ([]models.MatchRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, outcome, info, created_at, finalized_at
		FROM matches
		ORDER BY finalized_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []models.MatchRecord
	for rows.Next() {
		var rec models.MatchRecord
		if err := rows.Scan(&rec.ID, &rec.Outcome, &rec.Info, &rec.CreatedAt, &rec.FinalizedAt); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recs {
		clients, err := r.getMatchClients(recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].Clients = clients
	}

	return recs, nil
}

func (r *Repository) getMatchClients(matchID string) ([]models.MatchClient, error) {
	rows, err := r.db.Query(`
		SELECT client, disposition, country_code
		FROM match_clients
		WHERE match_id = ?
		ORDER BY client`, matchID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var clients []models.MatchClient
	for rows.Next() {
		var c models.MatchClient
		if err := rows.Scan(&c.Name, &c.Disposition, &c.CountryCode); err != nil {
			continue
		}
		clients = append(clients, c)
	}

	return clients, rows.Err()
}

// PruneBefore deletes matches finalized before the cutoff and returns the
// number of removed match rows.
func (r *Repository) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM matches WHERE finalized_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
