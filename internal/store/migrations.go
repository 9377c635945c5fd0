package store

import (
	"github.com/pkg/errors"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order; append new ones with the next version.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Traders",
		SQL: `
		CREATE TABLE IF NOT EXISTS traders (
			id TEXT PRIMARY KEY,
			api_key_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		`,
	},
	{
		Version:     2,
		Description: "Trade and liquidation journal",
		SQL: `
		CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY,
			market_id TEXT NOT NULL,
			price INTEGER NOT NULL,
			size TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			buyer_fee TEXT NOT NULL DEFAULT '0',
			seller_fee TEXT NOT NULL DEFAULT '0',
			aggressor TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS liquidations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trader_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			closed_size TEXT NOT NULL,
			mark_price INTEGER NOT NULL,
			realized_pnl TEXT NOT NULL,
			penalty TEXT NOT NULL,
			bad_debt TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id, id);
		CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades(buyer_id);
		CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades(seller_id);
		CREATE INDEX IF NOT EXISTS idx_liquidations_trader ON liquidations(trader_id);
		`,
	},
	{
		Version:     3,
		Description: "Account snapshots",
		SQL: `
		CREATE TABLE IF NOT EXISTS account_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trader_id TEXT NOT NULL,
			total TEXT NOT NULL,
			reserved TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_trader ON account_snapshots(trader_id, id);
		`,
	},
}

const schemaTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`

// appliedVersions returns the recorded migration versions in order.
func (s *Store) appliedVersions() ([]int, error) {
	if _, err := s.db.Exec(schemaTable); err != nil {
		return nil, errors.Wrap(err, "creating schema_migrations")
	}
	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, errors.Wrap(err, "reading schema_migrations")
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scanning schema version")
		}
		versions = append(versions, v)
	}
	return versions, errors.Wrap(rows.Err(), "iterating schema versions")
}

// Migrate applies every migration newer than the last recorded one, each
// in its own transaction.
func (s *Store) Migrate() error {
	applied, err := s.appliedVersions()
	if err != nil {
		return err
	}
	current := 0
	if n := len(applied); n > 0 {
		current = applied[n-1]
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.apply(m); err != nil {
			return errors.Wrapf(err, "migration %d (%s)", m.Version, m.Description)
		}
	}
	return nil
}

func (s *Store) apply(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationStatus lists the applied versions and the known ones not yet
// applied.
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	applied, err = s.appliedVersions()
	if err != nil {
		return nil, nil, err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	for _, m := range migrations {
		if !done[m.Version] {
			pending = append(pending, m.Version)
		}
	}
	return applied, pending, nil
}
