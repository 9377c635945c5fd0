// Package store journals exchange activity to SQLite and keeps the API
// credentials of traders. It is an append-only record; the exchange never
// reads its state back from here.
package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store provides SQLite persistence for the journal and trader keys
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and runs pending migrations.
// ":memory:" gives a private in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", dbPath)
	}
	// an in-memory database lives as long as its single connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced operations
func (s *Store) DB() *sql.DB {
	return s.db
}

// Trader is a registered API client.
type Trader struct {
	ID         string
	APIKeyHash string
	CreatedAt  time.Time
}

// TradeRecord is one journaled fill. Amounts are base-10 fixed point
// strings.
type TradeRecord struct {
	ID        uint64
	MarketID  string
	Price     uint64
	Size      string
	BuyerID   string
	SellerID  string
	BuyerFee  string
	SellerFee string
	Aggressor string
	CreatedAt time.Time
}

// LiquidationRecord is one journaled forced close.
type LiquidationRecord struct {
	ID          int64
	Trader      string
	MarketID    string
	ClosedSize  string
	MarkPrice   uint64
	RealizedPnL string
	Penalty     string
	BadDebt     string
	CreatedAt   time.Time
}

// AccountSnapshot is the collateral of one trader at a point in time.
type AccountSnapshot struct {
	ID        int64
	Trader    string
	Total     string
	Reserved  string
	CreatedAt time.Time
}
