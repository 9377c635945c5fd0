package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrTraderNotFound = errors.New("trader not found")
	ErrTraderExists   = errors.New("trader already exists")
	ErrInvalidAPIKey  = errors.New("invalid api key")
)

// CreateTrader registers a trader and returns its API key. Only the bcrypt
// hash of the key is stored, so the key cannot be recovered later.
func (s *Store) CreateTrader(id string) (*Trader, string, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM traders WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return nil, "", errors.Wrap(err, "checking trader")
	}
	if exists {
		return nil, "", ErrTraderExists
	}

	key, hash, err := newAPIKey()
	if err != nil {
		return nil, "", err
	}
	if _, err := s.db.Exec("INSERT INTO traders (id, api_key_hash) VALUES (?, ?)", id, hash); err != nil {
		return nil, "", errors.Wrapf(err, "inserting trader %s", id)
	}
	return &Trader{ID: id, APIKeyHash: hash}, key, nil
}

// RotateKey replaces the trader's API key and returns the new one.
func (s *Store) RotateKey(id string) (string, error) {
	key, hash, err := newAPIKey()
	if err != nil {
		return "", err
	}
	res, err := s.db.Exec("UPDATE traders SET api_key_hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return "", errors.Wrapf(err, "rotating key of %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrTraderNotFound
	}
	return key, nil
}

// AuthenticateTrader checks an API key and returns the trader if valid
func (s *Store) AuthenticateTrader(id, key string) (*Trader, error) {
	t, err := s.GetTrader(id)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(t.APIKeyHash), []byte(key)); err != nil {
		return nil, ErrInvalidAPIKey
	}
	return t, nil
}

// GetTrader retrieves a trader by ID
func (s *Store) GetTrader(id string) (*Trader, error) {
	t := &Trader{}
	err := s.db.QueryRow(
		"SELECT id, api_key_hash, created_at FROM traders WHERE id = ?",
		id,
	).Scan(&t.ID, &t.APIKeyHash, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTraderNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading trader %s", id)
	}
	return t, nil
}

func newAPIKey() (key, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", errors.Wrap(err, "generating api key")
	}
	key = hex.EncodeToString(b)
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", errors.Wrap(err, "hashing api key")
	}
	return key, string(h), nil
}
