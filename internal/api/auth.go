package api

import (
	"context"
	"net/http"
	"regexp"

	"github.com/pkg/errors"

	"marginbook/internal/logging"
	"marginbook/internal/store"
)

const (
	HeaderTraderID = "X-Trader-ID"
	HeaderAPIKey   = "X-API-Key"
)

// Credentials registers traders and checks their API keys.
// *store.Store implements it.
type Credentials interface {
	CreateTrader(id string) (*store.Trader, string, error)
	AuthenticateTrader(id, key string) (*store.Trader, error)
}

type ctxKey int

const identityKey ctxKey = iota

// identity is who a request claims to be. verified is set once the API key
// was checked against the credentials; err holds a failed check.
type identity struct {
	trader   string
	verified bool
	err      error
}

var traderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type RegisterRequest struct {
	TraderID string `json:"trader_id"`
}

type RegisterResponse struct {
	TraderID string `json:"trader_id"`
	APIKey   string `json:"api_key"`
}

// identify resolves the caller ahead of rate limiting and routing. A
// request without X-Trader-ID, or with a key that does not check out, stays
// anonymous; the failure is kept for requireTrader. Without credentials
// configured the trader id header is trusted as is, but never verified.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderTraderID)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		who := identity{trader: id}
		if s.creds != nil {
			if _, err := s.creds.AuthenticateTrader(id, r.Header.Get(HeaderAPIKey)); err != nil {
				who = identity{err: err}
			} else {
				who.verified = true
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, who)))
	})
}

// requireTrader rejects requests identify could not attribute to a trader.
func (s *Server) requireTrader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who := identityFrom(r.Context())
		switch {
		case errors.Is(who.err, store.ErrTraderNotFound), errors.Is(who.err, store.ErrInvalidAPIKey):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		case who.err != nil:
			s.log.Error("authentication failed", logging.Trader(r.Header.Get(HeaderTraderID)), logging.Error(who.err))
			writeError(w, http.StatusInternalServerError, "authentication failed")
			return
		case who.trader == "":
			writeError(w, http.StatusUnauthorized, "missing "+HeaderTraderID)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identityFrom(ctx context.Context) identity {
	who, _ := ctx.Value(identityKey).(identity)
	return who
}

func traderFrom(ctx context.Context) string {
	return identityFrom(ctx).trader
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.creds == nil {
		writeError(w, http.StatusNotFound, "registration disabled")
		return
	}
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if !traderIDPattern.MatchString(req.TraderID) {
		writeError(w, http.StatusBadRequest, "trader_id must be 3-32 letters, digits, '.', '_' or '-'")
		return
	}

	_, key, err := s.creds.CreateTrader(req.TraderID)
	if errors.Is(err, store.ErrTraderExists) {
		writeError(w, http.StatusConflict, "trader already registered")
		return
	}
	if err != nil {
		s.log.Error("registration failed", logging.Trader(req.TraderID), logging.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register trader")
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{TraderID: req.TraderID, APIKey: key})
}
