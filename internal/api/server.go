// Package api exposes the exchange over HTTP and streams its events over
// websockets.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"marginbook/internal/events"
	"marginbook/internal/exchange"
	"marginbook/internal/logging"
	"marginbook/internal/store"
	"marginbook/internal/types"
)

const namedLogger = "api"

// TradeHistory serves journaled trades. *store.Store implements it.
type TradeHistory interface {
	TraderTrades(trader string, limit int) ([]store.TradeRecord, error)
}

type Options struct {
	// CORSOrigins lists allowed origins; empty allows all (development).
	CORSOrigins []string
	// RateLimit requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

type Server struct {
	ex          *exchange.Exchange
	hub         *Hub
	creds       Credentials
	history     TradeHistory
	log         *logging.Logger
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	corsOrigins []string
	cancel      context.CancelFunc
}

// NewServer wires the API to ex. creds and history may be nil: without
// credentials the trader header is trusted, without history the journal
// endpoint is disabled.
func NewServer(ex *exchange.Exchange, creds Credentials, history TradeHistory, log *logging.Logger, opts Options) *Server {
	s := &Server{
		ex:          ex,
		hub:         NewHub(),
		creds:       creds,
		history:     history,
		log:         log.Named(namedLogger),
		corsOrigins: opts.CORSOrigins,
	}
	if opts.RateLimit > 0 {
		window := opts.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		s.rateLimiter = NewRateLimiter(opts.RateLimit, window)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.hub.Run(ctx, ex.Broker().Subscribe(1024))
	return s
}

// checkCORSOrigin checks if an origin is allowed
func (s *Server) checkCORSOrigin(origin string) bool {
	// Empty list = allow all (development mode)
	if len(s.corsOrigins) == 0 {
		return true
	}
	// Empty origin header = same-origin request, always allow
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.identify)
	if s.rateLimiter != nil {
		r.Use(s.rateLimiter.Middleware)
	}
	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderTraderID, HeaderAPIKey},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/traders", s.handleRegister)
		r.Get("/stats", s.getStats)

		r.Route("/markets", func(r chi.Router) {
			r.Get("/", s.getMarkets)
			r.Route("/{market}", func(r chi.Router) {
				r.Get("/depth", s.getDepth)
				r.Get("/mark", s.getMark)
				r.Get("/vwap", s.getVWAP)
				r.Get("/trades", s.getTrades)
				r.Get("/positions/{trader}", s.getPosition)
				r.Get("/health/{trader}", s.getHealth)
				// anyone may trigger the liquidation of an unhealthy position
				r.Post("/liquidations/{trader}", s.liquidate)
				r.With(s.requireTrader).Get("/orders", s.getOrders)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireTrader)
			r.Get("/account", s.getAccount)
			r.Get("/account/trades", s.getAccountTrades)
			r.Post("/deposits", s.deposit)
			r.Post("/withdrawals", s.withdraw)
			r.Post("/orders", s.submitOrder)
			r.Delete("/orders/{id}", s.cancelOrder)
		})
	})

	r.Get("/ws", s.handleWebSocket)
	return r
}

// logRequests logs every request at debug level and server errors at
// error level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := []logging.Field{
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("took", time.Since(start)),
			logging.String("request_id", middleware.GetReqID(r.Context())),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.log.Error("request failed", fields...)
			return
		}
		s.log.Debug("request", fields...)
	})
}

func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	ids := s.ex.Markets()
	out := make([]MarketResponse, 0, len(ids))
	for _, id := range ids {
		m, err := s.ex.Market(id)
		if err != nil {
			continue
		}
		out = append(out, newMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getDepth(w http.ResponseWriter, r *http.Request) {
	levels := queryInt(r, "levels", 20)
	depth, err := s.ex.Depth(chi.URLParam(r, "market"), levels)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}

func (s *Server) getMark(w http.ResponseWriter, r *http.Request) {
	market := chi.URLParam(r, "market")
	price, src, err := s.ex.MarkPriceWithSource(market)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkResponse{MarketID: market, Price: price, Source: string(src)})
}

func (s *Server) getVWAP(w http.ResponseWriter, r *http.Request) {
	windows, err := s.ex.VWAPWindows(chi.URLParam(r, "market"))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.ex.RecentTrades(chi.URLParam(r, "market"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	pos, ok, err := s.ex.Position(chi.URLParam(r, "trader"), chi.URLParam(r, "market"))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.ex.Health(chi.URLParam(r, "trader"), chi.URLParam(r, "market"))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	out, err := s.ex.CheckAndLiquidate(r.Context(), chi.URLParam(r, "trader"), chi.URLParam(r, "market"))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ex.Stats())
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	trader := traderFrom(r.Context())
	acc, ok := s.ex.Account(trader)
	if !ok {
		writeError(w, http.StatusNotFound, "no account, deposit first")
		return
	}
	resp := AccountResponse{
		Trader:    acc.Trader,
		Total:     acc.Total,
		Reserved:  acc.Reserved,
		Available: acc.Available(),
	}
	for _, id := range s.ex.Markets() {
		if pos, ok, err := s.ex.Position(trader, id); err == nil && ok && pos.IsActive() {
			resp.Positions = append(resp.Positions, *pos)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getAccountTrades(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "trade journal disabled")
		return
	}
	trades, err := s.history.TraderTrades(traderFrom(r.Context()), queryInt(r, "limit", 50))
	if err != nil {
		s.log.Error("loading trades failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, s.ex.Deposit)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, s.ex.Withdraw)
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trader := traderFrom(r.Context())

	if o.market {
		res, err := s.ex.PlaceMarketOrder(r.Context(), trader, req.Market, o.size, o.side, req.MaxSlippageBps)
		if err != nil {
			s.writeCoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := s.ex.PlaceLimitOrder(r.Context(), trader, req.Market, o.price, o.size, o.side, o.mode)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.ex.Orders(traderFrom(r.Context()), chi.URLParam(r, "market"))
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if err := s.ex.CancelOrder(r.Context(), traderFrom(r.Context()), types.OrderID(id)); err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	client := &Client{
		hub:    s.hub,
		send:   make(chan []byte, sendBuffer),
		market: r.URL.Query().Get("market"),
		types:  map[events.Type]bool{},
	}
	if list := r.URL.Query().Get("types"); list != "" {
		for _, name := range strings.Split(list, ",") {
			t, ok := events.ParseType(strings.TrimSpace(name))
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown event type "+name)
				return
			}
			if t != events.All {
				client.types[t] = true
			}
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client.conn = conn
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.hub.Clients()
}

// Shutdown stops internal goroutines (rate limiter, hub, event feed)
func (s *Server) Shutdown() {
	s.cancel()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.hub.Stop()
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
