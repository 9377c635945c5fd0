package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginbook/internal/api"
	"marginbook/internal/exchange"
	"marginbook/internal/fee"
	"marginbook/internal/ledger"
	"marginbook/internal/logging"
	"marginbook/internal/num"
	"marginbook/internal/orderbook"
	"marginbook/internal/store"
	"marginbook/internal/types"
)

const market = "BTC-USD"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testEnv holds all the components needed for e2e testing
type testEnv struct {
	t      *testing.T
	server *httptest.Server
	api    *api.Server
	ex     *exchange.Exchange
	store  *store.Store
	clock  *clock
	keys   map[string]string
}

func setupTestEnv(t *testing.T, opts api.Options) *testEnv {
	t.Helper()

	st, err := store.New(":memory:")
	require.NoError(t, err)

	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	ex := exchange.New(exchange.WithClock(clk.now))
	cfg := exchange.DefaultMarketConfig(market)
	cfg.Fees = fee.Schedule{}
	_, err = ex.AddMarket(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	journal := store.NewJournal(st, logging.NewTestLogger())
	go journal.Run(ctx, ex.Broker().Subscribe(256))

	srv := api.NewServer(ex, st, st, logging.NewTestLogger(), opts)
	ts := httptest.NewServer(srv.Router())

	env := &testEnv{t: t, server: ts, api: srv, ex: ex, store: st, clock: clk, keys: map[string]string{}}
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
		cancel()
		st.Close()
	})
	return env
}

func (e *testEnv) do(method, path, trader string, body interface{}) *http.Response {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if trader != "" {
		req.Header.Set(api.HeaderTraderID, trader)
		req.Header.Set(api.HeaderAPIKey, e.keys[trader])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) expect(resp *http.Response, status int, out interface{}) {
	e.t.Helper()
	require.Equal(e.t, status, resp.StatusCode)
	if out != nil {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func (e *testEnv) register(trader string) {
	e.t.Helper()
	var out api.RegisterResponse
	e.expect(e.do("POST", "/api/traders", "", api.RegisterRequest{TraderID: trader}), http.StatusCreated, &out)
	require.Equal(e.t, trader, out.TraderID)
	require.NotEmpty(e.t, out.APIKey)
	e.keys[trader] = out.APIKey
}

func (e *testEnv) deposit(trader, amount string) api.AccountResponse {
	e.t.Helper()
	var out api.AccountResponse
	e.expect(e.do("POST", "/api/deposits", trader, api.TransferRequest{Amount: amount}), http.StatusOK, &out)
	return out
}

func (e *testEnv) limit(trader, side, price, size string) exchange.OrderResult {
	e.t.Helper()
	var out exchange.OrderResult
	req := api.OrderRequest{Market: market, Side: side, Price: price, Size: size}
	e.expect(e.do("POST", "/api/orders", trader, req), http.StatusOK, &out)
	return out
}

func errorOf(t *testing.T, resp *http.Response) api.ErrorResponse {
	t.Helper()
	var out api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRegisterAndAuthenticate(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.register("alice")

	resp := env.do("POST", "/api/traders", "", api.RegisterRequest{TraderID: "alice"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = env.do("POST", "/api/traders", "", api.RegisterRequest{TraderID: "a b"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do("GET", "/api/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.keys["mallory"] = env.keys["alice"]
	resp = env.do("GET", "/api/account", "mallory", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	good := env.keys["alice"]
	env.keys["alice"] = "wrong"
	resp = env.do("GET", "/api/account", "alice", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env.keys["alice"] = good

	// authenticated, but nothing deposited yet
	resp = env.do("GET", "/api/account", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	acc := env.deposit("alice", "250.5")
	assert.Equal(t, "250500000", acc.Total.String())
	assert.Equal(t, "250500000", acc.Available.String())
}

func TestOrderLifecycle(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.register("alice")
	env.register("bob")
	env.deposit("alice", "1000")
	env.deposit("bob", "1000")

	res := env.limit("alice", "buy", "100", "2")
	assert.True(t, res.Resting)
	assert.Equal(t, num.Quote(200).String(), res.Reserved.String())

	var depth types.Depth
	env.expect(env.do("GET", "/api/markets/"+market+"/depth?levels=5", "", nil), http.StatusOK, &depth)
	require.Len(t, depth.Bids, 1)
	assert.Equal(t, uint64(100_000_000), depth.Bids[0].Price)
	assert.Equal(t, num.Units(2).String(), depth.Bids[0].Volume.String())
	assert.Empty(t, depth.Asks)

	var orders []orderbook.Order
	env.expect(env.do("GET", "/api/markets/"+market+"/orders", "alice", nil), http.StatusOK, &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, res.OrderID, orders[0].ID)

	fill := env.limit("bob", "sell", "100", "2")
	assert.False(t, fill.Resting)
	assert.Equal(t, num.Units(2).String(), fill.Filled.String())
	require.Len(t, fill.Trades, 1)

	var pos types.Position
	env.expect(env.do("GET", "/api/markets/"+market+"/positions/alice", "", nil), http.StatusOK, &pos)
	assert.Equal(t, num.Units(2).String(), pos.Size.String())
	assert.Equal(t, uint64(100_000_000), pos.AvgEntryPrice)

	var acc api.AccountResponse
	env.expect(env.do("GET", "/api/account", "bob", nil), http.StatusOK, &acc)
	require.Len(t, acc.Positions, 1)
	assert.True(t, acc.Positions[0].Size.IsNegative())
	assert.Equal(t, num.Quote(800).String(), acc.Available.String())

	var trades []types.Trade
	env.expect(env.do("GET", "/api/markets/"+market+"/trades?limit=10", "", nil), http.StatusOK, &trades)
	require.Len(t, trades, 1)
	assert.Equal(t, "alice", trades[0].BuyerID)
	assert.Equal(t, types.Sell, trades[0].Aggressor)

	var mark api.MarkResponse
	env.expect(env.do("GET", "/api/markets/"+market+"/mark", "", nil), http.StatusOK, &mark)
	assert.Equal(t, uint64(100_000_000), mark.Price)
	assert.Equal(t, "vwap", mark.Source)

	// the journal picks trades up asynchronously
	require.Eventually(t, func() bool {
		resp := env.do("GET", "/api/account/trades", "alice", nil)
		var journaled []store.TradeRecord
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&journaled) != nil {
			return false
		}
		return len(journaled) == 1 && journaled[0].SellerID == "bob"
	}, time.Second, 10*time.Millisecond)
}

func TestCancelOrder(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.register("alice")
	env.register("bob")
	env.deposit("alice", "1000")

	res := env.limit("alice", "sell", "120", "1")
	path := "/api/orders/" + jsonNumber(uint64(res.OrderID))

	resp := env.do("DELETE", path, "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env.expect(env.do("DELETE", path, "alice", nil), http.StatusOK, nil)

	var acc api.AccountResponse
	env.expect(env.do("GET", "/api/account", "alice", nil), http.StatusOK, &acc)
	assert.True(t, acc.Reserved.IsZero())

	resp = env.do("DELETE", path, "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do("DELETE", "/api/orders/abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorStatuses(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.register("alice")
	env.deposit("alice", "100")

	order := func(req api.OrderRequest) *http.Response {
		return env.do("POST", "/api/orders", "alice", req)
	}

	resp := order(api.OrderRequest{Market: "ETH-USD", Side: "buy", Price: "1", Size: "1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = order(api.OrderRequest{Market: market, Side: "buy", Price: "200", Size: "1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "margin", errorOf(t, resp).Kind)

	resp = order(api.OrderRequest{Market: market, Side: "buy", Price: "1", Size: "1", Mode: "spot"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "margin", errorOf(t, resp).Kind)

	resp = order(api.OrderRequest{Market: market, Side: "buy", Type: "market", Size: "1"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "execution", errorOf(t, resp).Kind)

	for _, bad := range []api.OrderRequest{
		{Market: market, Side: "up", Price: "1", Size: "1"},
		{Market: market, Side: "buy", Price: "abc", Size: "1"},
		{Market: market, Side: "buy", Price: "1.0000001", Size: "1"},
		{Market: market, Side: "buy", Price: "1", Size: "-1"},
		{Market: market, Side: "buy", Price: "1", Size: "1", Type: "stop"},
		{Market: market, Side: "buy", Price: "1", Size: "1", Mode: "cross"},
	} {
		resp = order(bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%+v", bad)
	}

	resp = env.do("POST", "/api/withdrawals", "alice", api.TransferRequest{Amount: "101"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// nothing to liquidate
	resp = env.do("POST", "/api/markets/"+market+"/liquidations/alice", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "liquidation", errorOf(t, resp).Kind)
}

func TestLiquidationEndpoint(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	ctx := context.Background()
	ex := env.ex
	for trader, amount := range map[string]uint64{"alice": 1000, "bob": 1000, "carol": 100, "dave": 100} {
		_, err := ex.Deposit(ctx, trader, num.Quote(amount))
		require.NoError(t, err)
	}
	place := func(trader string, side types.Side, units, dollars uint64) {
		_, err := ex.PlaceLimitOrder(ctx, trader, market, dollars*1_000_000, num.Units(units), side, types.Margin)
		require.NoError(t, err)
	}
	place("bob", types.Sell, 10, 100)
	place("alice", types.Buy, 10, 100)
	env.clock.advance(6 * time.Minute)

	// mid of 3 and 5 leaves alice with equity 40 against maintenance 50
	place("carol", types.Buy, 1, 3)
	place("dave", types.Sell, 1, 5)

	var h exchange.Health
	env.expect(env.do("GET", "/api/markets/"+market+"/health/alice", "", nil), http.StatusOK, &h)
	assert.True(t, h.Liquidatable)
	assert.Equal(t, uint64(4_000_000), h.MarkPrice)

	var out types.LiquidationOutcome
	env.expect(env.do("POST", "/api/markets/"+market+"/liquidations/alice", "", nil), http.StatusOK, &out)
	assert.Equal(t, "alice", out.Trader)
	assert.Equal(t, uint64(4_000_000), out.MarkPrice)
	assert.Equal(t, num.IntFromUint(num.Units(10), true).String(), out.ClosedSize.String())
	assert.Equal(t, num.Quote(1).String(), out.Penalty.String())

	resp := env.do("GET", "/api/markets/"+market+"/positions/alice", "", nil)
	var pos types.Position
	env.expect(resp, http.StatusOK, &pos)
	assert.True(t, pos.Size.IsZero())

	resp = env.do("POST", "/api/markets/"+market+"/liquidations/alice", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var stats exchange.Stats
	env.expect(env.do("GET", "/api/stats", "", nil), http.StatusOK, &stats)
	assert.Equal(t, num.Quote(1).String(), stats.InsuranceFund.String())

	// bob's short lost its counterparty
	var markets []api.MarketResponse
	env.expect(env.do("GET", "/api/markets", "", nil), http.StatusOK, &markets)
	require.Len(t, markets, 1)
	assert.Equal(t, "0", markets[0].OpenInterest)
	assert.Equal(t, num.Units(10).String(), markets[0].ShortInterest)

	require.Eventually(t, func() bool {
		recs, err := env.store.Liquidations("alice")
		return err == nil && len(recs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRateLimit(t *testing.T) {
	env := setupTestEnv(t, api.Options{RateLimit: 3, RateWindow: time.Minute})
	env.register("alice")
	for i := 0; i < 2; i++ {
		env.expect(env.do("GET", "/api/markets", "", nil), http.StatusOK, nil)
	}
	resp := env.do("GET", "/api/markets", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// unverified trader ids share the address budget
	for _, id := range []string{"ghost-1", "ghost-2", "ghost-3"} {
		resp = env.do("GET", "/api/markets", id, nil)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, id)
	}
	good := env.keys["alice"]
	env.keys["alice"] = "wrong"
	resp = env.do("GET", "/api/markets", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	env.keys["alice"] = good

	// a verified trader has a budget of its own
	env.expect(env.do("GET", "/api/markets", "alice", nil), http.StatusOK, nil)
}

func TestMarkets(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	var markets []api.MarketResponse
	env.expect(env.do("GET", "/api/markets", "", nil), http.StatusOK, &markets)
	require.Len(t, markets, 1)
	assert.Equal(t, market, markets[0].ID)
	assert.True(t, markets[0].MarginOnly)
	assert.Equal(t, "default", markets[0].MarkSource)
	assert.Equal(t, "0", markets[0].OpenInterest)
	assert.Equal(t, "0", markets[0].ShortInterest)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	env := setupTestEnv(t, api.Options{CORSOrigins: []string{"http://allowed.example"}})
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?market=" + market + "&types=trade,account"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.api.Clients() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	_, err = env.ex.Deposit(ctx, "alice", num.Quote(100))
	require.NoError(t, err)

	var msg struct {
		Type  string `json:"type"`
		Event struct {
			Account ledger.Account `json:"account"`
		} `json:"event"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "account", msg.Type)
	assert.Equal(t, "alice", msg.Event.Account.Trader)
	assert.Equal(t, num.Quote(100).String(), msg.Event.Account.Total.String())

	resp = env.do("GET", "/ws?types=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
