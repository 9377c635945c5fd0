package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"marginbook/internal/events"
	"marginbook/internal/ledger"
	"marginbook/internal/logging"
	"marginbook/internal/num"
	"marginbook/internal/types"
)

var ts = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func trade(id uint64, market, buyer, seller string, price uint64) types.Trade {
	return types.Trade{
		ID:        id,
		MarketID:  market,
		Price:     price,
		Size:      num.Units(1),
		BuyerID:   buyer,
		SellerID:  seller,
		BuyerFee:  num.NewUint(500),
		SellerFee: num.UintZero(),
		Aggressor: types.Buy,
		Timestamp: ts.Add(time.Duration(id) * time.Second),
	}
}

// ==================== MIGRATION TESTS ====================

func TestMigrationsApplied(t *testing.T) {
	s := setupTestStore(t)

	applied, pending, err := s.MigrationStatus()
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending migrations, got %v", pending)
	}
	if len(applied) != len(migrations) {
		t.Errorf("expected %d applied migrations, got %d", len(migrations), len(applied))
	}

	// running again is a no-op
	if err := s.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestReopenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, _, err := s.CreateTrader("alice"); err != nil {
		t.Fatalf("CreateTrader failed: %v", err)
	}
	s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	if _, err := s.GetTrader("alice"); err != nil {
		t.Errorf("expected trader to survive reopen: %v", err)
	}
}

// ==================== TRADER TESTS ====================

func TestCreateAndAuthenticateTrader(t *testing.T) {
	s := setupTestStore(t)

	tr, key, err := s.CreateTrader("alice")
	if err != nil {
		t.Fatalf("CreateTrader failed: %v", err)
	}
	if key == "" {
		t.Fatal("expected an api key")
	}
	if tr.APIKeyHash == key {
		t.Error("api key should be hashed, not stored in plain text")
	}

	if _, err := s.AuthenticateTrader("alice", key); err != nil {
		t.Errorf("AuthenticateTrader failed: %v", err)
	}
	if _, err := s.AuthenticateTrader("alice", "wrong"); err != ErrInvalidAPIKey {
		t.Errorf("expected ErrInvalidAPIKey, got %v", err)
	}
	if _, err := s.AuthenticateTrader("bob", key); err != ErrTraderNotFound {
		t.Errorf("expected ErrTraderNotFound, got %v", err)
	}
	if _, _, err := s.CreateTrader("alice"); err != ErrTraderExists {
		t.Errorf("expected ErrTraderExists, got %v", err)
	}
}

func TestRotateKey(t *testing.T) {
	s := setupTestStore(t)
	_, old, err := s.CreateTrader("alice")
	if err != nil {
		t.Fatalf("CreateTrader failed: %v", err)
	}

	fresh, err := s.RotateKey("alice")
	if err != nil {
		t.Fatalf("RotateKey failed: %v", err)
	}
	if _, err := s.AuthenticateTrader("alice", old); err != ErrInvalidAPIKey {
		t.Errorf("old key should be rejected, got %v", err)
	}
	if _, err := s.AuthenticateTrader("alice", fresh); err != nil {
		t.Errorf("new key rejected: %v", err)
	}
	if _, err := s.RotateKey("nobody"); err != ErrTraderNotFound {
		t.Errorf("expected ErrTraderNotFound, got %v", err)
	}
}

// ==================== JOURNAL TESTS ====================

func TestRecordAndQueryTrades(t *testing.T) {
	s := setupTestStore(t)

	for i, tr := range []types.Trade{
		trade(1, "BTC-USD", "alice", "bob", 100_000_000),
		trade(2, "BTC-USD", "carol", "alice", 101_000_000),
		trade(3, "ETH-USD", "bob", "carol", 5_000_000),
	} {
		if err := s.RecordTrade(tr); err != nil {
			t.Fatalf("RecordTrade %d failed: %v", i, err)
		}
	}
	// replays are ignored
	if err := s.RecordTrade(trade(1, "BTC-USD", "alice", "bob", 100_000_000)); err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	btc, err := s.RecentTrades("BTC-USD", 10)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	if len(btc) != 2 {
		t.Fatalf("expected 2 BTC trades, got %d", len(btc))
	}
	if btc[0].ID != 2 {
		t.Errorf("expected newest first, got id %d", btc[0].ID)
	}
	if btc[1].Size != num.Units(1).String() || btc[1].BuyerFee != "500" {
		t.Errorf("unexpected amounts: size %s fee %s", btc[1].Size, btc[1].BuyerFee)
	}
	if btc[1].Aggressor != "buy" {
		t.Errorf("expected aggressor buy, got %s", btc[1].Aggressor)
	}

	alice, err := s.TraderTrades("alice", 10)
	if err != nil {
		t.Fatalf("TraderTrades failed: %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("expected 2 trades for alice, got %d", len(alice))
	}

	limited, err := s.RecentTrades("BTC-USD", 1)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestRecordLiquidation(t *testing.T) {
	s := setupTestStore(t)
	out := types.LiquidationOutcome{
		Trader:      "bob",
		MarketID:    "BTC-USD",
		ClosedSize:  num.IntFromUint(num.Units(10), false),
		MarkPrice:   300_000_000,
		RealizedPnL: num.IntFromUint(num.Quote(2000), false),
		Penalty:     num.UintZero(),
		BadDebt:     num.Quote(1000),
		Timestamp:   ts,
	}
	if err := s.RecordLiquidation(out); err != nil {
		t.Fatalf("RecordLiquidation failed: %v", err)
	}

	recs, err := s.Liquidations("bob")
	if err != nil {
		t.Fatalf("Liquidations failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 liquidation, got %d", len(recs))
	}
	r := recs[0]
	if r.BadDebt != "1000000000" || r.RealizedPnL != "-2000000000" || r.MarkPrice != 300_000_000 {
		t.Errorf("unexpected record: %+v", r)
	}
	if !r.CreatedAt.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, r.CreatedAt)
	}
}

func TestJournalRun(t *testing.T) {
	s := setupTestStore(t)
	b := events.NewBroker()
	sub := b.Subscribe(16, events.TradeEvent, events.LiquidationEvent, events.AccountEvent)
	j := NewJournal(s, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx, sub)
		close(done)
	}()

	acc := ledger.Account{Trader: "alice", Total: num.Quote(100), Reserved: num.Quote(40)}
	b.Send(
		events.NewTrade(trade(7, "BTC-USD", "alice", "bob", 100_000_000)),
		events.NewAccount(acc, ts),
		events.NewMarkPrice("BTC-USD", 100_000_000, "vwap", ts),
	)
	// closing the broker ends Run after the buffered events are drained
	b.Close()
	<-done
	cancel()

	trades, err := s.RecentTrades("BTC-USD", 10)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != 7 {
		t.Errorf("expected trade 7 to be journaled, got %+v", trades)
	}

	snaps, err := s.Snapshots("alice", 10)
	if err != nil {
		t.Fatalf("Snapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].Total != "100000000" || snaps[0].Reserved != "40000000" {
		t.Errorf("unexpected snapshot: %+v", snaps[0])
	}
}
