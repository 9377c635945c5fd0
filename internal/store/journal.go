package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"marginbook/internal/events"
	"marginbook/internal/ledger"
	"marginbook/internal/logging"
	"marginbook/internal/num"
	"marginbook/internal/types"
)

// RecordTrade journals a committed trade. Replaying a trade id is a no-op.
func (s *Store) RecordTrade(t types.Trade) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO trades
		 (id, market_id, price, size, buyer_id, seller_id, buyer_fee, seller_fee, aggressor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MarketID, t.Price, t.Size.String(), t.BuyerID, t.SellerID,
		amount(t.BuyerFee), amount(t.SellerFee), t.Aggressor.String(), t.Timestamp.UTC(),
	)
	return errors.Wrapf(err, "recording trade %d", t.ID)
}

func (s *Store) RecordLiquidation(o types.LiquidationOutcome) error {
	_, err := s.db.Exec(
		`INSERT INTO liquidations
		 (trader_id, market_id, closed_size, mark_price, realized_pnl, penalty, bad_debt, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Trader, o.MarketID, o.ClosedSize.String(), o.MarkPrice, o.RealizedPnL.String(),
		amount(o.Penalty), amount(o.BadDebt), o.Timestamp.UTC(),
	)
	return errors.Wrapf(err, "recording liquidation of %s", o.Trader)
}

func (s *Store) SnapshotAccount(acc ledger.Account, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO account_snapshots (trader_id, total, reserved, created_at) VALUES (?, ?, ?, ?)",
		acc.Trader, amount(acc.Total), amount(acc.Reserved), at.UTC(),
	)
	return errors.Wrapf(err, "snapshotting %s", acc.Trader)
}

// RecentTrades returns the last limit trades of a market, newest first.
func (s *Store) RecentTrades(market string, limit int) ([]TradeRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, market_id, price, size, buyer_id, seller_id, buyer_fee, seller_fee, aggressor, created_at
		 FROM trades WHERE market_id = ? ORDER BY id DESC LIMIT ?`,
		market, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying trades")
	}
	return scanTrades(rows)
}

// TraderTrades returns the last limit trades a trader took part in, newest
// first.
func (s *Store) TraderTrades(trader string, limit int) ([]TradeRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, market_id, price, size, buyer_id, seller_id, buyer_fee, seller_fee, aggressor, created_at
		 FROM trades WHERE buyer_id = ? OR seller_id = ? ORDER BY id DESC LIMIT ?`,
		trader, trader, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying trades")
	}
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]TradeRecord, error) {
	defer rows.Close()
	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		if err := rows.Scan(&r.ID, &r.MarketID, &r.Price, &r.Size, &r.BuyerID, &r.SellerID,
			&r.BuyerFee, &r.SellerFee, &r.Aggressor, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning trade")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterating trades")
}

// Liquidations returns a trader's liquidations, oldest first.
func (s *Store) Liquidations(trader string) ([]LiquidationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, trader_id, market_id, closed_size, mark_price, realized_pnl, penalty, bad_debt, created_at
		 FROM liquidations WHERE trader_id = ? ORDER BY id`,
		trader,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying liquidations")
	}
	defer rows.Close()

	var out []LiquidationRecord
	for rows.Next() {
		var r LiquidationRecord
		if err := rows.Scan(&r.ID, &r.Trader, &r.MarketID, &r.ClosedSize, &r.MarkPrice,
			&r.RealizedPnL, &r.Penalty, &r.BadDebt, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning liquidation")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterating liquidations")
}

// Snapshots returns the last limit snapshots of a trader, newest first.
func (s *Store) Snapshots(trader string, limit int) ([]AccountSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, trader_id, total, reserved, created_at
		 FROM account_snapshots WHERE trader_id = ? ORDER BY id DESC LIMIT ?`,
		trader, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying snapshots")
	}
	defer rows.Close()

	var out []AccountSnapshot
	for rows.Next() {
		var r AccountSnapshot
		if err := rows.Scan(&r.ID, &r.Trader, &r.Total, &r.Reserved, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning snapshot")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterating snapshots")
}

// Journal writes trades, liquidations and account updates from the event
// stream into the store.
type Journal struct {
	store *Store
	log   *logging.Logger
}

func NewJournal(s *Store, log *logging.Logger) *Journal {
	return &Journal{store: s, log: log.Named("journal")}
}

// Handle writes one event. Events the journal does not keep are ignored.
func (j *Journal) Handle(e events.Event) error {
	switch evt := e.(type) {
	case *events.Trade:
		return j.store.RecordTrade(evt.Trade)
	case *events.Liquidation:
		return j.store.RecordLiquidation(evt.Outcome)
	case *events.Account:
		return j.store.SnapshotAccount(evt.Account, evt.Timestamp())
	}
	return nil
}

// Run journals sub until ctx is done or the subscription closes. Write
// errors are logged and do not stop the journal.
func (j *Journal) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := j.Handle(e); err != nil {
				j.log.Error("journal write failed",
					logging.String("event", e.Type().String()),
					logging.String("event_id", e.ID()),
					logging.Error(err),
				)
			}
		}
	}
}

func amount(u *num.Uint) string {
	if u == nil {
		return "0"
	}
	return u.String()
}
