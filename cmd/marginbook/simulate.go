package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"marginbook/internal/bots"
	"marginbook/internal/events"
	"marginbook/internal/exchange"
	"marginbook/internal/logging"
	"marginbook/internal/num"
	"marginbook/internal/types"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive an in-memory exchange with simulated traders and print the outcome",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().Int("rounds", 1000, "number of steps of the bot ecosystem")
	simulateCmd.Flags().Int64("seed", 1, "seed of the reference price and the bots")
	simulateCmd.Flags().Float64("volatility-bps", 10, "standard deviation of a reference price step")
	simulateCmd.Flags().Float64("drift-bps", 0, "mean reference price step, negative for a falling market")
	simulateCmd.Flags().String("market", "", "market to trade, defaults to the first configured one")
	simulateCmd.Flags().String("funding", "100000", "collateral deposited for each bot")
}

type simulation struct {
	trades       int
	notional     *num.Uint
	liquidations int
	badDebt      *num.Uint
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	rounds, _ := flags.GetInt("rounds")
	seed, _ := flags.GetInt64("seed")
	volBps, _ := flags.GetFloat64("volatility-bps")
	driftBps, _ := flags.GetFloat64("drift-bps")
	market, _ := flags.GetString("market")
	fundingFlag, _ := flags.GetString("funding")
	funding, err := num.ParseQuote(fundingFlag)
	if err != nil {
		return errors.Wrap(err, "invalid funding")
	}

	log := newLogger(cfg)
	defer log.AtExit()
	ex, err := newExchange(cfg, log)
	if err != nil {
		return err
	}
	if market == "" {
		markets := ex.Markets()
		if len(markets) == 0 {
			return errors.New("no market configured")
		}
		market = markets[0]
	}
	start, err := ex.MarkPrice(market)
	if err != nil {
		return err
	}

	sim := &simulation{notional: num.UintZero(), badDebt: num.UintZero()}
	sub := ex.Broker().Subscribe(1<<16, events.TradeEvent, events.LiquidationEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.C() {
			sim.observe(e)
		}
	}()

	ref := bots.NewPriceGenerator(start, float64(start)*volBps/num.BpsDenominator, seed)
	ref.SetDrift(float64(start) * driftBps / num.BpsDenominator)
	manager := bots.CreateEcosystem(market, ex, ref, log, seed)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := manager.Fund(ctx, funding); err != nil {
		return err
	}
	for i := 0; i < rounds; i++ {
		ref.Step()
		if err := manager.Step(ctx); err != nil {
			return err
		}
	}
	ex.Broker().Close()
	<-done
	if n := sub.Dropped(); n > 0 {
		log.Warn("simulation summary misses events", logging.Uint64("dropped", n))
	}

	return sim.print(cmd.OutOrStdout(), ex, manager, market, ref.Price())
}

func (s *simulation) observe(e events.Event) {
	switch evt := e.(type) {
	case *events.Trade:
		s.trades++
		s.notional.Add(s.notional, num.Notional(evt.Trade.Size, evt.Trade.Price))
	case *events.Liquidation:
		s.liquidations++
		s.badDebt.Add(s.badDebt, evt.Outcome.BadDebt)
	}
}

func (s *simulation) print(out io.Writer, ex *exchange.Exchange, manager *bots.Manager, market string, ref uint64) error {
	mark, src, err := ex.MarkPriceWithSource(market)
	if err != nil {
		return err
	}
	stats := ex.Stats()
	botStats := manager.Stats()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "market\t%s\n", market)
	fmt.Fprintf(w, "steps\t%d\n", botStats.Steps)
	fmt.Fprintf(w, "reference price\t%s\n", num.PriceDecimal(ref).StringFixed(2))
	fmt.Fprintf(w, "mark price\t%s (%s)\n", num.PriceDecimal(mark).StringFixed(2), src)
	fmt.Fprintf(w, "trades\t%d\n", s.trades)
	fmt.Fprintf(w, "traded notional\t%s\n", num.QuoteDecimal(s.notional).StringFixed(2))
	fmt.Fprintf(w, "liquidations\t%d\n", s.liquidations)
	fmt.Fprintf(w, "insurance fund\t%s\n", num.QuoteDecimal(stats.InsuranceFund).StringFixed(2))
	fmt.Fprintf(w, "fee pool\t%s\n", num.QuoteDecimal(stats.FeePool).StringFixed(2))
	fmt.Fprintf(w, "bad debt\t%s\n", num.QuoteDecimal(stats.BadDebt).StringFixed(2))
	kinds := make([]string, 0, len(botStats.Rejects))
	for kind := range botStats.Rejects {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(w, "rejected (%s)\t%d\n", kind, botStats.Rejects[kind])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "trader\ttotal\treserved\tposition\tentry\trealized")
	for _, acc := range ex.Accounts() {
		pos, ok, err := ex.Position(acc.Trader, market)
		if err != nil {
			return err
		}
		if !ok {
			pos = &types.Position{Size: num.IntZero(), RealizedPnL: num.IntZero()}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			acc.Trader,
			num.QuoteDecimal(acc.Total).StringFixed(2),
			num.QuoteDecimal(acc.Reserved).StringFixed(2),
			signedBase(pos.Size).String(),
			num.PriceDecimal(pos.AvgEntryPrice).StringFixed(2),
			num.SignedQuoteDecimal(pos.RealizedPnL).StringFixed(2),
		)
	}
	return w.Flush()
}

func signedBase(i *num.Int) num.Decimal {
	d := num.BaseDecimal(i.Abs())
	if i.IsNegative() {
		return d.Neg()
	}
	return d
}
