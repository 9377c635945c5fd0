package api

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"marginbook/internal/exchange"
	"marginbook/internal/ledger"
	"marginbook/internal/logging"
	"marginbook/internal/num"
	"marginbook/internal/types"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type TransferRequest struct {
	// Amount is a decimal quote amount, e.g. "250.5".
	Amount string `json:"amount"`
}

// OrderRequest carries decimal strings; they are converted to fixed
// point before reaching the exchange.
type OrderRequest struct {
	Market         string  `json:"market"`
	Side           string  `json:"side"`
	Type           string  `json:"type"` // "limit" (default) or "market"
	Mode           string  `json:"mode"` // "margin" (default) or "spot"
	Price          string  `json:"price,omitempty"`
	Size           string  `json:"size"`
	MaxSlippageBps *uint16 `json:"max_slippage_bps,omitempty"`
}

type parsedOrder struct {
	market bool
	price  uint64
	size   *num.Uint
	side   types.Side
	mode   types.Mode
}

func (req OrderRequest) parse() (parsedOrder, error) {
	var o parsedOrder
	side, err := types.ParseSide(req.Side)
	if err != nil {
		return o, errors.Errorf("side must be buy or sell")
	}
	o.side = side

	switch req.Mode {
	case "", "margin":
		o.mode = types.Margin
	case "spot":
		o.mode = types.Spot
	default:
		return o, errors.Errorf("mode must be margin or spot")
	}

	if o.size, err = num.ParseSize(req.Size); err != nil {
		return o, errors.Wrap(err, "invalid size")
	}

	switch req.Type {
	case "", "limit":
		if o.price, err = num.ParsePrice(req.Price); err != nil {
			return o, errors.Wrap(err, "invalid price")
		}
	case "market":
		if o.mode != types.Margin {
			return o, errors.Errorf("market orders are margin only")
		}
		o.market = true
	default:
		return o, errors.Errorf("type must be limit or market")
	}
	return o, nil
}

type MarketResponse struct {
	ID         string `json:"id"`
	MarginOnly bool   `json:"margin_only"`
	TickSize   uint64 `json:"tick_size"`
	MarkPrice  uint64 `json:"mark_price"`
	MarkSource string `json:"mark_source"`

	// OpenInterest is the long side; ShortInterest differs from it once a
	// liquidation has closed a position without a counterparty.
	OpenInterest  string `json:"open_interest"`
	ShortInterest string `json:"short_interest"`
}

func newMarketResponse(m *exchange.Market) MarketResponse {
	mark, src := m.MarkPrice()
	cfg := m.Config()
	long, short := m.Interest()
	return MarketResponse{
		ID:            m.ID(),
		MarginOnly:    cfg.MarginOnly,
		TickSize:      cfg.TickSize,
		MarkPrice:     mark,
		MarkSource:    string(src),
		OpenInterest:  long.String(),
		ShortInterest: short.String(),
	}
}

type MarkResponse struct {
	MarketID string `json:"market_id"`
	Price    uint64 `json:"price"`
	Source   string `json:"source"`
}

type AccountResponse struct {
	Trader    string           `json:"trader"`
	Total     *num.Uint        `json:"total"`
	Reserved  *num.Uint        `json:"reserved"`
	Available *num.Uint        `json:"available"`
	Positions []types.Position `json:"positions"`
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request, move func(context.Context, string, *num.Uint) (ledger.Account, error)) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := num.ParseQuote(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	acc, err := move(r.Context(), traderFrom(r.Context()), amount)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{
		Trader:    acc.Trader,
		Total:     acc.Total,
		Reserved:  acc.Reserved,
		Available: acc.Available(),
	})
}

// statusFor maps a core error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrOrderNotFound),
		errors.Is(err, types.ErrMarketNotFound),
		errors.Is(err, types.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	switch types.KindOf(err) {
	case types.ValidationError, types.MarginError:
		return http.StatusBadRequest
	case types.LiquidationError:
		return http.StatusConflict
	case types.ExecutionError:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", logging.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: types.KindOf(err).String()})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
