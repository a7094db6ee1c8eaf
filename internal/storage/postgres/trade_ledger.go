package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/observability"
	"alpha-mirror/internal/storage"
)

// TradeLedger implements storage.TradeLedger using PostgreSQL.
type TradeLedger struct {
	pool *Pool
}

// NewTradeLedger creates a new TradeLedger.
func NewTradeLedger(pool *Pool) *TradeLedger {
	return &TradeLedger{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeLedger = (*TradeLedger)(nil)

// Append adds a row. Returns ErrDuplicateKey if id exists.
// SOL and token amounts are stored as NUMERIC.
func (l *TradeLedger) Append(ctx context.Context, r *domain.TradeRow) error {
	if r == nil || r.ID == "" || r.TradeID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trade_ledger (
			id, trade_id, ts, kind, mode, mint, wallet,
			amount_sol, token_amount, price_sol,
			realized_pnl_sol, realized_pnl_pct, hold_duration_ms,
			exit_reason, signature
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, $15
		)
	`

	start := time.Now()
	_, err := l.pool.Exec(ctx, query,
		r.ID, r.TradeID, r.Timestamp.UTC(), string(r.Kind), string(r.Mode), r.Mint, r.Wallet,
		decimal.NewFromFloat(r.AmountSOL), decimal.NewFromFloat(r.TokenAmount), r.PriceSOL,
		decimal.NewFromFloat(r.RealizedPnLSOL), r.RealizedPnLPct, r.HoldDuration,
		string(r.ExitReason), r.Signature,
	)
	observability.RecordDBQuery("postgres", "append_trade", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade row: %w", err)
	}
	return nil
}

// GetByTradeID retrieves all rows of a trade, ordered by ts ASC.
func (l *TradeLedger) GetByTradeID(ctx context.Context, tradeID string) ([]*domain.TradeRow, error) {
	query := `
		SELECT id, trade_id, ts, kind, mode, mint, wallet,
			amount_sol::TEXT, token_amount::TEXT, price_sol,
			realized_pnl_sol::TEXT, realized_pnl_pct, hold_duration_ms,
			exit_reason, signature
		FROM trade_ledger
		WHERE trade_id = $1
		ORDER BY ts ASC, id ASC
	`

	rows, err := l.pool.Query(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("query trade rows: %w", err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

func scanTradeRows(rows pgx.Rows) ([]*domain.TradeRow, error) {
	var result []*domain.TradeRow
	for rows.Next() {
		var (
			r                   domain.TradeRow
			ts                  time.Time
			kind, mode, reason  string
			amount, tokens, pnl string
		)
		if err := rows.Scan(
			&r.ID, &r.TradeID, &ts, &kind, &mode, &r.Mint, &r.Wallet,
			&amount, &tokens, &r.PriceSOL,
			&pnl, &r.RealizedPnLPct, &r.HoldDuration,
			&reason, &r.Signature,
		); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		r.Timestamp = ts
		r.Kind = domain.TradeKind(kind)
		r.Mode = domain.Mode(mode)
		r.ExitReason = domain.ExitReason(reason)

		var err error
		if r.AmountSOL, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if r.TokenAmount, err = parseNumeric(tokens); err != nil {
			return nil, err
		}
		if r.RealizedPnLSOL, err = parseNumeric(pnl); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return result, nil
}

func parseNumeric(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}
