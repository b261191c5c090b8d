package core

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"commodity-desk/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000

	currentCalculationIndex = "uq_cnf_calculations_current"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx so stores can run inside or outside
// a caller's transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const calculationColumns = `id, product_id, destination,
	cost_per_unit, waste_percentage, cleaning_cost, empty_bags_cost, printing_cost, handling_cost,
	paperwork_cost, customs_duty, clearance_cost, transport_to_port, freight_cost_usd, exchange_rate_used,
	freight_cost_local, total_cost_local, total_cost_usd, fob_price_usd, cnf_price_usd,
	calculated_at, is_current, is_manual_override, parent_id, triggered_by`

func scanCalculation(row pgx.Row) (*CalculationRecord, error) {
	r := &CalculationRecord{}
	err := row.Scan(
		&r.ID, &r.ProductID, &r.Destination,
		&r.CostPerUnit, &r.WastePercentage, &r.CleaningCost, &r.EmptyBagsCost, &r.PrintingCost, &r.HandlingCost,
		&r.PaperworkCost, &r.CustomsDuty, &r.ClearanceCost, &r.TransportToPort, &r.FreightCostUSD, &r.ExchangeRate,
		&r.FreightCostLocal, &r.TotalCostLocal, &r.TotalCostUSD, &r.FOBPriceUSD, &r.CNFPriceUSD,
		&r.CalculatedAt, &r.IsCurrent, &r.IsManualOverride, &r.ParentID, &r.TriggeredBy,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CalculationLedger is the append-only history of CNF results. At most one record per
// (product, destination) is current; the partial unique index uq_cnf_calculations_current
// enforces it in the database.
type CalculationLedger struct {
	pool *pgxpool.Pool
}

func NewCalculationLedger(pool *pgxpool.Pool) *CalculationLedger {
	return &CalculationLedger{pool: pool}
}

// RecordTx stores an engine result as the new current record for its destination.
// parentID is set when the result supersedes a specific record as an override.
func (l *CalculationLedger) RecordTx(ctx context.Context, tx pgx.Tx, res CNFResult, parentID *int, actor string) (*CalculationRecord, error) {
	rec := CalculationRecord{
		ProductID:          res.ProductID,
		Destination:        res.Destination,
		CalculationInputs:  res.Inputs,
		CalculationOutputs: res.Rounded(),
		IsCurrent:          true,
		IsManualOverride:   parentID != nil,
		ParentID:           parentID,
		TriggeredBy:        actor,
	}
	return l.appendCurrentTx(ctx, tx, rec)
}

// appendCurrentTx retires the live head of rec's lineage and inserts rec as the new head.
// Both statements run in tx, so the lineage is never left without a current record.
func (l *CalculationLedger) appendCurrentTx(ctx context.Context, tx pgx.Tx, rec CalculationRecord) (*CalculationRecord, error) {
	_, err := tx.Exec(ctx, `
		UPDATE cnf_calculations SET is_current = false
		WHERE product_id = $1 AND destination = $2 AND is_current`,
		rec.ProductID, rec.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to retire current calculation: %w", err)
	}

	saved, err := scanCalculation(tx.QueryRow(ctx, `
		INSERT INTO cnf_calculations (
			product_id, destination,
			cost_per_unit, waste_percentage, cleaning_cost, empty_bags_cost, printing_cost, handling_cost,
			paperwork_cost, customs_duty, clearance_cost, transport_to_port, freight_cost_usd, exchange_rate_used,
			freight_cost_local, total_cost_local, total_cost_usd, fob_price_usd, cnf_price_usd,
			is_current, is_manual_override, parent_id, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, true, $20, $21, $22)
		RETURNING `+calculationColumns,
		rec.ProductID, rec.Destination,
		rec.CostPerUnit, rec.WastePercentage, rec.CleaningCost, rec.EmptyBagsCost, rec.PrintingCost, rec.HandlingCost,
		rec.PaperworkCost, rec.CustomsDuty, rec.ClearanceCost, rec.TransportToPort, rec.FreightCostUSD, rec.ExchangeRate,
		rec.FreightCostLocal, rec.TotalCostLocal, rec.TotalCostUSD, rec.FOBPriceUSD, rec.CNFPriceUSD,
		rec.IsManualOverride, rec.ParentID, rec.TriggeredBy,
	))
	if err != nil {
		if db.IsUniqueViolation(err, currentCalculationIndex) {
			return nil, fmt.Errorf("%w: product %d %s", ErrConcurrencyConflict, rec.ProductID, rec.Destination)
		}
		return nil, fmt.Errorf("failed to insert calculation: %w", err)
	}
	return saved, nil
}

// OverrideTx branches a manual override off the current record calcID. It returns the
// retired parent and the new current child. Overriding a retired record fails with
// ErrNotCurrent and changes nothing.
func (l *CalculationLedger) OverrideTx(ctx context.Context, tx pgx.Tx, calcID int, overrides map[string]decimal.Decimal, actor string) (parent, child *CalculationRecord, err error) {
	parent, err = scanCalculation(tx.QueryRow(ctx,
		"SELECT "+calculationColumns+" FROM cnf_calculations WHERE id = $1 FOR UPDATE", calcID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: id %d", ErrCalculationNotFound, calcID)
		}
		return nil, nil, fmt.Errorf("failed to fetch calculation %d: %w", calcID, err)
	}
	if !parent.IsCurrent {
		return nil, nil, fmt.Errorf("%w: calculation %d was superseded", ErrNotCurrent, calcID)
	}

	derived, err := ApplyOverrides(*parent, overrides)
	if err != nil {
		return nil, nil, err
	}
	derived.TriggeredBy = actor

	child, err = l.appendCurrentTx(ctx, tx, derived)
	if err != nil {
		return nil, nil, err
	}
	parent.IsCurrent = false
	return parent, child, nil
}

// Get returns one record by id.
func (l *CalculationLedger) Get(ctx context.Context, id int) (*CalculationRecord, error) {
	rec, err := scanCalculation(l.pool.QueryRow(ctx,
		"SELECT "+calculationColumns+" FROM cnf_calculations WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrCalculationNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch calculation %d: %w", id, err)
	}
	return rec, nil
}

// Current returns the live record for (productID, dest).
func (l *CalculationLedger) Current(ctx context.Context, productID int, dest Destination) (*CalculationRecord, error) {
	rec, err := scanCalculation(l.pool.QueryRow(ctx,
		"SELECT "+calculationColumns+" FROM cnf_calculations WHERE product_id = $1 AND destination = $2 AND is_current",
		productID, dest))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no current calculation for product %d to %s", ErrCalculationNotFound, productID, dest)
		}
		return nil, fmt.Errorf("failed to fetch current calculation: %w", err)
	}
	return rec, nil
}

// CurrentForProduct returns the live record of every destination of a product, by destination.
func (l *CalculationLedger) CurrentForProduct(ctx context.Context, productID int) ([]CalculationRecord, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT "+calculationColumns+" FROM cnf_calculations WHERE product_id = $1 AND is_current ORDER BY destination",
		productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query current calculations: %w", err)
	}
	defer rows.Close()

	var out []CalculationRecord
	for rows.Next() {
		rec, err := scanCalculation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calculation: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// History yields the records of (productID, dest), newest first, at most limit of them.
// An empty dest yields every destination. Nothing is queried until the sequence is
// ranged over, and each range runs a fresh query, so the sequence can be restarted.
// Iteration stops after the first error.
func (l *CalculationLedger) History(ctx context.Context, productID int, dest Destination, limit int) iter.Seq2[CalculationRecord, error] {
	limit = clampLimit(limit)
	return func(yield func(CalculationRecord, error) bool) {
		rows, err := l.pool.Query(ctx, `
			SELECT `+calculationColumns+` FROM cnf_calculations
			WHERE product_id = $1 AND ($2 = '' OR destination = $2)
			ORDER BY calculated_at DESC, id DESC
			LIMIT $3`, productID, string(dest), limit)
		if err != nil {
			yield(CalculationRecord{}, fmt.Errorf("failed to query calculation history: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanCalculation(rows)
			if err != nil {
				yield(CalculationRecord{}, fmt.Errorf("failed to scan calculation: %w", err))
				return
			}
			if !yield(*rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(CalculationRecord{}, fmt.Errorf("failed to read calculation history: %w", err))
		}
	}
}

// CollectHistory drains History into a slice.
func CollectHistory(seq iter.Seq2[CalculationRecord, error]) ([]CalculationRecord, error) {
	var out []CalculationRecord
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
