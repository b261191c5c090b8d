package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditFinding struct {
	Check       string      `json:"check"`
	ProductID   int         `json:"product_id"`
	Destination Destination `json:"destination,omitempty"`
	Detail      string      `json:"detail"`
}

// LedgerAuditor runs read-only consistency checks over the ledger and snapshots.
type LedgerAuditor struct {
	pool *pgxpool.Pool
}

func NewLedgerAuditor(pool *pgxpool.Pool) *LedgerAuditor {
	return &LedgerAuditor{pool: pool}
}

// Run returns every finding; an empty slice means the store is consistent.
func (a *LedgerAuditor) Run(ctx context.Context) ([]AuditFinding, error) {
	var findings []AuditFinding
	for _, check := range []func(context.Context) ([]AuditFinding, error){
		a.duplicateCurrent,
		a.brokenParents,
		a.snapshotDrift,
		a.sharedSnapshots,
	} {
		f, err := check(ctx)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f...)
	}
	return findings, nil
}

func (a *LedgerAuditor) duplicateCurrent(ctx context.Context) ([]AuditFinding, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT product_id, destination, COUNT(*) FROM cnf_calculations
		WHERE is_current
		GROUP BY product_id, destination
		HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, fmt.Errorf("duplicate current check: %w", err)
	}
	defer rows.Close()

	var out []AuditFinding
	for rows.Next() {
		var f AuditFinding
		var n int
		if err := rows.Scan(&f.ProductID, &f.Destination, &n); err != nil {
			return nil, err
		}
		f.Check = "duplicate_current"
		f.Detail = fmt.Sprintf("%d current records", n)
		out = append(out, f)
	}
	return out, rows.Err()
}

// brokenParents finds overrides whose parent belongs to another lineage or is still current.
func (a *LedgerAuditor) brokenParents(ctx context.Context) ([]AuditFinding, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT c.product_id, c.destination, c.id, p.id
		FROM cnf_calculations c
		JOIN cnf_calculations p ON p.id = c.parent_id
		WHERE p.product_id <> c.product_id OR p.destination <> c.destination OR p.is_current`)
	if err != nil {
		return nil, fmt.Errorf("parent link check: %w", err)
	}
	defer rows.Close()

	var out []AuditFinding
	for rows.Next() {
		var f AuditFinding
		var childID, parentID int
		if err := rows.Scan(&f.ProductID, &f.Destination, &childID, &parentID); err != nil {
			return nil, err
		}
		f.Check = "broken_parent"
		f.Detail = fmt.Sprintf("calculation %d derives from %d", childID, parentID)
		out = append(out, f)
	}
	return out, rows.Err()
}

// snapshotDrift compares each linked snapshot column with its current calculation.
func (a *LedgerAuditor) snapshotDrift(ctx context.Context) ([]AuditFinding, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT c.product_id, c.destination, c.total_cost_local, c.cnf_price_usd,
		       s.dmt_china, s.dmt_uae, s.dmt_mersing, s.dmt_india, s.port_sudan
		FROM cnf_calculations c
		JOIN products pr ON pr.id = c.product_id
		JOIN market_snapshots s ON s.id = pr.market_snapshot_id
		WHERE c.is_current`)
	if err != nil {
		return nil, fmt.Errorf("snapshot drift check: %w", err)
	}
	defer rows.Close()

	var out []AuditFinding
	for rows.Next() {
		var rec CalculationRecord
		var snap MarketSnapshot
		if err := rows.Scan(&rec.ProductID, &rec.Destination, &rec.TotalCostLocal, &rec.CNFPriceUSD,
			&snap.DmtChina, &snap.DmtUAE, &snap.DmtMersing, &snap.DmtIndia, &snap.PortSudan); err != nil {
			return nil, err
		}
		shown, ok := snap.Price(rec.Destination)
		if !ok {
			continue
		}
		if want := rec.SnapshotPrice(); !shown.Equal(want) {
			out = append(out, AuditFinding{
				Check:       "snapshot_drift",
				ProductID:   rec.ProductID,
				Destination: rec.Destination,
				Detail:      fmt.Sprintf("snapshot shows %s, current calculation %s", shown.StringFixed(2), want.StringFixed(2)),
			})
		}
	}
	return out, rows.Err()
}

func (a *LedgerAuditor) sharedSnapshots(ctx context.Context) ([]AuditFinding, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT market_snapshot_id, MIN(id), COUNT(*) FROM products
		WHERE market_snapshot_id IS NOT NULL
		GROUP BY market_snapshot_id
		HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, fmt.Errorf("shared snapshot check: %w", err)
	}
	defer rows.Close()

	var out []AuditFinding
	for rows.Next() {
		var snapID, productID, n int
		if err := rows.Scan(&snapID, &productID, &n); err != nil {
			return nil, err
		}
		out = append(out, AuditFinding{
			Check:     "shared_snapshot",
			ProductID: productID,
			Detail:    fmt.Sprintf("snapshot %d linked by %d products", snapID, n),
		})
	}
	return out, rows.Err()
}
