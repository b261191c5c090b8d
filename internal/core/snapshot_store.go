package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxSnapshotHistory caps one snapshot history query.
const MaxSnapshotHistory = 1000

const snapshotColumns = `id, name, value, dmt_china, dmt_uae, dmt_mersing, dmt_india, port_sudan,
	status, forecast, trend, image_url, last_update, created_at`

func scanSnapshot(row pgx.Row) (*MarketSnapshot, error) {
	s := &MarketSnapshot{}
	err := row.Scan(&s.ID, &s.Name, &s.Value, &s.DmtChina, &s.DmtUAE, &s.DmtMersing, &s.DmtIndia, &s.PortSudan,
		&s.Status, &s.Forecast, &s.Trend, &s.ImageURL, &s.LastUpdate, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SnapshotStore holds the per-product display records and their archive.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) Create(ctx context.Context, input SnapshotInput) (*MarketSnapshot, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	status := input.Status
	if status == "" {
		status = StatusActive
	}
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `
		INSERT INTO market_snapshots (name, value, status, image_url)
		VALUES ($1, $2, $3, $4)
		RETURNING `+snapshotColumns,
		input.Name, input.Value.Round(2), status, input.ImageURL))
	if err != nil {
		return nil, fmt.Errorf("create snapshot %q: %w", input.Name, err)
	}
	return snap, nil
}

func (s *SnapshotStore) Get(ctx context.Context, id int) (*MarketSnapshot, error) {
	return s.get(ctx, s.pool, id, false)
}

// GetForUpdateTx reads a snapshot and locks its row until tx ends.
func (s *SnapshotStore) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int) (*MarketSnapshot, error) {
	return s.get(ctx, tx, id, true)
}

func (s *SnapshotStore) get(ctx context.Context, q dbtx, id int, forUpdate bool) (*MarketSnapshot, error) {
	sql := "SELECT " + snapshotColumns + " FROM market_snapshots WHERE id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	snap, err := scanSnapshot(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrSnapshotNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch snapshot %d: %w", id, err)
	}
	return snap, nil
}

// ForProduct returns the snapshot linked to productID.
func (s *SnapshotStore) ForProduct(ctx context.Context, productID int) (*MarketSnapshot, error) {
	var snapID *int
	err := s.pool.QueryRow(ctx, "SELECT market_snapshot_id FROM products WHERE id = $1", productID).Scan(&snapID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("failed to fetch product %d: %w", productID, err)
	}
	if snapID == nil {
		return nil, fmt.Errorf("%w: product %d has no linked snapshot", ErrSnapshotNotFound, productID)
	}
	return s.Get(ctx, *snapID)
}

// ArchiveTx copies the given pre-mutation state into the archive and returns the archive id.
func (s *SnapshotStore) ArchiveTx(ctx context.Context, tx pgx.Tx, before MarketSnapshot) (int, error) {
	var id int
	err := tx.QueryRow(ctx, `
		INSERT INTO market_snapshot_archives (
			original_id, name, value, dmt_china, dmt_uae, dmt_mersing, dmt_india, port_sudan,
			status, forecast, trend, image_url, last_update, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		before.ID, before.Name, before.Value, before.DmtChina, before.DmtUAE, before.DmtMersing, before.DmtIndia,
		before.PortSudan, before.Status, before.Forecast, before.Trend, before.ImageURL, before.LastUpdate, before.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to archive snapshot %d: %w", before.ID, err)
	}
	return id, nil
}

// SaveTx persists the price, trend and forecast fields of snap and stamps last_update.
func (s *SnapshotStore) SaveTx(ctx context.Context, tx pgx.Tx, snap *MarketSnapshot) error {
	err := tx.QueryRow(ctx, `
		UPDATE market_snapshots
		SET dmt_china = $2, dmt_uae = $3, dmt_mersing = $4, dmt_india = $5, port_sudan = $6,
		    trend = $7, forecast = $8, last_update = NOW()
		WHERE id = $1
		RETURNING last_update`,
		snap.ID, snap.DmtChina, snap.DmtUAE, snap.DmtMersing, snap.DmtIndia, snap.PortSudan, snap.Trend, snap.Forecast,
	).Scan(&snap.LastUpdate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: id %d", ErrSnapshotNotFound, snap.ID)
		}
		return fmt.Errorf("failed to update snapshot %d: %w", snap.ID, err)
	}
	return nil
}

// History returns archived versions of a snapshot, newest first. Zero from/to leave
// that side of the window open. At most MaxSnapshotHistory rows are returned.
func (s *SnapshotStore) History(ctx context.Context, snapshotID int, from, to time.Time) ([]MarketSnapshotArchive, error) {
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, original_id, archived_at, name, value, dmt_china, dmt_uae, dmt_mersing, dmt_india, port_sudan,
		       status, forecast, trend, image_url, last_update, created_at
		FROM market_snapshot_archives
		WHERE original_id = $1
		  AND ($2::timestamptz IS NULL OR archived_at >= $2)
		  AND ($3::timestamptz IS NULL OR archived_at <= $3)
		ORDER BY archived_at DESC, id DESC
		LIMIT $4`, snapshotID, fromArg, toArg, MaxSnapshotHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	defer rows.Close()

	var out []MarketSnapshotArchive
	for rows.Next() {
		var a MarketSnapshotArchive
		sn := &a.Snapshot
		if err := rows.Scan(&a.ID, &a.OriginalID, &a.ArchivedAt, &sn.Name, &sn.Value, &sn.DmtChina, &sn.DmtUAE,
			&sn.DmtMersing, &sn.DmtIndia, &sn.PortSudan, &sn.Status, &sn.Forecast, &sn.Trend, &sn.ImageURL,
			&sn.LastUpdate, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot archive: %w", err)
		}
		sn.ID = a.OriginalID
		out = append(out, a)
	}
	return out, rows.Err()
}

// List returns every snapshot ordered by name.
func (s *SnapshotStore) List(ctx context.Context) ([]MarketSnapshot, error) {
	return s.list(ctx, "SELECT "+snapshotColumns+" FROM market_snapshots ORDER BY name, id")
}

// Recent returns the most recently updated snapshots.
func (s *SnapshotStore) Recent(ctx context.Context, limit int) ([]MarketSnapshot, error) {
	return s.list(ctx, "SELECT "+snapshotColumns+" FROM market_snapshots ORDER BY last_update DESC, id DESC LIMIT $1", clampLimit(limit))
}

func (s *SnapshotStore) list(ctx context.Context, sql string, args ...any) ([]MarketSnapshot, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []MarketSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}
