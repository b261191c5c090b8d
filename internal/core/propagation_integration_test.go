package core_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"commodity-desk/internal/core"
	"commodity-desk/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE market_snapshot_archives, cnf_calculations, international_transports,
			local_transports, government_costs, operation_costs, products, market_snapshots,
			exchange_rates RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

type stack struct {
	pool       *pgxpool.Pool
	catalog    core.CatalogService
	rates      *core.ExchangeRateStore
	ledger     *core.CalculationLedger
	snapshots  *core.SnapshotStore
	propagator *core.Propagator
	queries    *core.MarketQueries
}

func newStack(pool *pgxpool.Pool, policy core.ArchivePolicy) *stack {
	catalogStore := core.NewCatalogStore(pool)
	rates := core.NewExchangeRateStore(pool)
	ledger := core.NewCalculationLedger(pool)
	snapshots := core.NewSnapshotStore(pool)
	propagator := core.NewPropagator(pool, catalogStore, rates, ledger, snapshots, core.PropagatorOptions{
		ArchivePolicy:   policy,
		ConflictRetries: 5,
		FanoutBatchSize: 2,
	})
	return &stack{
		pool:       pool,
		catalog:    core.NewCatalogService(catalogStore, propagator),
		rates:      rates,
		ledger:     ledger,
		snapshots:  snapshots,
		propagator: propagator,
		queries:    core.NewMarketQueries(snapshots, ledger, nil),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *stack) addRate(t *testing.T, r string) core.ExchangeRate {
	t.Helper()
	rate, err := s.rates.Add(context.Background(), core.ExchangeRateInput{Date: time.Now().UTC(), Rate: dec(r)})
	require.NoError(t, err)
	return *rate
}

// seedSesame creates the worked-example product with a linked snapshot and China freight.
func (s *stack) seedSesame(t *testing.T) (core.Product, core.MarketSnapshot) {
	t.Helper()
	ctx := context.Background()
	actor := "seed"

	p, _, err := s.catalog.CreateProduct(ctx, core.ProductInput{
		Name: "Sesame " + uuid.NewString()[:8], CostPerUnit: dec("1000"), WastePercentage: dec("10"),
	}, actor)
	require.NoError(t, err)

	snap, err := s.snapshots.Create(ctx, core.SnapshotInput{Name: p.Name, Status: core.StatusActive})
	require.NoError(t, err)
	_, err = s.catalog.LinkSnapshot(ctx, p.ID, snap.ID, actor)
	require.NoError(t, err)

	_, err = s.catalog.UpsertOperationCost(ctx, p.ID, core.OperationCostInput{
		Cleaning: dec("20"), EmptyBags: dec("15"), Printing: dec("5"), Handling: dec("10"),
	}, actor)
	require.NoError(t, err)
	_, err = s.catalog.UpsertGovernmentCost(ctx, p.ID, core.GovernmentCostInput{
		Paperwork: dec("10"), CustomsDuty: dec("15"), Clearance: dec("5"),
	}, actor)
	require.NoError(t, err)
	_, err = s.catalog.UpsertLocalTransport(ctx, p.ID, core.LocalTransportInput{TransportToPort: dec("20")}, actor)
	require.NoError(t, err)
	_, err = s.catalog.UpsertInternationalTransport(ctx, p.ID, core.DestinationChina, core.FreightInput{FreightCost: dec("5")}, actor)
	require.NoError(t, err)

	return *p, *snap
}

func countCurrent(t *testing.T, pool *pgxpool.Pool, productID int, dest core.Destination) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM cnf_calculations WHERE product_id = $1 AND destination = $2 AND is_current",
		productID, dest).Scan(&n)
	require.NoError(t, err)
	return n
}

func countRows(t *testing.T, pool *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestPropagation_WorkedExample(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "600")
	p, _ := s.seedSesame(t)

	china, err := s.ledger.Current(ctx, p.ID, core.DestinationChina)
	require.NoError(t, err)
	require.Equal(t, "4200", china.TotalCostLocal.String())
	require.Equal(t, "7", china.TotalCostUSD.String())
	require.Equal(t, "2", china.FOBPriceUSD.String())
	require.Equal(t, "7", china.CNFPriceUSD.String())
	require.Equal(t, "3000", china.FreightCostLocal.String())
	require.Equal(t, "seed", china.TriggeredBy)

	port, err := s.ledger.Current(ctx, p.ID, core.DestinationPortSudan)
	require.NoError(t, err)
	require.Equal(t, "1200", port.TotalCostLocal.String())
	require.True(t, port.CNFPriceUSD.Equal(port.FOBPriceUSD))

	snap, err := s.queries.CurrentSnapshot(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "7", snap.DmtChina.String())
	require.Equal(t, "1200", snap.PortSudan.String())
	require.True(t, snap.DmtUAE.IsZero())

	require.NoError(t, assertSingleCurrent(ctx, s.pool))
}

func assertSingleCurrent(ctx context.Context, pool *pgxpool.Pool) error {
	findings, err := core.NewLedgerAuditor(pool).Run(ctx)
	if err != nil {
		return err
	}
	for _, f := range findings {
		if f.Check == "duplicate_current" {
			return &auditError{f}
		}
	}
	return nil
}

type auditError struct{ f core.AuditFinding }

func (e *auditError) Error() string { return e.f.Check + ": " + e.f.Detail }

func TestComputeAndRecord_IdempotentValues(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "587.25")
	p, _ := s.seedSesame(t)

	first, err := s.propagator.ComputeAndRecord(ctx, p.ID, core.DestinationChina, "alice")
	require.NoError(t, err)
	second, err := s.propagator.ComputeAndRecord(ctx, p.ID, core.DestinationChina, "alice")
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.CalculationOutputs, second.CalculationOutputs)

	old, err := s.queries.Calculation(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, core.RecordRetired, old.State())
	require.Equal(t, 1, countCurrent(t, s.pool, p.ID, core.DestinationChina))
}

func TestComputeAndRecord_Errors(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	p, _ := s.seedSesame(t)

	_, err := s.propagator.ComputeAndRecord(ctx, p.ID, core.DestinationChina, "alice")
	require.ErrorIs(t, err, core.ErrMissingExchangeRate)

	s.addRate(t, "600")
	_, err = s.propagator.ComputeAndRecord(ctx, p.ID, core.DestinationUAE, "alice")
	require.ErrorIs(t, err, core.ErrMissingFreight)

	_, err = s.propagator.ComputeAndRecord(ctx, 999999, core.DestinationChina, "alice")
	require.ErrorIs(t, err, core.ErrProductNotFound)

	require.Zero(t, countCurrent(t, s.pool, p.ID, core.DestinationUAE))
}

func TestPropagation_NoRateSkipsEverything(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	p, snap := s.seedSesame(t)

	sum, err := s.propagator.PropagateProduct(ctx, p.ID, "alice")
	require.NoError(t, err)
	require.Empty(t, sum.Recorded)
	require.Contains(t, sum.Skipped, core.DestinationChina)
	require.Contains(t, sum.Skipped, core.DestinationPortSudan)
	require.Nil(t, sum.ArchiveID)

	history, err := s.snapshots.History(ctx, snap.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestComputeAndRecord_ConcurrentCallsLeaveOneCurrent(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "600")
	p, _ := s.seedSesame(t)

	before := countRows(t, s.pool, "cnf_calculations")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.propagator.ComputeAndRecord(ctx, p.ID, core.DestinationChina, "worker")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, before+workers, countRows(t, s.pool, "cnf_calculations"))
	require.Equal(t, 1, countCurrent(t, s.pool, p.ID, core.DestinationChina))
	require.NoError(t, assertSingleCurrent(ctx, s.pool))
}

func TestConcurrentComponentSaves_Serialize(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "600")
	p, _ := s.seedSesame(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.catalog.UpsertOperationCost(ctx, p.ID, core.OperationCostInput{Cleaning: dec("30")}, "alice")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.catalog.UpsertGovernmentCost(ctx, p.ID, core.GovernmentCostInput{Clearance: dec("40")}, "bob")
	}()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	for _, dest := range []core.Destination{core.DestinationChina, core.DestinationPortSudan} {
		require.Equal(t, 1, countCurrent(t, s.pool, p.ID, dest))
	}
	// The later pass saw both saves: 1100 + 30 + 40 + 20.
	port, err := s.ledger.Current(ctx, p.ID, core.DestinationPortSudan)
	require.NoError(t, err)
	require.Equal(t, "1190", port.TotalCostLocal.String())
}

func TestOverrideCurrent(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "600")
	p, _ := s.seedSesame(t)

	head, err := s.ledger.Current(ctx, p.ID, core.DestinationChina)
	require.NoError(t, err)

	child, err := s.propagator.OverrideCurrent(ctx, head.ID, map[string]decimal.Decimal{"cnf_price_usd": dec("7.70")}, "carol")
	require.NoError(t, err)
	require.True(t, child.IsManualOverride)
	require.True(t, child.IsCurrent)
	require.Equal(t, head.ID, *child.ParentID)
	require.Equal(t, "carol", child.TriggeredBy)
	require.Equal(t, "7.7", child.CNFPriceUSD.String())
	require.Equal(t, "7", child.TotalCostUSD.String())

	snap, err := s.queries.CurrentSnapshot(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "7.7", snap.DmtChina.String())
	require.Equal(t, 10, snap.Trend)
	require.Equal(t, core.ForecastRising, snap.Forecast)

	rows := countRows(t, s.pool, "cnf_calculations")
	_, err = s.propagator.OverrideCurrent(ctx, head.ID, map[string]decimal.Decimal{"cnf_price_usd": dec("9")}, "carol")
	require.ErrorIs(t, err, core.ErrNotCurrent)
	require.Equal(t, rows, countRows(t, s.pool, "cnf_calculations"), "a rejected override leaves the ledger unchanged")

	_, err = s.propagator.OverrideCurrent(ctx, 999999, map[string]decimal.Decimal{"cnf_price_usd": dec("9")}, "carol")
	require.ErrorIs(t, err, core.ErrCalculationNotFound)

	_, err = s.propagator.OverrideCurrent(ctx, child.ID, map[string]decimal.Decimal{"product_id": dec("9")}, "carol")
	require.ErrorIs(t, err, core.ErrValidation)
	require.Equal(t, 1, countCurrent(t, s.pool, p.ID, core.DestinationChina))
}

func TestSnapshotArchive_RoundTrip(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "600")
	p, snapRef := s.seedSesame(t)

	before, err := s.snapshots.Get(ctx, snapRef.ID)
	require.NoError(t, err)

	_, err = s.catalog.UpsertInternationalTransport(ctx, p.ID, core.DestinationChina, core.FreightInput{FreightCost: dec("6")}, "dave")
	require.NoError(t, err)

	history, err := s.snapshots.History(ctx, snapRef.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, history)
	latest := history[0].Snapshot

	require.Equal(t, before.ID, latest.ID)
	require.Equal(t, before.Name, latest.Name)
	require.True(t, before.DmtChina.Equal(latest.DmtChina))
	require.True(t, before.PortSudan.Equal(latest.PortSudan))
	require.Equal(t, before.Trend, latest.Trend)
	require.Equal(t, before.Forecast, latest.Forecast)
	require.True(t, before.LastUpdate.Equal(latest.LastUpdate))

	after, err := s.snapshots.Get(ctx, snapRef.ID)
	require.NoError(t, err)
	require.Equal(t, "8", after.DmtChina.String())
	// Port Sudan sorts after China but did not move, so China's 7 -> 8 decides the trend.
	require.Equal(t, 14, after.Trend)
	require.Equal(t, core.ForecastRising, after.Forecast)
}

func TestArchivePolicy(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	always := newStack(pool, core.ArchiveAlways)
	always.addRate(t, "600")
	p, snap := always.seedSesame(t)

	count := func() int {
		h, err := always.snapshots.History(ctx, snap.ID, time.Time{}, time.Time{})
		require.NoError(t, err)
		return len(h)
	}

	n := count()
	_, err := always.propagator.PropagateProduct(ctx, p.ID, "eve")
	require.NoError(t, err)
	require.Equal(t, n+1, count(), "unconditional archiving adds a row even without a price change")

	onChange := newStack(pool, core.ArchiveOnChange)
	n = count()
	sum, err := onChange.propagator.PropagateProduct(ctx, p.ID, "eve")
	require.NoError(t, err)
	require.Nil(t, sum.ArchiveID)
	require.Equal(t, n, count())
	require.Len(t, sum.Recorded, 2, "the ledger still records every pass")
}

func TestExchangeRateFanout(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "600")

	linked := make([]core.Product, 0, 3)
	for range 3 {
		p, _ := s.seedSesame(t)
		linked = append(linked, p)
	}
	unlinked, _, err := s.catalog.CreateProduct(ctx, core.ProductInput{Name: "Loose " + uuid.NewString()[:8], CostPerUnit: dec("50")}, "seed")
	require.NoError(t, err)

	rate := s.addRate(t, "500")
	sum, err := s.propagator.PropagateExchangeRateChange(ctx, rate, "rates")
	require.NoError(t, err)
	require.Equal(t, 3, sum.Products)
	require.Empty(t, sum.Failed)
	require.Equal(t, 6, sum.Recorded)

	for _, p := range linked {
		rec, err := s.ledger.Current(ctx, p.ID, core.DestinationChina)
		require.NoError(t, err)
		require.Equal(t, "500", rec.ExchangeRate.String())
		require.Equal(t, "rates", rec.TriggeredBy)
	}
	loose, err := s.ledger.Current(ctx, unlinked.ID, core.DestinationPortSudan)
	require.NoError(t, err)
	require.Equal(t, "600", loose.ExchangeRate.String(), "unlinked products are not part of the fan-out")
}

func TestCalculationHistory_LazyAndRestartable(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "600")
	p, _ := s.seedSesame(t)

	for range 4 {
		_, err := s.propagator.ComputeAndRecord(ctx, p.ID, core.DestinationChina, "frank")
		require.NoError(t, err)
	}

	seq := s.queries.CalculationHistory(ctx, p.ID, core.DestinationChina, 3)
	first, err := core.CollectHistory(seq)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.True(t, first[0].IsCurrent)
	for i := 1; i < len(first); i++ {
		require.False(t, first[i].IsCurrent)
		require.Greater(t, first[i-1].ID, first[i].ID)
	}

	again, err := core.CollectHistory(seq)
	require.NoError(t, err)
	require.Equal(t, first, again)

	taken := 0
	for _, err := range seq {
		require.NoError(t, err)
		taken++
		break
	}
	require.Equal(t, 1, taken)
}

func TestCatalog_DeleteFreightKeepsLastRecord(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	s.addRate(t, "600")
	p, _ := s.seedSesame(t)

	sum, err := s.catalog.DeleteInternationalTransport(ctx, p.ID, core.DestinationChina, "gina")
	require.NoError(t, err)
	require.Len(t, sum.Recorded, 1, "only the port is priced now")

	require.Equal(t, 1, countCurrent(t, s.pool, p.ID, core.DestinationChina))

	_, err = s.catalog.DeleteInternationalTransport(ctx, p.ID, core.DestinationChina, "gina")
	require.ErrorIs(t, err, core.ErrMissingFreight)

	_, err = s.catalog.UpsertInternationalTransport(ctx, p.ID, core.DestinationPortSudan, core.FreightInput{FreightCost: dec("1")}, "gina")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestCatalog_LinkSnapshotOnce(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()
	p, snap := s.seedSesame(t)

	other, _, err := s.catalog.CreateProduct(ctx, core.ProductInput{Name: "Other " + uuid.NewString()[:8], CostPerUnit: dec("1")}, "h")
	require.NoError(t, err)

	_, err = s.catalog.LinkSnapshot(ctx, other.ID, snap.ID, "h")
	require.ErrorIs(t, err, core.ErrSnapshotAlreadyLinked)

	_, err = s.catalog.LinkSnapshot(ctx, other.ID, 999999, "h")
	require.ErrorIs(t, err, core.ErrSnapshotNotFound)

	require.NoError(t, s.catalog.UnlinkSnapshot(ctx, p.ID))
	_, err = s.catalog.LinkSnapshot(ctx, other.ID, snap.ID, "h")
	require.NoError(t, err)
}

func TestExchangeRateStore_Add(t *testing.T) {
	s := newStack(setupTestDB(t), core.ArchiveAlways)
	ctx := context.Background()

	_, err := s.rates.Add(ctx, core.ExchangeRateInput{Date: time.Now().UTC(), Rate: dec("0.00001")})
	require.ErrorIs(t, err, core.ErrValidation, "a rate that rounds to zero is rejected before the insert")
	require.Equal(t, 0, countRows(t, s.pool, "exchange_rates"))

	rate, err := s.rates.Add(ctx, core.ExchangeRateInput{Rate: dec("612.34567")})
	require.NoError(t, err)
	require.Equal(t, "612.3457", rate.Rate.String())
	today := time.Now().UTC().Truncate(24 * time.Hour)
	require.Equal(t, today.Format(time.DateOnly), rate.Date.UTC().Format(time.DateOnly))
}
