package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"commodity-desk/internal/app"
	"commodity-desk/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	app.ApplicationService

	gotOverrides map[string]decimal.Decimal
	gotRate      core.ExchangeRateInput
	gotDest      core.Destination
	gotLimit     int
	findings     []core.AuditFinding
}

func (f *fakeService) OverrideCalculation(_ context.Context, calcID int, req app.OverrideRequest, actor string) (*core.CalculationRecord, error) {
	f.gotOverrides = req.Overrides
	return &core.CalculationRecord{ID: calcID + 1, IsCurrent: true, IsManualOverride: true, TriggeredBy: actor}, nil
}

func (f *fakeService) AddExchangeRate(_ context.Context, input core.ExchangeRateInput, _ string) (*app.ExchangeRateResult, error) {
	f.gotRate = input
	return &app.ExchangeRateResult{
		Rate:   core.ExchangeRate{ID: 3, Date: input.Date, Rate: input.Rate},
		Fanout: &core.FanoutSummary{Products: 2, Recorded: 4, Failed: map[int]string{}},
	}, nil
}

func (f *fakeService) CalculationHistory(_ context.Context, _ int, dest core.Destination, limit int) ([]core.CalculationRecord, error) {
	f.gotDest, f.gotLimit = dest, limit
	return nil, nil
}

func (f *fakeService) AuditLedger(context.Context) ([]core.AuditFinding, error) {
	return f.findings, nil
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	require.ErrorIs(t, Run(context.Background(), &fakeService{}, nil, "cli", &out), ErrUsage)
	require.ErrorIs(t, Run(context.Background(), &fakeService{}, []string{"bogus"}, "cli", &out), ErrUsage)
	require.ErrorIs(t, Run(context.Background(), &fakeService{}, []string{"calc", "x", "China"}, "cli", &out), ErrUsage)
}

func TestRun_Override(t *testing.T) {
	svc := &fakeService{}
	var out bytes.Buffer
	err := Run(context.Background(), svc, []string{"override", "5", "cnf_price_usd=7.70", "fob_price_usd=2"}, "ops", &out)
	require.NoError(t, err)
	require.Len(t, svc.gotOverrides, 2)
	require.Equal(t, "7.7", svc.gotOverrides["cnf_price_usd"].String())
	require.Contains(t, out.String(), "current*")

	err = Run(context.Background(), svc, []string{"override", "5", "cnf_price_usd"}, "ops", &out)
	require.ErrorIs(t, err, ErrUsage)
}

func TestRun_Rate(t *testing.T) {
	svc := &fakeService{}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), svc, []string{"rate", "587.25", "2026-03-01"}, "ops", &out))
	require.Equal(t, "587.25", svc.gotRate.Rate.String())
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), svc.gotRate.Date)
	require.Contains(t, out.String(), "Re-priced 2 products, 4 records, 0 failed")
}

func TestRun_HistoryArgs(t *testing.T) {
	svc := &fakeService{}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), svc, []string{"history", "1", "port-sudan", "20"}, "ops", &out))
	require.Equal(t, core.DestinationPortSudan, svc.gotDest)
	require.Equal(t, 20, svc.gotLimit)
}

func TestRun_Audit(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), &fakeService{}, []string{"audit"}, "ops", &out))
	require.Contains(t, out.String(), "consistent")

	svc := &fakeService{findings: []core.AuditFinding{{Check: "duplicate_current", ProductID: 2, Destination: core.DestinationChina, Detail: "2 current records"}}}
	out.Reset()
	require.Error(t, Run(context.Background(), svc, []string{"audit"}, "ops", &out))
	require.Contains(t, out.String(), "duplicate_current")
}
