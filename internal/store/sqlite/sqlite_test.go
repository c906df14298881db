package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebalance/internal/model"
	"tradebalance/internal/store"
)

var _ store.Store = (*Store)(nil)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "tradebalance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestUpsertBalances(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.UpsertBalances(ctx, []model.BalanceRow{
		{Period: "2024-02", Country: "ES", Sector: model.SectorTotal, Type: model.TypeGoods, Exports: 10, Imports: 4},
		{Period: "2024-01", Country: "ES", Sector: model.SectorTotal, Type: model.TypeGoods, Exports: 1, Imports: 2},
		{Period: "2024-01", Country: "FR", Sector: "SERVICES", Type: model.TypeServices, Exports: 3, Imports: 3},
	}))
	require.NoError(t, s.UpsertBalances(ctx, []model.BalanceRow{
		{Period: "2024-01", Country: "ES", Sector: model.SectorTotal, Type: model.TypeGoods, Exports: 5, Imports: 2},
	}))

	rows, err := s.ListBalances(ctx, "es")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01", rows[0].Period)
	assert.Equal(t, 5.0, rows[0].Exports)
	assert.Equal(t, "2024-02", rows[1].Period)

	countries, err := s.ListCountries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ES", "FR"}, countries)

	require.NoError(t, s.PruneBalances(ctx, "2024-01"))
	rows, err = s.ListBalances(ctx, "ES")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUpsertPartners(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.UpsertPartners(ctx, []model.PartnerRow{
		{Period: "2024-01", Reporter: "ES", Partner: "FR", Sector: "7", Type: model.TypeGoods, Flow: model.FlowExport, Value: 100},
		{Period: "2024-01", Reporter: "ES", Partner: "FR", Sector: "7", Type: model.TypeGoods, Flow: model.FlowImport, Value: 40},
		{Period: "2024-03", Reporter: "ES", Partner: "US", Sector: model.SectorTotal, Type: model.TypeServices, Flow: model.FlowExport, Value: 9},
		{Period: "2024-01", Reporter: "DE", Partner: "FR", Sector: "7", Type: model.TypeGoods, Flow: model.FlowExport, Value: 1},
	}))

	rows, err := s.ListPartners(ctx, "ES")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, model.FlowExport, rows[0].Flow)
	assert.Equal(t, model.FlowImport, rows[1].Flow)

	require.NoError(t, s.PrunePartners(ctx, "ES", "2024-02"))
	rows, err = s.ListPartners(ctx, "ES")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.ListPartners(ctx, "DE")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEmptyUpsertIsNoop(t *testing.T) {
	s := openStore(t)
	assert.NoError(t, s.UpsertBalances(context.Background(), nil))
	assert.NoError(t, s.UpsertPartners(context.Background(), nil))
}
