package balance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebalance/internal/cache"
	"tradebalance/internal/cache/memory"
	"tradebalance/internal/model"
	"tradebalance/internal/table"
	"tradebalance/internal/vocab"
)

const goodsCSV = `DATAFLOW,LAST UPDATE,freq,reporter,partner,product,flow,indicators,TIME_PERIOD,OBS_VALUE
ESTAT:DS-059331(1.0),01/01/25,Monthly,Spain (incl. Canary Islands 'XB' from 1997),World,Total all products,EXPORT,Value in euros,2024-01,1000
ESTAT:DS-059331(1.0),01/01/25,Monthly,Spain (incl. Canary Islands 'XB' from 1997),World,Total all products,IMPORT,Value in euros,2024-01,400
ESTAT:DS-059331(1.0),01/01/25,Monthly,Spain (incl. Canary Islands 'XB' from 1997),World,Food and live animals,EXPORT,Value in euros,2024-01,:
ESTAT:DS-059331(1.0),01/01/25,Monthly,Spain (incl. Canary Islands 'XB' from 1997),World,Food and live animals,EXPORT,Value in euros,2024-01,50
ESTAT:DS-059331(1.0),01/01/25,Monthly,Atlantis,World,Total all products,EXPORT,Value in euros,2024-01,7
`

const servicesCSV = `DATAFLOW,LAST UPDATE,freq,currency,bop_item,sector10,sectpart,stk_flow,partner,geo,TIME_PERIOD,OBS_VALUE
ESTAT:BOP_C6_Q(1.0),01/01/25,Quarterly,Million euro,Services,Total economy,Total economy,Credit,Rest of the world,Spain,2024-01,1.50
ESTAT:BOP_C6_Q(1.0),01/01/25,Quarterly,Million euro,Services,Total economy,Total economy,Debit,Rest of the world,Spain,2024-01,0.50
ESTAT:BOP_C6_Q(1.0),01/01/25,Quarterly,Million euro,Services,Total economy,Total economy,Credit,Rest of the world,Greece,2024-01,:
ESTAT:BOP_C6_Q(1.0),01/01/25,Quarterly,Million euro,Services,Total economy,Total economy,Credit,Rest of the world,Spain,2024-Q5,9
`

func mustParse(t *testing.T, data string) *table.Table {
	t.Helper()
	tbl, err := table.Parse([]byte(data))
	require.NoError(t, err)
	return tbl
}

func translator(t *testing.T) *vocab.Translator {
	t.Helper()
	tr, err := vocab.Default()
	require.NoError(t, err)
	return tr
}

func TestGoods(t *testing.T) {
	rows, stats, err := Goods(mustParse(t, goodsCSV), translator(t))
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, model.BalanceRow{Period: "2024-01", Country: "ES", Sector: "0", Type: model.TypeGoods, Exports: 50, Imports: 0}, rows[0])
	assert.Equal(t, model.BalanceRow{Period: "2024-01", Country: "ES", Sector: model.SectorTotal, Type: model.TypeGoods, Exports: 1000, Imports: 400}, rows[1])
	assert.Equal(t, 600.0, rows[1].Balance())
	assert.Equal(t, 5, stats.Rows)
	assert.Equal(t, 1, stats.Unmapped)
}

func TestServicesScalesAndDropsAbsent(t *testing.T) {
	rows, stats, err := Services(mustParse(t, servicesCSV), translator(t))
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "ES", rows[0].Country)
	assert.Equal(t, "SERVICES", rows[0].Sector)
	assert.Equal(t, model.TypeServices, rows[0].Type)
	assert.InDelta(t, 1_500_000, rows[0].Exports, 1e-6)
	assert.InDelta(t, 500_000, rows[0].Imports, 1e-6)
	assert.Equal(t, 1, stats.Absent)
	assert.Equal(t, 1, stats.Unparsed)
	assert.Equal(t, 2, stats.Dropped())
}

func TestMissingColumn(t *testing.T) {
	_, _, err := Goods(mustParse(t, "reporter,TIME_PERIOD,OBS_VALUE\nES,2024-01,1\n"), translator(t))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestPartners(t *testing.T) {
	tr := translator(t)
	goods := mustParse(t, `reporter,partner,product,flow,TIME_PERIOD,OBS_VALUE
ES,FR,7,2,2024-01,100
ES,FR,7,2,2024-01,20
ES,DE,0,2,2024-01,:
ES,ZZ,0,2,2024-01,5
`)
	rows, stats, err := GoodsPartners(goods, "ES", model.FlowExport, tr)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.PartnerRow{Period: "2024-01", Reporter: "ES", Partner: "FR", Sector: "7", Type: model.TypeGoods, Flow: model.FlowExport, Value: 120}, rows[0])
	assert.Equal(t, 1, stats.Absent)
	assert.Equal(t, 1, stats.Unmapped)

	services := mustParse(t, "reporter,partner,TIME_PERIOD,OBS_VALUE\nES,GB,2024-01,1000000\nES,CN,2024-02,5\n")
	rows, _, err = ServicesPartners(services, "ES", model.FlowImport, tr)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.SectorTotal, rows[0].Sector)
	assert.Equal(t, "GB", rows[0].Partner)
	assert.Equal(t, model.FlowImport, rows[1].Flow)
}

func TestLoadAggregatesWithoutServices(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Put(ctx, cache.AggregateKey(model.KindGoodsAggregate), []byte(goodsCSV)))

	agg, err := LoadAggregates(ctx, store, translator(t))
	require.NoError(t, err)
	assert.Len(t, agg.Goods, 2)
	assert.Empty(t, agg.Services)

	_, err = LoadAggregates(ctx, memory.New(), translator(t))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestLoadPartnersSkipsMissingArtifacts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	key := cache.PartnerKey(model.KindServicesPartners, "ES", model.FlowExport)
	require.NoError(t, store.Put(ctx, key, []byte("reporter,partner,TIME_PERIOD,OBS_VALUE\nES,US,2024-01,10\n")))

	goods, services, _, err := LoadPartners(ctx, store, translator(t), "ES")
	require.NoError(t, err)
	assert.Empty(t, goods)
	require.Len(t, services, 1)
	assert.Equal(t, "US", services[0].Partner)
	assert.Equal(t, model.FlowExport, services[0].Flow)
}
