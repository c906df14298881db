package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebalance/internal/cache"
	"tradebalance/internal/cache/memory"
	"tradebalance/internal/config"
	"tradebalance/internal/logging"
	"tradebalance/internal/model"
	"tradebalance/internal/providers"
	"tradebalance/internal/providers/eurostat"
	"tradebalance/internal/vocab"
)

const (
	goodsAggregateCSV = `DATAFLOW,LAST UPDATE,freq,reporter,partner,product,flow,indicators,TIME_PERIOD,OBS_VALUE
ESTAT:DS-059331(1.0),01/01/25,Monthly,Spain,World,Total all products,EXPORT,Value in euros,2024-01,1000
ESTAT:DS-059331(1.0),01/01/25,Monthly,Spain,World,Total all products,IMPORT,Value in euros,2024-01,400
`
	servicesAggregateCSV = `DATAFLOW,LAST UPDATE,freq,currency,bop_item,sector10,sectpart,stk_flow,partner,geo,TIME_PERIOD,OBS_VALUE
ESTAT:BOP_C6_Q(1.0),01/01/25,Quarterly,Million euro,Services,Total economy,Total economy,Credit,Rest of the world,Spain,2024-Q1,900
ESTAT:BOP_C6_Q(1.0),01/01/25,Quarterly,Million euro,Services,Total economy,Total economy,Debit,Rest of the world,Spain,2024-Q1,:
`
	goodsPartnersCSV = `DATAFLOW,LAST UPDATE,freq,reporter,partner,product,flow,indicators,TIME_PERIOD,OBS_VALUE
ESTAT:DS-059331(1.0),01/01/25,M,ES,FR,7,2,VALUE_EUR,2024-01,100
`
	servicesPartnersCSV = `DATAFLOW,LAST UPDATE,freq,currency,bop_item,sector10,sectpart,stk_flow,partner,geo,TIME_PERIOD,OBS_VALUE
ESTAT:BOP_C6_Q(1.0),01/01/25,Q,MIO_EUR,S,S1,S1,CRE,FR,ES,2024-Q1,3
ESTAT:BOP_C6_Q(1.0),01/01/25,Q,MIO_EUR,S,S1,S1,CRE,FR,ES,2024-Q2,6
ESTAT:BOP_C6_Q(1.0),01/01/25,Q,MIO_EUR,S,S1,S1,DEB,UK,ES,2024-Q1,30
ESTAT:BOP_C6_Q(1.0),01/01/25,Q,MIO_EUR,S,S1,S1,DEB,ZZ,ES,2024-Q1,1
`
)

type fakeFetcher struct {
	responses map[string]string
	errs      map[string]error
	queries   []providers.Query
	intervals []time.Duration
}

func newFakeFetcher() *fakeFetcher {
	f := &fakeFetcher{responses: map[string]string{}, errs: map[string]error{}}
	f.responses[eurostat.DatasetComext] = goodsAggregateCSV
	f.responses[eurostat.DatasetBOP] = servicesAggregateCSV
	f.responses[eurostat.DatasetComext+"/ES/export"] = goodsPartnersCSV
	f.responses[eurostat.DatasetBOP+"/ES"] = servicesPartnersCSV
	return f
}

func fetchKey(q providers.Query) string {
	key := q.Dataset
	if len(q.Reporters) == 1 {
		key += "/" + q.Reporters[0]
		if len(q.Flows) == 1 {
			key += "/" + string(q.Flows[0])
		}
	}
	return key
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, q providers.Query) ([]byte, error) {
	f.queries = append(f.queries, q)
	key := fetchKey(q)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if body, ok := f.responses[key]; ok {
		return []byte(body), nil
	}
	return nil, eurostat.ErrNoRecords
}

func (f *fakeFetcher) SetInterval(d time.Duration) {
	f.intervals = append(f.intervals, d)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.StartYear = 2024
	cfg.EndYear = 2024
	cfg.Freshness.MinSize = 10
	cfg.Freshness.PartnerMinSize = 10
	cfg.GoodsPartners.Reporters = []string{"ES"}
	cfg.ServicesPartners.Reporters = []string{"ES"}
	return cfg
}

func newOrchestrator(t *testing.T, f *fakeFetcher, store cache.Store) *Orchestrator {
	t.Helper()
	tr, err := vocab.Default()
	require.NoError(t, err)
	return New(f, store, tr, testConfig(), logging.Discard())
}

func artifact(t *testing.T, store cache.Store, key cache.Key) string {
	t.Helper()
	a, err := store.Get(context.Background(), key)
	require.NoError(t, err, key.String())
	return string(a.Data)
}

func TestRunAllStages(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	f := newFakeFetcher()

	summary, err := newOrchestrator(t, f, store).Run(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, summary.Stages, 3)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, ExitOK, summary.ExitCode(), summary.String())

	agg := summary.Stages[0]
	assert.Equal(t, 2, agg.Success)

	services := artifact(t, store, cache.AggregateKey(model.KindServicesAggregate))
	assert.Contains(t, services, "Credit,Rest of the world,Spain,2024-01,300.00")
	assert.Contains(t, services, "Credit,Rest of the world,Spain,2024-03,300.00")
	assert.NotContains(t, services, "2024-Q1")

	goodsPartners := summary.Stages[1]
	assert.Equal(t, 1, goodsPartners.Success)
	assert.Equal(t, 1, goodsPartners.Skipped)
	assert.Equal(t, goodsPartnersCSV, artifact(t, store, cache.PartnerKey(model.KindGoodsPartners, "ES", model.FlowExport)))

	exports := artifact(t, store, cache.PartnerKey(model.KindServicesPartners, "ES", model.FlowExport))
	assert.True(t, strings.HasPrefix(exports, "reporter,partner,TIME_PERIOD,OBS_VALUE\n"))
	assert.Contains(t, exports, "ES,FR,2024-01,1000000.00")
	assert.Contains(t, exports, "ES,FR,2024-02,1333333.33")
	assert.Contains(t, exports, "ES,FR,2024-06,2000000.00")
	assert.NotContains(t, exports, "2024-07")

	imports := artifact(t, store, cache.PartnerKey(model.KindServicesPartners, "ES", model.FlowImport))
	assert.Contains(t, imports, "ES,GB,2024-03,10000000.00")
	assert.NotContains(t, imports, "ZZ")

	var labels []string
	for _, q := range f.queries {
		labels = append(labels, q.Labels)
	}
	assert.Equal(t, []string{"label_only", "label_only", "", "", "id"}, labels)
	assert.Equal(t, []time.Duration{0, time.Second, 500 * time.Millisecond}, f.intervals)
	assert.Equal(t, "2024-01", f.queries[0].Start)
	assert.Equal(t, "2024-Q4", f.queries[1].End)
}

func TestServicesFailureIsPartial(t *testing.T) {
	store := memory.New()
	f := newFakeFetcher()
	f.errs[eurostat.DatasetBOP] = eurostat.ErrTransient

	summary, err := newOrchestrator(t, f, store).Run(context.Background(), Options{SkipPartners: true})
	require.NoError(t, err)
	require.Len(t, summary.Stages, 1)
	assert.Equal(t, StatusPartial, summary.Stages[0].Status())
	assert.Len(t, summary.Stages[0].Warnings, 1)
	assert.Equal(t, ExitPartial, summary.ExitCode())

	_, err = store.Stat(context.Background(), cache.AggregateKey(model.KindGoodsAggregate))
	assert.NoError(t, err)
	_, err = store.Stat(context.Background(), cache.AggregateKey(model.KindServicesAggregate))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestGoodsFailureIsTotal(t *testing.T) {
	f := newFakeFetcher()
	f.errs[eurostat.DatasetComext] = eurostat.ErrMalformedPayload

	summary, err := newOrchestrator(t, f, memory.New()).Run(context.Background(), Options{SkipPartners: true})
	require.NoError(t, err)
	assert.Equal(t, ExitTotalFailure, summary.ExitCode())
	assert.Len(t, f.queries, 1, "services are not fetched without goods")
}

func TestPartnerFailuresDoNotAbortBatch(t *testing.T) {
	f := newFakeFetcher()
	f.errs[eurostat.DatasetComext+"/ES/export"] = eurostat.ErrTransient
	o := newOrchestrator(t, f, memory.New())
	o.cfg.GoodsPartners.Reporters = []string{"ES", "FR"}

	summary, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)
	goods := summary.Stages[1]
	assert.Equal(t, 1, goods.Failed)
	assert.Equal(t, 3, goods.Skipped)
	assert.Equal(t, StatusFailed, goods.Status())
	assert.Equal(t, ExitPartial, summary.ExitCode())
}

func TestFreshArtifactsAreReused(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	f := newFakeFetcher()
	o := newOrchestrator(t, f, store)

	_, err := o.Run(ctx, Options{})
	require.NoError(t, err)
	first := len(f.queries)

	summary, err := o.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stages[0].Reused)
	assert.Equal(t, 1, summary.Stages[1].Reused)
	assert.Equal(t, 1, summary.Stages[2].Reused)
	assert.Equal(t, first+1, len(f.queries), "only the missing import artifact is fetched again")
	assert.Equal(t, ExitOK, summary.ExitCode())

	summary, err = o.Run(ctx, Options{Force: true, SkipPartners: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stages[0].Success)
	assert.Zero(t, summary.Stages[0].Reused)
}

func TestStaleArtifactsAreRefreshed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store := memory.New(memory.WithClock(func() time.Time { return now.Add(-8 * 24 * time.Hour) }))
	f := newFakeFetcher()
	o := newOrchestrator(t, f, store)
	o.SetClock(func() time.Time { return now })

	require.NoError(t, store.Put(ctx, cache.AggregateKey(model.KindGoodsAggregate), []byte(goodsAggregateCSV)))
	summary, err := o.Run(ctx, Options{SkipPartners: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stages[0].Success)
}

func TestExitCode(t *testing.T) {
	ok := StageResult{Success: 1}
	partial := StageResult{Success: 1, Failed: 1}
	failed := StageResult{Failed: 2}
	broken := StageResult{Success: 3, Err: errors.New("boom")}

	cases := []struct {
		name   string
		stages []StageResult
		want   int
	}{
		{"all ok", []StageResult{ok, ok}, ExitOK},
		{"one partial", []StageResult{ok, partial}, ExitPartial},
		{"one failed", []StageResult{ok, failed}, ExitPartial},
		{"all failed", []StageResult{failed, broken}, ExitTotalFailure},
		{"nothing ran", nil, ExitTotalFailure},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Summary{Stages: c.stages}.ExitCode())
		})
	}
}
