package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradebalance/internal/balance"
	"tradebalance/internal/cache"
	"tradebalance/internal/combine"
	"tradebalance/internal/dashboard"
	"tradebalance/internal/export"
	"tradebalance/internal/logging"
	"tradebalance/internal/store"
	"tradebalance/internal/vocab"
)

type Options struct {
	OutDir             string
	Parquet            string
	ParquetCompression string
	// Countries restricts the dashboard documents; empty means every
	// country of the combined series.
	Countries []string
	TopN      int
	Months    int
	Now       func() time.Time
}

type Report struct {
	Rows              int
	PartnerRows       int
	Countries         int
	Cutoff            string
	ServicesAvailable bool
	ServicesLag       string
	MissingServices   []string
	Dropped           int
	ParquetBytes      int
}

// Build reads the cached artifacts, combines goods and services, persists
// the result in st and writes the dashboard feed.
func Build(ctx context.Context, artifacts cache.Store, st store.Store, tr *vocab.Translator, log *logging.Log, opts Options) (Report, error) {
	var report Report
	entry := log.WithComponent("publisher")

	agg, err := balance.LoadAggregates(ctx, artifacts, tr)
	if err != nil {
		return report, fmt.Errorf("publish: load aggregates: %w", err)
	}
	report.Dropped = agg.GoodsStats.Dropped() + agg.ServicesStats.Dropped()
	entry.WithFields(logging.Fields{
		"goods_rows":        len(agg.Goods),
		"services_rows":     len(agg.Services),
		"goods_unmapped":    agg.GoodsStats.Unmapped,
		"services_unmapped": agg.ServicesStats.Unmapped,
		"dropped":           report.Dropped,
	}).Info("aggregates loaded")

	res := combine.Combine(agg.Goods, agg.Services)
	cov := dashboard.CoverageOf(res)
	report.Rows = len(res.Rows)
	report.ServicesAvailable = res.ServicesAvailable
	report.MissingServices = res.MissingServices
	report.ServicesLag = cov.LagMessage()
	if !res.Cutoff.IsZero() {
		report.Cutoff = res.Cutoff.String()
	}
	if !res.ServicesAvailable {
		entry.Warn("services unavailable, publishing goods only")
	}
	if len(res.MissingServices) > 0 {
		entry.WithFields(logging.Fields{"countries": strings.Join(res.MissingServices, ",")}).Warn("countries without services data")
	}

	if err := st.UpsertBalances(ctx, res.Rows); err != nil {
		return report, fmt.Errorf("publish: store balances: %w", err)
	}
	if report.Cutoff != "" {
		if err := st.PruneBalances(ctx, report.Cutoff); err != nil {
			return report, fmt.Errorf("publish: prune balances: %w", err)
		}
	}

	countries := normalize(opts.Countries)
	if len(countries) == 0 {
		countries = balance.Countries(res.Rows)
	}

	for _, country := range countries {
		goods, services, stats, err := balance.LoadPartners(ctx, artifacts, tr, country)
		if err != nil {
			return report, fmt.Errorf("publish: load partners %s: %w", country, err)
		}
		pres := combine.CombinePartners(goods, services)
		if err := st.UpsertPartners(ctx, pres.Rows); err != nil {
			return report, fmt.Errorf("publish: store partners %s: %w", country, err)
		}
		if !pres.Cutoff.IsZero() {
			if err := st.PrunePartners(ctx, country, pres.Cutoff.String()); err != nil {
				return report, fmt.Errorf("publish: prune partners %s: %w", country, err)
			}
		}
		report.PartnerRows += len(pres.Rows)
		report.Dropped += stats.Dropped()
		entry.WithFields(logging.Fields{"country": country, "rows": len(pres.Rows), "unmapped": stats.Unmapped}).Debug("partners loaded")
	}

	builder := &dashboard.Builder{Names: tr, TopN: opts.TopN, Months: opts.Months, Now: opts.Now}
	stored, err := st.ListCountries(ctx)
	if err != nil {
		return report, fmt.Errorf("publish: list countries: %w", err)
	}
	docs := make([]dashboard.Document, 0, len(countries))
	for _, country := range selected(stored, countries) {
		balances, err := st.ListBalances(ctx, country)
		if err != nil {
			return report, fmt.Errorf("publish: list balances %s: %w", country, err)
		}
		partners, err := st.ListPartners(ctx, country)
		if err != nil {
			return report, fmt.Errorf("publish: list partners %s: %w", country, err)
		}
		docs = append(docs, builder.Build(country, balances, partners, cov))
	}
	report.Countries = len(docs)

	if err := dashboard.Write(opts.OutDir, builder.Index(docs, cov), docs); err != nil {
		return report, err
	}

	if strings.TrimSpace(opts.Parquet) != "" {
		n, err := export.WriteBalances(opts.Parquet, res.Rows, opts.ParquetCompression)
		if err != nil {
			return report, err
		}
		report.ParquetBytes = n
		entry.WithFields(logging.Fields{"path": opts.Parquet, "bytes": n}).Info("parquet export written")
	}
	return report, nil
}

func normalize(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToUpper(strings.TrimSpace(value))
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

// selected keeps the stored countries that were requested, in stored
// order.
func selected(stored, requested []string) []string {
	want := make(map[string]struct{}, len(requested))
	for _, country := range requested {
		want[country] = struct{}{}
	}
	out := make([]string, 0, len(requested))
	for _, country := range stored {
		if _, ok := want[country]; ok {
			out = append(out, country)
		}
	}
	return out
}
