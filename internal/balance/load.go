package balance

import (
	"context"
	"errors"
	"fmt"

	"tradebalance/internal/cache"
	"tradebalance/internal/model"
	"tradebalance/internal/table"
	"tradebalance/internal/vocab"
)

// Aggregates holds both national series read from the cache.
type Aggregates struct {
	Goods         []model.BalanceRow
	Services      []model.BalanceRow
	GoodsStats    Stats
	ServicesStats Stats
}

// LoadAggregates reads the goods and services aggregates. The goods
// artifact is required; a missing services artifact yields an empty
// services series.
func LoadAggregates(ctx context.Context, store cache.Store, tr *vocab.Translator) (Aggregates, error) {
	var agg Aggregates

	goods, err := readTable(ctx, store, cache.AggregateKey(model.KindGoodsAggregate))
	if err != nil {
		return agg, err
	}
	agg.Goods, agg.GoodsStats, err = Goods(goods, tr)
	if err != nil {
		return agg, fmt.Errorf("balance: goods aggregate: %w", err)
	}

	services, err := readTable(ctx, store, cache.AggregateKey(model.KindServicesAggregate))
	if errors.Is(err, cache.ErrNotFound) {
		return agg, nil
	}
	if err != nil {
		return agg, err
	}
	agg.Services, agg.ServicesStats, err = Services(services, tr)
	if err != nil {
		return agg, fmt.Errorf("balance: services aggregate: %w", err)
	}
	return agg, nil
}

// LoadPartners reads every bilateral artifact of country, goods and
// services, both flows. Missing artifacts are skipped.
func LoadPartners(ctx context.Context, store cache.Store, tr *vocab.Translator, country string) (goods, services []model.PartnerRow, stats Stats, err error) {
	for _, flow := range []model.Flow{model.FlowImport, model.FlowExport} {
		rows, s, err := loadPartnerArtifact(ctx, store, tr, model.KindGoodsPartners, country, flow)
		if err != nil {
			return nil, nil, stats, err
		}
		stats.add(s)
		goods = append(goods, rows...)

		rows, s, err = loadPartnerArtifact(ctx, store, tr, model.KindServicesPartners, country, flow)
		if err != nil {
			return nil, nil, stats, err
		}
		stats.add(s)
		services = append(services, rows...)
	}
	return goods, services, stats, nil
}

func loadPartnerArtifact(ctx context.Context, store cache.Store, tr *vocab.Translator, kind model.DataKind, country string, flow model.Flow) ([]model.PartnerRow, Stats, error) {
	key := cache.PartnerKey(kind, country, flow)
	t, err := readTable(ctx, store, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, Stats{}, nil
	}
	if err != nil {
		return nil, Stats{}, err
	}
	var rows []model.PartnerRow
	var stats Stats
	if kind == model.KindGoodsPartners {
		rows, stats, err = GoodsPartners(t, key.Country, flow, tr)
	} else {
		rows, stats, err = ServicesPartners(t, key.Country, flow, tr)
	}
	if err != nil {
		return nil, stats, fmt.Errorf("balance: %s: %w", key, err)
	}
	return rows, stats, nil
}

func readTable(ctx context.Context, store cache.Store, key cache.Key) (*table.Table, error) {
	artifact, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	t, err := table.Parse(artifact.Data)
	if err != nil {
		return nil, fmt.Errorf("balance: %s: %w", key, err)
	}
	return t, nil
}
