package combine

import (
	"sort"

	"tradebalance/internal/model"
	"tradebalance/internal/period"
)

// Result is the union of the goods and services series truncated at the
// last month both sources cover.
type Result struct {
	Rows              []model.BalanceRow
	Cutoff            period.Month
	MaxGoods          period.Month
	MaxServices       period.Month
	CoverageGapMonths int
	// MissingServices lists countries with goods rows but no services rows.
	MissingServices []string
	// ServicesAvailable is false when the services series is empty; Rows
	// then hold the goods series alone.
	ServicesAvailable bool
	// Unparsed counts input rows dropped for an unreadable period.
	Unparsed int
}

type PartnerResult struct {
	Rows              []model.PartnerRow
	Cutoff            period.Month
	CoverageGapMonths int
	ServicesAvailable bool
	Unparsed          int
}

// Combine aligns goods and services on (month, country, sector). The cutoff
// is min(max goods month, max services month); rows after it are dropped so
// totals never show a drop caused by services lagging goods.
func Combine(goods, services []model.BalanceRow) Result {
	balanceMonth := func(r model.BalanceRow) (period.Month, bool) { return period.ParseMonth(r.Period) }

	goodsRows, maxGoods, badGoods := parsed(goods, balanceMonth)
	servicesRows, maxServices, badServices := parsed(services, balanceMonth)

	res := Result{
		MaxGoods:    maxGoods,
		MaxServices: maxServices,
		Unparsed:    badGoods + badServices,
	}
	res.ServicesAvailable = len(servicesRows) > 0
	res.Cutoff, res.CoverageGapMonths = cutoff(maxGoods, maxServices, len(goodsRows) > 0, res.ServicesAvailable)

	if !res.ServicesAvailable {
		res.Rows = truncate(goodsRows, res.Cutoff)
		sortBalance(res.Rows)
		return res
	}

	res.Rows = append(truncate(goodsRows, res.Cutoff), truncate(servicesRows, res.Cutoff)...)
	sortBalance(res.Rows)
	res.MissingServices = missingCountries(goodsRows, servicesRows)
	return res
}

// CombinePartners applies the same cutoff rule to bilateral series.
func CombinePartners(goods, services []model.PartnerRow) PartnerResult {
	partnerMonth := func(r model.PartnerRow) (period.Month, bool) { return period.ParseMonth(r.Period) }

	goodsRows, maxGoods, badGoods := parsed(goods, partnerMonth)
	servicesRows, maxServices, badServices := parsed(services, partnerMonth)

	res := PartnerResult{
		ServicesAvailable: len(servicesRows) > 0,
		Unparsed:          badGoods + badServices,
	}
	res.Cutoff, res.CoverageGapMonths = cutoff(maxGoods, maxServices, len(goodsRows) > 0, res.ServicesAvailable)
	res.Rows = append(truncate(goodsRows, res.Cutoff), truncate(servicesRows, res.Cutoff)...)
	sort.SliceStable(res.Rows, func(i, j int) bool {
		a, b := res.Rows[i], res.Rows[j]
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		if a.Reporter != b.Reporter {
			return a.Reporter < b.Reporter
		}
		if a.Partner != b.Partner {
			return a.Partner < b.Partner
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Sector != b.Sector {
			return a.Sector < b.Sector
		}
		return a.Flow < b.Flow
	})
	return res
}

type dated[T any] struct {
	month period.Month
	row   T
}

func parsed[T any](rows []T, month func(T) (period.Month, bool)) ([]dated[T], period.Month, int) {
	out := make([]dated[T], 0, len(rows))
	var latest period.Month
	bad := 0
	for _, r := range rows {
		m, ok := month(r)
		if !ok {
			bad++
			continue
		}
		if latest.IsZero() || m.After(latest) {
			latest = m
		}
		out = append(out, dated[T]{month: m, row: r})
	}
	return out, latest, bad
}

func cutoff(maxGoods, maxServices period.Month, haveGoods, haveServices bool) (period.Month, int) {
	switch {
	case haveGoods && haveServices:
		cut := maxGoods
		if maxServices.Before(cut) {
			cut = maxServices
		}
		gap := period.MonthsBetween(maxServices, maxGoods)
		if gap < 0 {
			gap = 0
		}
		return cut, gap
	case haveGoods:
		return maxGoods, 0
	case haveServices:
		return maxServices, 0
	default:
		return period.Month{}, 0
	}
}

func truncate[T any](rows []dated[T], cut period.Month) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if r.month.After(cut) {
			continue
		}
		out = append(out, r.row)
	}
	return out
}

func missingCountries(goods, services []dated[model.BalanceRow]) []string {
	have := make(map[string]struct{}, len(services))
	for _, r := range services {
		have[r.row.Country] = struct{}{}
	}
	seen := make(map[string]struct{})
	var missing []string
	for _, r := range goods {
		country := r.row.Country
		if _, ok := have[country]; ok {
			continue
		}
		if _, ok := seen[country]; ok {
			continue
		}
		seen[country] = struct{}{}
		missing = append(missing, country)
	}
	sort.Strings(missing)
	return missing
}

func sortBalance(rows []model.BalanceRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Sector < b.Sector
	})
}
