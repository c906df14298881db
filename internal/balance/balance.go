package balance

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"tradebalance/internal/interpolate"
	"tradebalance/internal/model"
	"tradebalance/internal/period"
	"tradebalance/internal/reshape"
	"tradebalance/internal/table"
	"tradebalance/internal/vocab"
)

var ErrMissingColumn = errors.New("balance: missing column")

// Stats counts the rows each loader could not turn into balance rows.
type Stats struct {
	Rows     int
	Unmapped int
	Absent   int
	Unparsed int
}

func (s *Stats) add(other Stats) {
	s.Rows += other.Rows
	s.Unmapped += other.Unmapped
	s.Absent += other.Absent
	s.Unparsed += other.Unparsed
}

// Dropped is the number of input rows that did not reach the output.
func (s Stats) Dropped() int {
	return s.Unmapped + s.Absent + s.Unparsed
}

const (
	colPeriod  = "period"
	colCountry = "country"
	colPartner = "partner"
	colSector  = "sector"
	colFlow    = "flow"
	colValue   = "value"
)

type source struct {
	countryCol   string
	countryVocab string
	sectorCol    string
	sectorVocab  string
	flowCol      string
	scale        float64
	skipAbsent   bool
}

var (
	goodsSource = source{
		countryCol:   "reporter",
		countryVocab: vocab.GoodsCountry,
		sectorCol:    "product",
		sectorVocab:  vocab.GoodsSector,
		flowCol:      "flow",
		scale:        1,
	}
	servicesSource = source{
		countryCol:   "geo",
		countryVocab: vocab.ServicesCountry,
		sectorCol:    "bop_item",
		sectorVocab:  vocab.ServicesSector,
		flowCol:      "stk_flow",
		scale:        interpolate.UnitScale,
		skipAbsent:   true,
	}
)

// Goods turns the monthly goods aggregate into one row per
// (month, country, sector) with export and import columns. Absent values
// count as zero; rows whose reporter, product or flow is unknown are
// dropped and counted.
func Goods(t *table.Table, tr *vocab.Translator) ([]model.BalanceRow, Stats, error) {
	return load(t, tr, goodsSource, model.TypeGoods)
}

// Services turns the monthly (already split) services aggregate into
// balance rows. Values are converted from millions to base units; rows
// without a value are dropped and counted.
func Services(t *table.Table, tr *vocab.Translator) ([]model.BalanceRow, Stats, error) {
	return load(t, tr, servicesSource, model.TypeServices)
}

func load(t *table.Table, tr *vocab.Translator, src source, typ string) ([]model.BalanceRow, Stats, error) {
	var stats Stats
	if t == nil {
		return nil, stats, fmt.Errorf("%w: nil table", ErrMissingColumn)
	}
	for _, name := range []string{src.countryCol, src.sectorCol, src.flowCol, table.ColumnPeriod, table.ColumnValue} {
		if _, ok := t.Column(name); !ok {
			return nil, stats, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	long := table.New([]string{colPeriod, colCountry, colSector, colFlow, colValue})
	for _, record := range t.Rows {
		stats.Rows++
		month, ok := period.ParseMonth(t.Cell(record, table.ColumnPeriod))
		if !ok {
			stats.Unparsed++
			continue
		}
		country, okCountry := tr.Translate(src.countryVocab, t.Cell(record, src.countryCol))
		sector, okSector := tr.Translate(src.sectorVocab, t.Cell(record, src.sectorCol))
		flow, okFlow := model.ParseFlow(t.Cell(record, src.flowCol))
		if !okCountry || !okSector || !okFlow {
			stats.Unmapped++
			continue
		}
		amount := model.ParseAmount(t.Cell(record, table.ColumnValue))
		if !amount.Valid && src.skipAbsent {
			stats.Absent++
			continue
		}
		long.Append([]string{month.String(), country, sector, string(flow), formatValue(amount.OrZero() * src.scale)})
	}

	wide, err := reshape.Reshape(long, []string{colPeriod, colCountry, colSector}, colFlow, colValue)
	if err != nil {
		return nil, stats, err
	}
	wide = wide.Ensure(string(model.FlowExport), string(model.FlowImport))

	rows := make([]model.BalanceRow, 0, len(wide.Rows))
	for _, r := range wide.Rows {
		rows = append(rows, model.BalanceRow{
			Period:  wide.Key(r, colPeriod),
			Country: wide.Key(r, colCountry),
			Sector:  wide.Key(r, colSector),
			Type:    typ,
			Exports: r.Values[string(model.FlowExport)],
			Imports: r.Values[string(model.FlowImport)],
		})
	}
	return rows, stats, nil
}

// GoodsPartners reads one bilateral goods artifact. The flow is implied by
// the artifact; product codes become sectors.
func GoodsPartners(t *table.Table, reporter string, flow model.Flow, tr *vocab.Translator) ([]model.PartnerRow, Stats, error) {
	return partners(t, reporter, flow, tr, "product", model.TypeGoods)
}

// ServicesPartners reads one bilateral services artifact, already in base
// units with canonical partner codes. Every row is a services total.
func ServicesPartners(t *table.Table, reporter string, flow model.Flow, tr *vocab.Translator) ([]model.PartnerRow, Stats, error) {
	return partners(t, reporter, flow, tr, "", model.TypeServices)
}

func partners(t *table.Table, reporter string, flow model.Flow, tr *vocab.Translator, sectorCol, typ string) ([]model.PartnerRow, Stats, error) {
	var stats Stats
	if t == nil {
		return nil, stats, fmt.Errorf("%w: nil table", ErrMissingColumn)
	}
	for _, name := range []string{colPartner, table.ColumnPeriod, table.ColumnValue} {
		if _, ok := t.Column(name); !ok {
			return nil, stats, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	if sectorCol != "" {
		if _, ok := t.Column(sectorCol); !ok {
			return nil, stats, fmt.Errorf("%w: %s", ErrMissingColumn, sectorCol)
		}
	}
	countryVocab := vocab.GoodsCountry
	if typ == model.TypeServices {
		countryVocab = vocab.ServicesCountry
	}

	long := table.New([]string{colPeriod, colPartner, colSector, colFlow, colValue})
	for _, record := range t.Rows {
		stats.Rows++
		month, ok := period.ParseMonth(t.Cell(record, table.ColumnPeriod))
		if !ok {
			stats.Unparsed++
			continue
		}
		partner, ok := tr.Translate(countryVocab, t.Cell(record, colPartner))
		if !ok {
			stats.Unmapped++
			continue
		}
		sector := model.SectorTotal
		if sectorCol != "" {
			sector, ok = tr.Translate(vocab.GoodsSector, t.Cell(record, sectorCol))
			if !ok {
				stats.Unmapped++
				continue
			}
		}
		amount := model.ParseAmount(t.Cell(record, table.ColumnValue))
		if !amount.Valid {
			stats.Absent++
			continue
		}
		long.Append([]string{month.String(), partner, sector, string(flow), formatValue(amount.Value)})
	}

	wide, err := reshape.Reshape(long, []string{colPeriod, colPartner, colSector}, colFlow, colValue)
	if err != nil {
		return nil, stats, err
	}
	rows := make([]model.PartnerRow, 0, len(wide.Rows))
	for _, r := range wide.Rows {
		rows = append(rows, model.PartnerRow{
			Period:   wide.Key(r, colPeriod),
			Reporter: reporter,
			Partner:  wide.Key(r, colPartner),
			Sector:   wide.Key(r, colSector),
			Type:     typ,
			Flow:     flow,
			Value:    r.Values[string(flow)],
		})
	}
	return rows, stats, nil
}

// Countries lists the distinct countries of rows, sorted.
func Countries(rows []model.BalanceRow) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		seen[r.Country] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
