package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tradebalance/internal/combine"
	"tradebalance/internal/model"
	"tradebalance/internal/period"
	"tradebalance/internal/vocab"
)

const DefaultTopN = 10

// Coverage carries the series-level facts a country document reports.
type Coverage struct {
	Cutoff            period.Month
	MaxGoods          period.Month
	MaxServices       period.Month
	GapMonths         int
	ServicesAvailable bool
	MissingServices   []string
}

func CoverageOf(res combine.Result) Coverage {
	return Coverage{
		Cutoff:            res.Cutoff,
		MaxGoods:          res.MaxGoods,
		MaxServices:       res.MaxServices,
		GapMonths:         res.CoverageGapMonths,
		ServicesAvailable: res.ServicesAvailable,
		MissingServices:   res.MissingServices,
	}
}

// LagMessage describes how far services trail goods, or "" when they do
// not.
func (c Coverage) LagMessage() string {
	if !c.ServicesAvailable || c.GapMonths <= 0 {
		return ""
	}
	return fmt.Sprintf("services data available until %s (%d months behind)",
		c.MaxServices.Start().Format("January 2006"), c.GapMonths)
}

func (c Coverage) missingServices(country string) bool {
	for _, code := range c.MissingServices {
		if code == country {
			return true
		}
	}
	return false
}

type Figures struct {
	Exports  float64 `json:"exports"`
	Imports  float64 `json:"imports"`
	Balance  float64 `json:"balance"`
	Coverage float64 `json:"coverage"`
}

func figures(exports, imports float64) Figures {
	f := Figures{Exports: exports, Imports: imports, Balance: exports - imports}
	if imports > 0 {
		f.Coverage = exports / imports * 100
	}
	return f
}

type MonthPoint struct {
	Period          string  `json:"period"`
	Exports         float64 `json:"exports"`
	Imports         float64 `json:"imports"`
	Balance         float64 `json:"balance"`
	GoodsBalance    float64 `json:"goods_balance"`
	ServicesBalance float64 `json:"services_balance"`
}

type SectorFigures struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Exports float64 `json:"exports"`
	Imports float64 `json:"imports"`
	Balance float64 `json:"balance"`
}

type PartnerShare struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Share float64 `json:"share"`
}

type PartnerBlock struct {
	Exports []PartnerShare `json:"exports"`
	Imports []PartnerShare `json:"imports"`
}

type Partners struct {
	Goods    PartnerBlock `json:"goods"`
	Services PartnerBlock `json:"services"`
}

// Document is the per-country dashboard feed.
type Document struct {
	GeneratedAt     string          `json:"generated_at"`
	Country         string          `json:"country"`
	Name            string          `json:"name"`
	From            string          `json:"from,omitempty"`
	To              string          `json:"to,omitempty"`
	Cutoff          string          `json:"cutoff,omitempty"`
	Totals          Figures         `json:"totals"`
	Goods           Figures         `json:"goods"`
	Services        Figures         `json:"services"`
	Monthly         []MonthPoint    `json:"monthly"`
	Sectors         []SectorFigures `json:"sectors"`
	Partners        Partners        `json:"partners"`
	ServicesLag     string          `json:"services_lag,omitempty"`
	MissingServices bool            `json:"missing_services"`
}

type IndexEntry struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Latest  string  `json:"latest"`
	Balance float64 `json:"balance"`
}

type Index struct {
	GeneratedAt string       `json:"generated_at"`
	Cutoff      string       `json:"cutoff,omitempty"`
	ServicesLag string       `json:"services_lag,omitempty"`
	Countries   []IndexEntry `json:"countries"`
}

// Builder turns combined rows into dashboard documents. Months limits the
// figures to the trailing window ending at the country's last month; zero
// keeps the whole series.
type Builder struct {
	Names  *vocab.Translator
	TopN   int
	Months int
	Now    func() time.Time
}

func (b *Builder) generatedAt() string {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (b *Builder) name(vocabularyID, code string) string {
	if b.Names == nil {
		return code
	}
	return b.Names.Name(vocabularyID, code)
}

// Build assembles the document of one country from its balance rows and
// its bilateral rows. Rows of other countries are ignored.
func (b *Builder) Build(country string, balances []model.BalanceRow, partners []model.PartnerRow, cov Coverage) Document {
	country = strings.ToUpper(strings.TrimSpace(country))
	doc := Document{
		GeneratedAt:     b.generatedAt(),
		Country:         country,
		Name:            b.name(vocab.CountryName, country),
		ServicesLag:     cov.LagMessage(),
		MissingServices: cov.ServicesAvailable && cov.missingServices(country),
		Monthly:         []MonthPoint{},
		Sectors:         []SectorFigures{},
	}
	if !cov.Cutoff.IsZero() {
		doc.Cutoff = cov.Cutoff.String()
	}

	rows := make([]model.BalanceRow, 0, len(balances))
	var last period.Month
	for _, r := range balances {
		if r.Country != country {
			continue
		}
		m, ok := period.ParseMonth(r.Period)
		if !ok {
			continue
		}
		if m.After(last) {
			last = m
		}
		rows = append(rows, r)
	}
	if last.IsZero() {
		doc.Partners = Partners{Goods: emptyBlock(), Services: emptyBlock()}
		return doc
	}

	from := period.Month{}
	if b.Months > 0 {
		from = last.AddMonths(-(b.Months - 1))
		doc.From = from.String()
	} else {
		doc.From = first(rows).String()
	}
	doc.To = last.String()
	inWindow := func(value string) bool {
		m, ok := period.ParseMonth(value)
		return ok && !m.Before(from) && !m.After(last)
	}

	accs := monthly(rows, inWindow)
	var goodsExp, goodsImp, servicesExp, servicesImp float64
	for _, acc := range accs {
		goodsExp += acc.goodsExports
		goodsImp += acc.goodsImports
		servicesExp += acc.servicesExports
		servicesImp += acc.servicesImports
	}
	doc.Monthly = points(accs)
	doc.Goods = figures(goodsExp, goodsImp)
	doc.Services = figures(servicesExp, servicesImp)
	doc.Totals = figures(goodsExp+servicesExp, goodsImp+servicesImp)

	doc.Sectors = b.sectors(rows, inWindow)
	doc.Partners = Partners{
		Goods:    b.partnerBlock(partners, country, model.TypeGoods, inWindow),
		Services: b.partnerBlock(partners, country, model.TypeServices, inWindow),
	}
	return doc
}

// Index lists one entry per document.
func (b *Builder) Index(docs []Document, cov Coverage) Index {
	idx := Index{GeneratedAt: b.generatedAt(), ServicesLag: cov.LagMessage(), Countries: make([]IndexEntry, 0, len(docs))}
	if !cov.Cutoff.IsZero() {
		idx.Cutoff = cov.Cutoff.String()
	}
	for _, doc := range docs {
		idx.Countries = append(idx.Countries, IndexEntry{
			Code:    doc.Country,
			Name:    doc.Name,
			Latest:  doc.To,
			Balance: doc.Totals.Balance,
		})
	}
	sort.Slice(idx.Countries, func(i, j int) bool { return idx.Countries[i].Code < idx.Countries[j].Code })
	return idx
}

func first(rows []model.BalanceRow) period.Month {
	var out period.Month
	for _, r := range rows {
		m, _ := period.ParseMonth(r.Period)
		if out.IsZero() || m.Before(out) {
			out = m
		}
	}
	return out
}

type monthAccumulator struct {
	period          string
	hasGoodsTotal   bool
	goodsExports    float64
	goodsImports    float64
	sectorExports   float64
	sectorImports   float64
	servicesExports float64
	servicesImports float64
}

// monthly sums each month. Goods use the TOTAL row when present and the
// sum of sector rows otherwise; services rows are always summed.
func monthly(rows []model.BalanceRow, inWindow func(string) bool) []monthAccumulator {
	byPeriod := make(map[string]*monthAccumulator)
	for _, r := range rows {
		if !inWindow(r.Period) {
			continue
		}
		m, _ := period.ParseMonth(r.Period)
		key := m.String()
		acc, ok := byPeriod[key]
		if !ok {
			acc = &monthAccumulator{period: key}
			byPeriod[key] = acc
		}
		switch {
		case r.Type == model.TypeServices:
			acc.servicesExports += r.Exports
			acc.servicesImports += r.Imports
		case r.Sector == model.SectorTotal:
			acc.hasGoodsTotal = true
			acc.goodsExports += r.Exports
			acc.goodsImports += r.Imports
		default:
			acc.sectorExports += r.Exports
			acc.sectorImports += r.Imports
		}
	}

	out := make([]monthAccumulator, 0, len(byPeriod))
	for _, acc := range byPeriod {
		if !acc.hasGoodsTotal {
			acc.goodsExports = acc.sectorExports
			acc.goodsImports = acc.sectorImports
		}
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].period < out[j].period })
	return out
}

func points(accs []monthAccumulator) []MonthPoint {
	out := make([]MonthPoint, 0, len(accs))
	for _, acc := range accs {
		exports := acc.goodsExports + acc.servicesExports
		imports := acc.goodsImports + acc.servicesImports
		out = append(out, MonthPoint{
			Period:          acc.period,
			Exports:         exports,
			Imports:         imports,
			Balance:         exports - imports,
			GoodsBalance:    acc.goodsExports - acc.goodsImports,
			ServicesBalance: acc.servicesExports - acc.servicesImports,
		})
	}
	return out
}

func (b *Builder) sectors(rows []model.BalanceRow, inWindow func(string) bool) []SectorFigures {
	type sectorKey struct{ typ, code string }
	sums := make(map[sectorKey]*SectorFigures)
	for _, r := range rows {
		if r.Sector == model.SectorTotal || !inWindow(r.Period) {
			continue
		}
		key := sectorKey{typ: r.Type, code: r.Sector}
		s, ok := sums[key]
		if !ok {
			s = &SectorFigures{Code: r.Sector, Name: b.name(vocab.SectorName, r.Sector), Type: r.Type}
			sums[key] = s
		}
		s.Exports += r.Exports
		s.Imports += r.Imports
	}

	out := make([]SectorFigures, 0, len(sums))
	for _, s := range sums {
		s.Balance = s.Exports - s.Imports
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := out[i].Exports+out[i].Imports, out[j].Exports+out[j].Imports
		if vi != vj {
			return vi > vj
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func emptyBlock() PartnerBlock {
	return PartnerBlock{Exports: []PartnerShare{}, Imports: []PartnerShare{}}
}

// partnerBlock ranks partners per flow by value over the window. A goods
// partner's value is the sum of its sector rows.
func (b *Builder) partnerBlock(rows []model.PartnerRow, reporter, typ string, inWindow func(string) bool) PartnerBlock {
	sums := map[model.Flow]map[string]float64{
		model.FlowExport: {},
		model.FlowImport: {},
	}
	for _, r := range rows {
		if r.Reporter != reporter || r.Type != typ || !inWindow(r.Period) {
			continue
		}
		if typ == model.TypeGoods && r.Sector == model.SectorTotal {
			continue
		}
		if byPartner, ok := sums[r.Flow]; ok {
			byPartner[r.Partner] += r.Value
		}
	}
	return PartnerBlock{
		Exports: b.top(sums[model.FlowExport]),
		Imports: b.top(sums[model.FlowImport]),
	}
}

func (b *Builder) top(byPartner map[string]float64) []PartnerShare {
	total := 0.0
	out := make([]PartnerShare, 0, len(byPartner))
	for code, value := range byPartner {
		total += value
		out = append(out, PartnerShare{Code: code, Name: b.name(vocab.CountryName, code), Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Code < out[j].Code
	})

	n := b.TopN
	if n <= 0 {
		n = DefaultTopN
	}
	if len(out) > n {
		out = out[:n]
	}
	for i := range out {
		if total > 0 {
			out[i].Share = out[i].Value / total * 100
		}
	}
	return out
}
