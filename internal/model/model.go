package model

import (
	"strconv"
	"strings"
)

type Flow string

const (
	FlowExport Flow = "export"
	FlowImport Flow = "import"
)

// FileLabel is the plural form used in cache filenames.
func (f Flow) FileLabel() string {
	switch f {
	case FlowExport:
		return "exports"
	case FlowImport:
		return "imports"
	default:
		return string(f)
	}
}

func ParseFlow(value string) (Flow, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "export", "exports", "2", "cre", "credit":
		return FlowExport, true
	case "import", "imports", "1", "deb", "debit":
		return FlowImport, true
	default:
		return "", false
	}
}

type PeriodType string

const (
	PeriodMonth   PeriodType = "M"
	PeriodQuarter PeriodType = "Q"
)

// DataKind names the four generated dataset kinds.
type DataKind string

const (
	KindGoodsAggregate    DataKind = "goods"
	KindServicesAggregate DataKind = "services"
	KindGoodsPartners     DataKind = "partners"
	KindServicesPartners  DataKind = "partners_services"
)

const (
	TypeGoods    = "goods"
	TypeServices = "services"
)

const SectorTotal = "TOTAL"

// Amount is a decimal value that may be absent. Absent is distinct from zero.
type Amount struct {
	Value float64
	Valid bool
}

func Some(value float64) Amount {
	return Amount{Value: value, Valid: true}
}

func None() Amount {
	return Amount{}
}

// ParseAmount treats the empty string and the ":" sentinel as absent.
func ParseAmount(raw string) Amount {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == ":" {
		return None()
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return None()
	}
	return Some(value)
}

func (a Amount) OrZero() float64 {
	if !a.Valid {
		return 0
	}
	return a.Value
}

// BalanceRow is one (month, country, sector) row of the wide monthly series.
type BalanceRow struct {
	Period  string
	Country string
	Sector  string
	Type    string
	Exports float64
	Imports float64
}

func (r BalanceRow) Balance() float64 {
	return r.Exports - r.Imports
}

// PartnerRow is one bilateral (month, partner, sector, flow) value.
type PartnerRow struct {
	Period   string
	Reporter string
	Partner  string
	Sector   string
	Type     string
	Flow     Flow
	Value    float64
}
