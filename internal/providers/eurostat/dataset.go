package eurostat

import (
	"strings"

	"tradebalance/internal/model"
)

const (
	// DatasetComext is the Comext EU trade since 1988 by SITC, monthly.
	DatasetComext = "ds-059331"
	// DatasetBOP is the balance of payments by country, quarterly.
	DatasetBOP = "bop_c6_q"
)

// Dataset maps the generic query dimensions onto one SDMX dataflow.
type Dataset struct {
	ID          string
	Path        string
	Frequency   model.PeriodType
	ReporterDim string
	PartnerDim  string
	ProductDim  string
	FlowDim     string
	FlowCodes   map[model.Flow]string
	// Aliases rewrites canonical country codes into the dataflow's codes.
	Aliases map[string]string
	Fixed   map[string]string
}

var datasets = map[string]Dataset{
	DatasetComext: {
		ID:          DatasetComext,
		Path:        "comext/dissemination/sdmx/3.0/data/dataflow/ESTAT/ds-059331/1.0/*.*.*.*.*.*",
		Frequency:   model.PeriodMonth,
		ReporterDim: "reporter",
		PartnerDim:  "partner",
		ProductDim:  "product",
		FlowDim:     "flow",
		FlowCodes:   map[model.Flow]string{model.FlowImport: "1", model.FlowExport: "2"},
		Fixed:       map[string]string{"indicators": "VALUE_EUR"},
	},
	DatasetBOP: {
		ID:          DatasetBOP,
		Path:        "dissemination/sdmx/3.0/data/dataflow/ESTAT/bop_c6_q/1.0/*.*.*.*.*.*.*.*",
		Frequency:   model.PeriodQuarter,
		ReporterDim: "geo",
		PartnerDim:  "partner",
		ProductDim:  "bop_item",
		FlowDim:     "stk_flow",
		FlowCodes:   map[model.Flow]string{model.FlowExport: "CRE", model.FlowImport: "DEB"},
		Aliases:     map[string]string{"GR": "EL", "GB": "UK", "CN": "CN_X_HK"},
		Fixed:       map[string]string{"currency": "MIO_EUR", "sector10": "S1", "sectpart": "S1"},
	},
}

func Lookup(id string) (Dataset, bool) {
	ds, ok := datasets[id]
	return ds, ok
}

func (ds Dataset) aliases(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if alias, ok := ds.Aliases[code]; ok {
			code = alias
		}
		out = append(out, code)
	}
	return out
}

func (ds Dataset) flowCodes(flows []model.Flow) []string {
	if len(flows) == 0 {
		return nil
	}
	out := make([]string, 0, len(flows))
	for _, flow := range flows {
		if code, ok := ds.FlowCodes[flow]; ok {
			out = append(out, code)
		}
	}
	return out
}

