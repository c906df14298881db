package interpolate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradebalance/internal/model"
	"tradebalance/internal/period"
	"tradebalance/internal/table"
)

// Precision is the number of decimal places kept by EqualSplit.
const Precision = 2

var ErrMissingColumn = errors.New("interpolate: missing column")

var three = decimal.NewFromInt(3)

// Stats reports what EqualSplit did with its input rows.
type Stats struct {
	// Quarters counts quarterly rows with a value that were split.
	Quarters int
	// Months counts valued monthly rows generated from those quarters.
	Months int
	// Absent counts quarterly rows expanded with their value left absent.
	Absent int
	// Passthrough counts rows already in monthly format.
	Passthrough int
	// Preserved counts rows kept unmodified because their period or value
	// could not be interpreted.
	Preserved int
	// PreservedPeriods holds the distinct period tokens of preserved rows.
	PreservedPeriods []string
}

// EqualSplit expands every quarterly row of t into three monthly rows that
// each carry a third of the quarter's value, rounded half away from zero to
// Precision places. Absent values stay absent. Monthly rows pass through;
// rows whose period or value cannot be read are kept unchanged. t is not
// modified.
func EqualSplit(t *table.Table, periodCol, valueCol string) (*table.Table, Stats, error) {
	var stats Stats
	if t == nil {
		return nil, stats, fmt.Errorf("%w: nil table", ErrMissingColumn)
	}
	periodIdx, ok := t.Column(periodCol)
	if !ok {
		return nil, stats, fmt.Errorf("%w: %s", ErrMissingColumn, periodCol)
	}
	valueIdx, ok := t.Column(valueCol)
	if !ok {
		return nil, stats, fmt.Errorf("%w: %s", ErrMissingColumn, valueCol)
	}

	out := t.Clone()
	seen := make(map[string]struct{})
	preserve := func(record []string) {
		out.Append(copyRecord(record, len(t.Header)))
		stats.Preserved++
		token := t.Cell(record, periodCol)
		if _, dup := seen[token]; !dup {
			seen[token] = struct{}{}
			stats.PreservedPeriods = append(stats.PreservedPeriods, token)
		}
	}

	for _, record := range t.Rows {
		token := t.Cell(record, periodCol)

		if _, ok := period.ParseMonth(token); ok {
			out.Append(copyRecord(record, len(t.Header)))
			stats.Passthrough++
			continue
		}

		q, ok := period.ParseQuarter(token)
		if !ok {
			preserve(record)
			continue
		}

		raw := t.Cell(record, valueCol)
		if !model.ParseAmount(raw).Valid {
			if isAbsentToken(raw) {
				for _, m := range q.Months() {
					row := copyRecord(record, len(t.Header))
					row[periodIdx] = m.String()
					out.Append(row)
				}
				stats.Absent++
				continue
			}
			preserve(record)
			continue
		}

		value, err := decimal.NewFromString(raw)
		if err != nil {
			preserve(record)
			continue
		}
		monthly := value.Div(three).StringFixed(Precision)
		for _, m := range q.Months() {
			row := copyRecord(record, len(t.Header))
			row[periodIdx] = m.String()
			row[valueIdx] = monthly
			out.Append(row)
			stats.Months++
		}
		stats.Quarters++
	}
	return out, stats, nil
}

func isAbsentToken(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return trimmed == "" || trimmed == ":"
}

func copyRecord(record []string, width int) []string {
	if width < len(record) {
		width = len(record)
	}
	row := make([]string, width)
	copy(row, record)
	return row
}
