package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Month is a calendar month. The zero value is not a valid month.
type Month struct {
	Year  int
	Month int
}

// Quarter maps to exactly three months of the same year.
type Quarter struct {
	Year    int
	Quarter int
}

func NewMonth(year, month int) Month {
	return Month{Year: year, Month: month}
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// Index is a monotonic month counter used for ordering and arithmetic.
func (m Month) Index() int {
	return m.Year*12 + (m.Month - 1)
}

func FromIndex(index int) Month {
	return Month{Year: index / 12, Month: index%12 + 1}
}

func (m Month) AddMonths(n int) Month {
	return FromIndex(m.Index() + n)
}

func (m Month) Compare(other Month) int {
	switch a, b := m.Index(), other.Index(); {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func (m Month) Before(other Month) bool {
	return m.Compare(other) < 0
}

func (m Month) After(other Month) bool {
	return m.Compare(other) > 0
}

func (m Month) Quarter() Quarter {
	return Quarter{Year: m.Year, Quarter: (m.Month-1)/3 + 1}
}

// Start is the first instant of the month in UTC.
func (m Month) Start() time.Time {
	return time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, time.UTC)
}

func (q Quarter) String() string {
	return fmt.Sprintf("%04d-Q%d", q.Year, q.Quarter)
}

// Months returns {3q-2, 3q-1, 3q}.
func (q Quarter) Months() [3]Month {
	first := 3*q.Quarter - 2
	return [3]Month{
		{Year: q.Year, Month: first},
		{Year: q.Year, Month: first + 1},
		{Year: q.Year, Month: first + 2},
	}
}

func (q Quarter) FirstMonth() Month {
	return q.Months()[0]
}

func (q Quarter) Compare(other Quarter) int {
	a := q.Year*10 + q.Quarter
	b := other.Year*10 + other.Quarter
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

// MonthsBetween returns to - from in whole months.
func MonthsBetween(from, to Month) int {
	return to.Index() - from.Index()
}

// ParseMonth accepts YYYY-MM, YYYYMM and YYYY-MM-DD.
func ParseMonth(value string) (Month, bool) {
	year, month, ok := parseYearMonth(value)
	if !ok {
		return Month{}, false
	}
	return Month{Year: year, Month: month}, true
}

// ParseQuarter accepts YYYY-Qn and YYYYQn.
func ParseQuarter(value string) (Quarter, bool) {
	year, quarter, ok := parseYearQuarter(value)
	if !ok {
		return Quarter{}, false
	}
	return Quarter{Year: year, Quarter: quarter}, true
}

func MustMonth(value string) Month {
	m, ok := ParseMonth(value)
	if !ok {
		panic(fmt.Sprintf("period: invalid month %q", value))
	}
	return m
}

func parseYearMonth(value string) (int, int, bool) {
	value = strings.TrimSpace(value)
	if len(value) == 6 && isDigits(value) {
		year, _ := strconv.Atoi(value[:4])
		month, _ := strconv.Atoi(value[4:])
		if month >= 1 && month <= 12 {
			return year, month, true
		}
	}

	parts := strings.Split(value, "-")
	if len(parts) == 3 && len(parts[2]) == 2 && isDigits(parts[2]) {
		parts = parts[:2]
	}
	if len(parts) == 2 && len(parts[0]) == 4 && len(parts[1]) == 2 {
		year, errYear := strconv.Atoi(parts[0])
		month, errMonth := strconv.Atoi(parts[1])
		if errYear == nil && errMonth == nil && month >= 1 && month <= 12 {
			return year, month, true
		}
	}
	return 0, 0, false
}

func parseYearQuarter(value string) (int, int, bool) {
	value = strings.ToUpper(strings.TrimSpace(value))
	for _, sep := range []string{"-Q", "Q"} {
		if !strings.Contains(value, sep) {
			continue
		}
		parts := strings.Split(value, sep)
		if len(parts) != 2 || len(parts[0]) != 4 {
			continue
		}
		year, errYear := strconv.Atoi(parts[0])
		quarter, errQuarter := strconv.Atoi(parts[1])
		if errYear == nil && errQuarter == nil && quarter >= 1 && quarter <= 4 {
			return year, quarter, true
		}
	}
	return 0, 0, false
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
