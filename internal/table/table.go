package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	ColumnPeriod = "TIME_PERIOD"
	ColumnValue  = "OBS_VALUE"

	// MinPayloadBytes rejects empty or truncated upstream payloads.
	MinPayloadBytes = 100
)

var ErrMalformed = errors.New("table: malformed payload")

// Table is a delimited payload held as a header plus string records.
// Records are never mutated in place by the transforms in this module.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
}

func New(header []string) *Table {
	t := &Table{Header: append([]string(nil), header...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = normalizeHeader(t.Header)
}

// Column returns the position of name, matched case-insensitively.
func (t *Table) Column(name string) (int, bool) {
	if t.index == nil {
		t.reindex()
	}
	index, ok := t.index[strings.ToLower(strings.TrimSpace(name))]
	return index, ok
}

func (t *Table) HasColumns(names ...string) bool {
	for _, name := range names {
		if _, ok := t.Column(name); !ok {
			return false
		}
	}
	return true
}

// Cell returns the trimmed value of column name in record, or "".
func (t *Table) Cell(record []string, name string) string {
	if t.index == nil {
		t.reindex()
	}
	return getCell(record, t.index, name)
}

func (t *Table) Append(record []string) {
	t.Rows = append(t.Rows, record)
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Clone copies the header only.
func (t *Table) Clone() *Table {
	return New(t.Header)
}

func Read(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	t := New(header)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		t.Rows = append(t.Rows, record)
	}
	return t, nil
}

func Parse(data []byte) (*Table, error) {
	return Read(bytes.NewReader(data))
}

func (t *Table) Write(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return err
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func (t *Table) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks the raw payload shape before it is trusted: minimum size,
// no SOAP fault, and a header carrying the period and value columns.
func Validate(data []byte) error {
	if len(data) < MinPayloadBytes {
		return fmt.Errorf("%w: payload too small (%d bytes)", ErrMalformed, len(data))
	}
	firstLine := string(data)
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	if strings.Contains(firstLine, "S:Fault") {
		return fmt.Errorf("%w: upstream fault: %.100s", ErrMalformed, firstLine)
	}
	header := normalizeHeader(strings.Split(strings.TrimSpace(firstLine), ","))
	for _, column := range []string{ColumnPeriod, ColumnValue} {
		if _, ok := header[strings.ToLower(column)]; !ok {
			return fmt.Errorf("%w: missing column %s", ErrMalformed, column)
		}
	}
	return nil
}

func normalizeHeader(header []string) map[string]int {
	result := make(map[string]int, len(header))
	for i, value := range header {
		key := strings.ToLower(strings.Trim(strings.TrimSpace(value), "\"\uFEFF"))
		if key == "" {
			continue
		}
		if _, exists := result[key]; exists {
			continue
		}
		result[key] = i
	}
	return result
}

func getCell(record []string, header map[string]int, key string) string {
	index, ok := header[strings.ToLower(strings.TrimSpace(key))]
	if !ok || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}
