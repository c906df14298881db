package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"tradebalance/internal/model"
)

type balanceRecord struct {
	Period  string  `parquet:"name=period, type=BYTE_ARRAY, convertedtype=UTF8"`
	Country string  `parquet:"name=country, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sector  string  `parquet:"name=sector, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type    string  `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exports float64 `parquet:"name=exports, type=DOUBLE"`
	Imports float64 `parquet:"name=imports, type=DOUBLE"`
	Balance float64 `parquet:"name=balance, type=DOUBLE"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

func codec(compression string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(strings.TrimSpace(compression)) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "none":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("export: unsupported compression %q", compression)
	}
}

// Balances encodes the combined monthly series as a Parquet file.
func Balances(rows []model.BalanceRow, compression string) ([]byte, error) {
	compressionType, err := codec(compression)
	if err != nil {
		return nil, err
	}

	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(balanceRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("export: new parquet writer: %w", err)
	}
	pw.CompressionType = compressionType

	for _, row := range rows {
		rec := balanceRecord{
			Period:  row.Period,
			Country: row.Country,
			Sector:  row.Sector,
			Type:    row.Type,
			Exports: row.Exports,
			Imports: row.Imports,
			Balance: row.Balance(),
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("export: write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("export: finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}

// WriteBalances encodes rows and writes them to path, creating parent
// directories.
func WriteBalances(path string, rows []model.BalanceRow, compression string) (int, error) {
	data, err := Balances(rows, compression)
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("export: create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("export: write %s: %w", path, err)
	}
	return len(data), nil
}
