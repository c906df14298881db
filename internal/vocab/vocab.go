package vocab

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	GoodsCountry    = "goods-country"
	ServicesCountry = "services-country"
	GoodsSector     = "goods-sector"
	ServicesSector  = "services-sector"
	CountryName     = "country-name"
	SectorName      = "sector-name"
)

var required = []string{GoodsCountry, ServicesCountry, GoodsSector, ServicesSector, CountryName}

//go:embed vocab.yaml
var embedded []byte

var ErrInvalidTable = errors.New("vocab: invalid vocabulary table")

type file struct {
	Version      string                       `yaml:"version"`
	Vocabularies map[string]map[string]string `yaml:"vocabularies"`
}

// Translator maps source labels and codes to canonical identifiers. Each
// vocabulary is an independent key space.
type Translator struct {
	version string
	tables  map[string]map[string]string

	mu     sync.Mutex
	misses map[string]int
}

// Default returns the translator built from the embedded tables.
func Default() (*Translator, error) {
	return Parse(embedded)
}

// Load reads the tables from path, or the embedded tables when path is empty.
func Load(path string) (*Translator, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Translator, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if strings.TrimSpace(f.Version) == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidTable)
	}
	for _, id := range required {
		if len(f.Vocabularies[id]) == 0 {
			return nil, fmt.Errorf("%w: vocabulary %q is empty", ErrInvalidTable, id)
		}
	}

	tables := make(map[string]map[string]string, len(f.Vocabularies))
	for id, entries := range f.Vocabularies {
		table := make(map[string]string, len(entries))
		for raw, canonical := range entries {
			table[strings.TrimSpace(raw)] = strings.TrimSpace(canonical)
		}
		tables[id] = table
	}
	return &Translator{
		version: f.Version,
		tables:  tables,
		misses:  make(map[string]int),
	}, nil
}

func (t *Translator) Version() string {
	return t.version
}

// Translate returns the canonical code for raw. Labels carrying a trailing
// footnote parenthetical ("Spain (incl. Canary Islands 'XB' from 1997)")
// are retried without it when the exact label is unknown.
func (t *Translator) Translate(vocabularyID, raw string) (string, bool) {
	table, ok := t.tables[vocabularyID]
	if !ok {
		t.miss(vocabularyID)
		return "", false
	}
	key := strings.TrimSpace(raw)
	if key == "" {
		t.miss(vocabularyID)
		return "", false
	}
	if code, ok := table[key]; ok {
		return code, true
	}
	if stripped, ok := stripFootnote(key); ok {
		if code, ok := table[stripped]; ok {
			return code, true
		}
	}
	t.miss(vocabularyID)
	return "", false
}

// Name returns the display name for a canonical code, falling back to the
// code itself.
func (t *Translator) Name(vocabularyID, code string) string {
	if name, ok := t.tables[vocabularyID][code]; ok {
		return name
	}
	return code
}

// Misses returns a snapshot of failed lookups per vocabulary.
func (t *Translator) Misses() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.misses))
	for id, n := range t.misses {
		out[id] = n
	}
	return out
}

func (t *Translator) ResetMisses() {
	t.mu.Lock()
	t.misses = make(map[string]int)
	t.mu.Unlock()
}

func (t *Translator) miss(vocabularyID string) {
	t.mu.Lock()
	t.misses[vocabularyID]++
	t.mu.Unlock()
}

func stripFootnote(label string) (string, bool) {
	if !strings.HasSuffix(label, ")") {
		return "", false
	}
	idx := strings.Index(label, " (")
	if idx <= 0 {
		return "", false
	}
	return strings.TrimSpace(label[:idx]), true
}
