package dashboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Write stores the index as index.json and each document as
// countries/<CODE>.json under dir.
func Write(dir string, idx Index, docs []Document) error {
	countries := filepath.Join(dir, "countries")
	if err := os.MkdirAll(countries, 0o755); err != nil {
		return fmt.Errorf("dashboard: create output dir: %w", err)
	}
	for _, doc := range docs {
		if err := writeJSON(filepath.Join(countries, doc.Country+".json"), doc); err != nil {
			return fmt.Errorf("dashboard: write %s: %w", doc.Country, err)
		}
	}
	if err := writeJSON(filepath.Join(dir, "index.json"), idx); err != nil {
		return fmt.Errorf("dashboard: write index: %w", err)
	}
	return nil
}

func writeJSON(path string, value any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
