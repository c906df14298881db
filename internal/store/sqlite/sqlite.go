package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tradebalance/internal/model"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) UpsertBalances(ctx context.Context, rows []model.BalanceRow) error {
	if len(rows) == 0 {
		return nil
	}
	ingestedAt := s.now().UTC()
	return s.upsert(ctx, `
		INSERT INTO monthly_balances (
			period, country, sector, type, exports, imports, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(period, country, sector, type)
		DO UPDATE SET
			exports = excluded.exports,
			imports = excluded.imports,
			ingested_at = excluded.ingested_at
	`, len(rows), func(i int) []any {
		row := rows[i]
		return []any{row.Period, row.Country, row.Sector, row.Type, row.Exports, row.Imports, ingestedAt}
	})
}

func (s *Store) UpsertPartners(ctx context.Context, rows []model.PartnerRow) error {
	if len(rows) == 0 {
		return nil
	}
	ingestedAt := s.now().UTC()
	return s.upsert(ctx, `
		INSERT INTO partner_flows (
			period, reporter, partner, sector, type, flow, value, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(period, reporter, partner, sector, type, flow)
		DO UPDATE SET
			value = excluded.value,
			ingested_at = excluded.ingested_at
	`, len(rows), func(i int) []any {
		row := rows[i]
		return []any{row.Period, row.Reporter, row.Partner, row.Sector, row.Type, string(row.Flow), row.Value, ingestedAt}
	})
}

func (s *Store) upsert(ctx context.Context, query string, n int, args func(int) []any) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err = stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("sqlite: upsert: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) PruneBalances(ctx context.Context, cutoff string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM monthly_balances WHERE period > ?`, cutoff)
	return err
}

func (s *Store) PrunePartners(ctx context.Context, reporter, cutoff string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM partner_flows WHERE reporter = ? AND period > ?`,
		strings.ToUpper(reporter), cutoff)
	return err
}

func (s *Store) ListCountries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT country FROM monthly_balances ORDER BY country`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	countries := make([]string, 0)
	for rows.Next() {
		var country string
		if err := rows.Scan(&country); err != nil {
			return nil, err
		}
		countries = append(countries, country)
	}
	return countries, rows.Err()
}

func (s *Store) ListBalances(ctx context.Context, country string) ([]model.BalanceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period, country, sector, type, exports, imports
		FROM monthly_balances
		WHERE country = ?
		ORDER BY period, type, sector
	`, strings.ToUpper(country))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]model.BalanceRow, 0)
	for rows.Next() {
		var row model.BalanceRow
		if err := rows.Scan(&row.Period, &row.Country, &row.Sector, &row.Type, &row.Exports, &row.Imports); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (s *Store) ListPartners(ctx context.Context, reporter string) ([]model.PartnerRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period, reporter, partner, sector, type, flow, value
		FROM partner_flows
		WHERE reporter = ?
		ORDER BY period, partner, type, sector, flow
	`, strings.ToUpper(reporter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]model.PartnerRow, 0)
	for rows.Next() {
		var row model.PartnerRow
		var flow string
		if err := rows.Scan(&row.Period, &row.Reporter, &row.Partner, &row.Sector, &row.Type, &flow, &row.Value); err != nil {
			return nil, err
		}
		row.Flow = model.Flow(strings.ToLower(flow))
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS monthly_balances (
			period TEXT NOT NULL,
			country TEXT NOT NULL,
			sector TEXT NOT NULL,
			type TEXT NOT NULL,
			exports REAL NOT NULL,
			imports REAL NOT NULL,
			ingested_at TEXT NOT NULL,
			PRIMARY KEY (period, country, sector, type)
		);`,
		`CREATE TABLE IF NOT EXISTS partner_flows (
			period TEXT NOT NULL,
			reporter TEXT NOT NULL,
			partner TEXT NOT NULL,
			sector TEXT NOT NULL,
			type TEXT NOT NULL,
			flow TEXT NOT NULL,
			value REAL NOT NULL,
			ingested_at TEXT NOT NULL,
			PRIMARY KEY (period, reporter, partner, sector, type, flow)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_partner_flows_reporter ON partner_flows (reporter);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}
