package store

import (
	"context"

	"tradebalance/internal/model"
)

// Store persists the combined monthly series the dashboard is built from.
type Store interface {
	UpsertBalances(ctx context.Context, rows []model.BalanceRow) error
	UpsertPartners(ctx context.Context, rows []model.PartnerRow) error
	// PruneBalances removes balance rows later than cutoff (YYYY-MM).
	PruneBalances(ctx context.Context, cutoff string) error
	// PrunePartners removes the reporter's partner rows later than cutoff.
	PrunePartners(ctx context.Context, reporter, cutoff string) error
	ListCountries(ctx context.Context) ([]string, error)
	ListBalances(ctx context.Context, country string) ([]model.BalanceRow, error)
	ListPartners(ctx context.Context, reporter string) ([]model.PartnerRow, error)
	Close() error
}
