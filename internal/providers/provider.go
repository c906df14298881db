package providers

import (
	"context"
	"time"

	"tradebalance/internal/model"
)

// Query selects a slice of an upstream dataset. Empty selections mean "all"
// for that dimension.
type Query struct {
	Dataset   string
	Frequency model.PeriodType
	Reporters []string
	Partners  []string
	Products  []string
	Flows     []model.Flow
	Start     string
	End       string
	// Labels selects code or label output ("id", "label_only", "both").
	Labels string
	// Extra carries further dimension filters verbatim.
	Extra map[string]string
	// Timeout bounds this request; zero uses the provider default.
	Timeout time.Duration
}

// Fetcher returns the raw delimited payload for a query. The payload has
// already passed basic shape validation.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, q Query) ([]byte, error)
}
