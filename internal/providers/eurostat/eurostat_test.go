package eurostat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebalance/internal/model"
	"tradebalance/internal/providers"
)

var validCSV = "DATAFLOW,LAST UPDATE,freq,reporter,partner,product,flow,indicators,TIME_PERIOD,OBS_VALUE\n" +
	"ESTAT:DS-059331(1.0),01/01/25,Monthly,Spain,World,Total all products,EXPORT,VALUE_EUR,2024-01,1000\n"

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewWithConfig(Config{BaseURL: server.URL, Timeout: 5 * time.Second, MaxRetries: 2})
	require.NoError(t, err)
	return p
}

func TestFetchBuildsComextQuery(t *testing.T) {
	var rawQuery, path string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		path = r.URL.Path
		_, _ = w.Write([]byte(validCSV))
	})

	body, err := p.Fetch(context.Background(), providers.Query{
		Dataset:   DatasetComext,
		Reporters: []string{"ES", "FR"},
		Partners:  []string{"WORLD"},
		Products:  []string{"TOTAL", "0"},
		Flows:     []model.Flow{model.FlowImport, model.FlowExport},
		Start:     "2002-01",
		End:       "2024-12",
		Labels:    "label_only",
	})
	require.NoError(t, err)
	assert.Equal(t, validCSV, string(body))

	assert.True(t, strings.HasSuffix(path, "/ESTAT/ds-059331/1.0/*.*.*.*.*.*"), path)
	for _, want := range []string{
		"c[freq]=M",
		"c[reporter]=ES,FR",
		"c[partner]=WORLD",
		"c[product]=TOTAL,0",
		"c[flow]=1,2",
		"c[indicators]=VALUE_EUR",
		"c[TIME_PERIOD]=ge:2002-01+le:2024-12",
		"format=csvdata",
		"labels=label_only",
	} {
		assert.Contains(t, rawQuery, want)
	}
}

func TestBOPAliases(t *testing.T) {
	p, err := NewWithConfig(Config{BaseURL: "https://example.test/api"})
	require.NoError(t, err)

	u, err := p.URL(providers.Query{
		Dataset:   DatasetBOP,
		Reporters: []string{"GR", "gb", "ES"},
		Partners:  []string{"CN", "US"},
		Products:  []string{"S"},
		Flows:     []model.Flow{model.FlowExport, model.FlowImport},
		Start:     "2002-Q1",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://example.test/api/dissemination/sdmx/3.0/data/dataflow/ESTAT/bop_c6_q/1.0/"))
	assert.Contains(t, u, "c[freq]=Q")
	assert.Contains(t, u, "c[geo]=EL,UK,ES")
	assert.Contains(t, u, "c[partner]=CN_X_HK,US")
	assert.Contains(t, u, "c[stk_flow]=CRE,DEB")
	assert.Contains(t, u, "c[currency]=MIO_EUR")
	assert.Contains(t, u, "c[TIME_PERIOD]=ge:2002-Q1")
	assert.Contains(t, u, "labels=id")
}

func TestRetryOn429(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(validCSV))
	})

	_, err := p.Fetch(context.Background(), providers.Query{Dataset: DatasetComext})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFailureClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "boom", ErrTransient},
		{"not found", http.StatusNotFound, "No data", ErrNoRecords},
		{"too small", http.StatusOK, "TIME_PERIOD,OBS_VALUE\n", ErrMalformedPayload},
		{"soap fault", http.StatusOK, "<S:Fault>" + strings.Repeat("x", 200), ErrMalformedPayload},
		{"missing columns", http.StatusOK, "geo,value\n" + strings.Repeat("ES,1\n", 40), ErrMalformedPayload},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(c.body))
			})
			_, err := p.Fetch(context.Background(), providers.Query{Dataset: DatasetComext})
			assert.ErrorIs(t, err, c.wantErr)
		})
	}
}

func TestUnknownDataset(t *testing.T) {
	p, err := NewWithConfig(Config{})
	require.NoError(t, err)
	_, err = p.Fetch(context.Background(), providers.Query{Dataset: "nope"})
	assert.ErrorIs(t, err, ErrUnknownDataset)
}

func TestQueryTimeout(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	_, err := p.Fetch(context.Background(), providers.Query{Dataset: DatasetComext, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
