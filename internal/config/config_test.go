package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendFile, cfg.Cache.Backend)
	assert.Equal(t, 2002, cfg.StartYear)
	assert.Equal(t, 7*24*time.Hour, cfg.Freshness.MaxAge)
	assert.Equal(t, int64(1024), cfg.Freshness.MinSize)
	assert.Len(t, cfg.GoodsPartners.Partners, 40)
	assert.Contains(t, cfg.Aggregate.GoodsReporters, "EU27_2020")
	assert.NotContains(t, cfg.Aggregate.ServicesReporters, "NO")
	assert.Equal(t, time.Second, cfg.GoodsPartners.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.ServicesPartners.Interval)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/tb
start_year: 2015
freshness:
  max_age: 48h
goods_partners:
  partners: [FR, DE]
  interval: 250ms
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tb", cfg.DataDir)
	assert.Equal(t, 2015, cfg.StartYear)
	assert.Equal(t, 48*time.Hour, cfg.Freshness.MaxAge)
	assert.Equal(t, []string{"FR", "DE"}, cfg.GoodsPartners.Partners)
	assert.Equal(t, 250*time.Millisecond, cfg.GoodsPartners.Interval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 120*time.Second, cfg.GoodsPartners.Timeout, "unset keys keep defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADEBALANCE_DATA_DIR", "/srv/cache")
	t.Setenv("TRADEBALANCE_MAX_AGE", "24h")
	t.Setenv("TRADEBALANCE_END_YEAR", "2024")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/cache", cfg.DataDir)
	assert.Equal(t, 24*time.Hour, cfg.Freshness.MaxAge)
	assert.Equal(t, 2024, cfg.End(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestS3Validation(t *testing.T) {
	path := writeConfig(t, `
cache:
  backend: s3
  s3:
    bucket: Bad_Bucket
    region: eu-west-1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")

	t.Setenv("S3_BUCKET", "trade-cache")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "trade-cache", cfg.Cache.S3.Bucket)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown backend":  "cache:\n  backend: redis\n",
		"end before start": "start_year: 2020\nend_year: 2010\n",
		"bad yaml":         "start_year: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestEndDefaultsToCurrentYear(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2026, cfg.End(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)))
}
