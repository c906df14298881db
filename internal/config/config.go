package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

type Config struct {
	DataDir          string                 `yaml:"data_dir"`
	StartYear        int                    `yaml:"start_year"`
	EndYear          int                    `yaml:"end_year"`
	Cache            CacheConfig            `yaml:"cache"`
	Freshness        FreshnessConfig        `yaml:"freshness"`
	Eurostat         EurostatConfig         `yaml:"eurostat"`
	Aggregate        AggregateConfig        `yaml:"aggregate"`
	GoodsPartners    GoodsPartnersConfig    `yaml:"goods_partners"`
	ServicesPartners ServicesPartnersConfig `yaml:"services_partners"`
	Vocab            VocabConfig            `yaml:"vocab"`
	Logging          LoggingConfig          `yaml:"logging"`
	Publisher        PublisherConfig        `yaml:"publisher"`
}

type CacheConfig struct {
	Backend string   `yaml:"backend"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

type FreshnessConfig struct {
	MinSize        int64         `yaml:"min_size"`
	PartnerMinSize int64         `yaml:"partner_min_size"`
	MaxAge         time.Duration `yaml:"max_age"`
}

type EurostatConfig struct {
	BaseURL    string `yaml:"base_url"`
	UserAgent  string `yaml:"user_agent"`
	MaxRetries int    `yaml:"max_retries"`
}

type AggregateConfig struct {
	GoodsReporters    []string      `yaml:"goods_reporters"`
	ServicesReporters []string      `yaml:"services_reporters"`
	Products          []string      `yaml:"products"`
	Timeout           time.Duration `yaml:"timeout"`
	ServicesTimeout   time.Duration `yaml:"services_timeout"`
}

type GoodsPartnersConfig struct {
	Reporters []string      `yaml:"reporters"`
	Partners  []string      `yaml:"partners"`
	Products  []string      `yaml:"products"`
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ServicesPartnersConfig struct {
	Reporters []string      `yaml:"reporters"`
	Partners  []string      `yaml:"partners"`
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
}

type VocabConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type PublisherConfig struct {
	OutDir             string `yaml:"out_dir"`
	DBPath             string `yaml:"db_path"`
	Parquet            string `yaml:"parquet"`
	ParquetCompression string `yaml:"parquet_compression"`
	TopN               int    `yaml:"top_n"`
	Months             int    `yaml:"months"`
}

var (
	euReporters = []string{
		"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR", "HU", "IE",
		"IT", "LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK", "SI", "ES", "SE",
	}
	sitcProducts = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	goodsReporters := append(append([]string{}, euReporters...), "GB", "NO", "CH", "EU27_2020")
	servicesReporters := append(append([]string{}, euReporters...), "GB")
	partnerReporters := append(append([]string{}, euReporters...), "GB", "CH", "NO", "IS")

	return &Config{
		DataDir:   "data",
		StartYear: 2002,
		Cache:     CacheConfig{Backend: BackendFile},
		Freshness: FreshnessConfig{
			MinSize:        1024,
			PartnerMinSize: 100,
			MaxAge:         7 * 24 * time.Hour,
		},
		Eurostat: EurostatConfig{
			BaseURL:    "https://ec.europa.eu/eurostat/api/",
			UserAgent:  "TradeBalance/0.1",
			MaxRetries: 3,
		},
		Aggregate: AggregateConfig{
			GoodsReporters:    goodsReporters,
			ServicesReporters: servicesReporters,
			Products:          append([]string{"TOTAL"}, sitcProducts...),
			Timeout:           300 * time.Second,
			ServicesTimeout:   180 * time.Second,
		},
		GoodsPartners: GoodsPartnersConfig{
			Reporters: partnerReporters,
			Partners: []string{
				"FR", "DE", "IT", "NL", "BE", "ES", "PL", "AT", "CZ", "SE",
				"DK", "PT", "RO", "HU", "FI", "IE", "GR", "SK", "BG", "HR",
				"GB", "CH", "NO", "CN", "US", "TR", "RU", "JP", "IN", "KR",
				"BR", "MX", "CA", "AU", "SA", "AE", "ZA", "SG", "TH", "MY",
			},
			Products: sitcProducts,
			Interval: time.Second,
			Timeout:  120 * time.Second,
		},
		ServicesPartners: ServicesPartnersConfig{
			Reporters: partnerReporters,
			Partners: []string{
				"BE", "BG", "CZ", "DK", "DE", "EE", "IE", "GR", "ES", "FR", "HR", "IT", "CY", "LV",
				"LT", "LU", "HU", "MT", "NL", "AT", "PL", "PT", "RO", "SI", "SK", "FI", "SE",
				"CH", "GB", "RU", "CA", "US", "BR", "CN", "HK", "JP", "IN",
			},
			Interval: 500 * time.Millisecond,
			Timeout:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Publisher: PublisherConfig{
			OutDir:             "site/data",
			DBPath:             "tradebalance.db",
			ParquetCompression: "snappy",
			TopN:               10,
		},
	}
}

// Load reads path over the defaults, applies TRADEBALANCE_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Cache.S3.Bucket = strings.TrimSpace(cfg.Cache.S3.Bucket)
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getenv("TRADEBALANCE_DATA_DIR", cfg.DataDir)
	cfg.StartYear = getenvInt("TRADEBALANCE_START_YEAR", cfg.StartYear)
	cfg.EndYear = getenvInt("TRADEBALANCE_END_YEAR", cfg.EndYear)
	cfg.Cache.Backend = getenv("TRADEBALANCE_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Freshness.MaxAge = getenvDuration("TRADEBALANCE_MAX_AGE", cfg.Freshness.MaxAge)
	cfg.Vocab.Path = getenv("TRADEBALANCE_VOCAB_PATH", cfg.Vocab.Path)
	cfg.Logging.Level = getenv("TRADEBALANCE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenv("TRADEBALANCE_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getenv("TRADEBALANCE_LOG_OUTPUT", cfg.Logging.Output)
	cfg.Eurostat.BaseURL = getenv("EUROSTAT_BASE_URL", cfg.Eurostat.BaseURL)
	cfg.Eurostat.UserAgent = getenv("EUROSTAT_USER_AGENT", cfg.Eurostat.UserAgent)
	cfg.Eurostat.MaxRetries = getenvInt("EUROSTAT_MAX_RETRIES", cfg.Eurostat.MaxRetries)

	if cfg.Cache.Backend == BackendS3 {
		s3 := &cfg.Cache.S3
		s3.AccessKeyID = getenv("AWS_ACCESS_KEY_ID", s3.AccessKeyID)
		s3.SecretAccessKey = getenv("AWS_SECRET_ACCESS_KEY", s3.SecretAccessKey)
		s3.Region = getenv("AWS_REGION", s3.Region)
		s3.Bucket = getenv("S3_BUCKET", s3.Bucket)
		s3.Endpoint = getenv("S3_ENDPOINT", s3.Endpoint)
		s3.PathStyle = getenvBool("S3_PATH_STYLE", s3.PathStyle)
	}
}

func (c *Config) Validate() error {
	if c.StartYear < 1988 {
		return fmt.Errorf("start_year must be 1988 or later")
	}
	if c.EndYear != 0 && c.EndYear < c.StartYear {
		return fmt.Errorf("end_year %d is before start_year %d", c.EndYear, c.StartYear)
	}
	if c.Freshness.MinSize < 0 || c.Freshness.PartnerMinSize < 0 {
		return fmt.Errorf("freshness sizes must not be negative")
	}
	if c.Freshness.MaxAge <= 0 {
		return fmt.Errorf("freshness.max_age must be greater than 0")
	}
	if len(c.Aggregate.GoodsReporters) == 0 {
		return fmt.Errorf("aggregate.goods_reporters is required")
	}
	if c.Publisher.TopN < 0 {
		return fmt.Errorf("publisher.top_n must not be negative")
	}
	if c.Publisher.Months < 0 {
		return fmt.Errorf("publisher.months must not be negative")
	}
	switch strings.ToLower(c.Publisher.ParquetCompression) {
	case "", "snappy", "gzip", "none":
	default:
		return fmt.Errorf("publisher.parquet_compression %q is not supported", c.Publisher.ParquetCompression)
	}

	switch c.Cache.Backend {
	case BackendFile:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("data_dir is required for the file cache")
		}
	case BackendMemory:
	case BackendS3:
		if c.Cache.S3.Bucket == "" {
			return fmt.Errorf("cache.s3.bucket is required when the s3 cache is enabled")
		}
		if c.Cache.S3.Region == "" {
			return fmt.Errorf("cache.s3.region is required when the s3 cache is enabled")
		}
		if !isValidS3Bucket(c.Cache.S3.Bucket) {
			return fmt.Errorf("cache.s3.bucket '%s' is invalid", c.Cache.S3.Bucket)
		}
	default:
		return fmt.Errorf("unknown cache.backend '%s'", c.Cache.Backend)
	}
	return nil
}

// End returns the last year to request, defaulting to the current year.
func (c *Config) End(now time.Time) int {
	if c.EndYear > 0 {
		return c.EndYear
	}
	return now.Year()
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
