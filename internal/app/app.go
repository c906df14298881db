package app

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"tradebalance/internal/cache"
	"tradebalance/internal/cache/filestore"
	"tradebalance/internal/cache/memory"
	"tradebalance/internal/cache/s3store"
	"tradebalance/internal/config"
	"tradebalance/internal/logging"
	"tradebalance/internal/vocab"
)

// Setup loads .env when present, reads the configuration and configures
// the global logger. verbose forces debug level.
func Setup(configPath string, verbose bool) (*config.Config, *logging.Log, error) {
	log := logging.Default()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := log.Configure(level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, nil, fmt.Errorf("configure logger: %w", err)
	}
	return cfg, log, nil
}

// OpenCache builds the artifact store selected by cache.backend.
func OpenCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendS3:
		s3cfg := cfg.Cache.S3
		return s3store.New(ctx, s3store.Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			PathStyle:       s3cfg.PathStyle,
		})
	case config.BackendFile, "":
		return filestore.New(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}

// Vocabulary loads the configured code tables, or the embedded ones.
func Vocabulary(cfg *config.Config) (*vocab.Translator, error) {
	return vocab.Load(cfg.Vocab.Path)
}
