// Package app wires configuration into the running components shared by the
// sync CLI and the control server: store, run lock, platform client,
// resolver and materializer.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/engagement-sync/internal/config"
	"github.com/ignite/engagement-sync/internal/demographic"
	"github.com/ignite/engagement-sync/internal/export"
	"github.com/ignite/engagement-sync/internal/geo"
	"github.com/ignite/engagement-sync/internal/ongage"
	"github.com/ignite/engagement-sync/internal/pkg/distlock"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
	"github.com/ignite/engagement-sync/internal/repository/postgres"
	"github.com/ignite/engagement-sync/internal/resolve"
	"github.com/ignite/engagement-sync/internal/snowflake"
	"github.com/ignite/engagement-sync/internal/storage"
	"github.com/ignite/engagement-sync/internal/syncer"
)

// Store is what both binaries need from the engagement store.
type Store interface {
	syncer.Store
	Ping(ctx context.Context) error
}

// App holds the wired components. Close releases them.
type App struct {
	Config       *config.Config
	Store        Store
	DB           *sql.DB
	Redis        *redis.Client
	Syncer       *syncer.Syncer
	Materializer *export.Materializer
	Resolver     syncer.ResolverFactory

	closers []func() error
	log     *logger.Logger
}

// New connects every configured backend and assembles the syncer.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	a := &App{Config: cfg, log: logger.With("component", "app")}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var uploader export.Uploader
	if cfg.Export.S3Bucket != "" {
		objects, err := storage.NewS3ObjectStore(ctx, cfg.Export.S3Bucket, cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("export bucket: %w", err)
		}
		uploader = objects
	}
	a.Materializer = export.New(export.Options{
		Dir:          cfg.Export.Dir,
		FlagStyle:    export.FlagStyle(cfg.Export.FlagStyle),
		Sentinel:     cfg.Export.Sentinel,
		Uploader:     uploader,
		UploadPrefix: cfg.Export.S3Prefix,
	})
	a.Resolver = ResolverFactory(cfg)

	client := ongage.NewClient(ongage.Config{
		BaseURL:     cfg.Ongage.BaseURL,
		Username:    cfg.Ongage.Username,
		Password:    cfg.Ongage.Password,
		AccountCode: cfg.Ongage.AccountCode,
		ListID:      cfg.Ongage.ListID,
		PageSize:    cfg.Ongage.PageSize,
		Timeout:     cfg.Ongage.Timeout(),
		MaxRetries:  cfg.Ongage.MaxRetries,
	})

	opts := []syncer.Option{
		syncer.WithExporter(a.Materializer),
		syncer.WithResolver(a.Resolver),
	}
	if a.Redis != nil || a.DB != nil {
		opts = append(opts, syncer.WithLock(distlock.NewFactory(a.Redis, a.DB, cfg.Redis.LockTTL())))
	} else {
		a.log.Warn("no lock backend configured, concurrent runs are not guarded")
	}

	a.Syncer = syncer.New(syncer.NewOngageFetcher(client), a.Store, syncer.Config{
		PageSize:             cfg.Ongage.PageSize,
		IncrementalThreshold: cfg.Sync.IncrementalThreshold(),
		Workers:              cfg.Sync.Workers,
		UpstreamAttempts:     cfg.Sync.UpstreamAttempts,
		RetryBackoff:         cfg.Sync.RetryBackoff(),
		MaxRateLimitWait:     cfg.Sync.MaxRateLimitWait(),
	}, opts...)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Storage.Type {
	case "dynamodb":
		store, err := storage.NewDynamoStoreFromConfig(ctx, cfg.Storage.DynamoDBTable, cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			return fmt.Errorf("dynamodb store: %w", err)
		}
		a.Store = store
		a.log.Info("using DynamoDB store", "table", cfg.Storage.DynamoDBTable, "region", cfg.Storage.AWSRegion)
	default:
		db, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Store = postgres.NewStore(db, cfg.Sync.BatchSize)
		a.log.Info("using PostgreSQL store")
	}
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	if a.Config.Redis.URL == "" {
		return nil
	}
	opts, err := redis.ParseURL(a.Config.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	return nil
}

// Close releases every connection opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ResolverFactory returns a factory that rebuilds the demographic index and
// loads the geographic artifact for each run.
func ResolverFactory(cfg *config.Config) syncer.ResolverFactory {
	return func(ctx context.Context) (syncer.Resolver, error) {
		src, closeSrc, err := DemographicSource(cfg)
		if err != nil {
			return nil, err
		}
		defer closeSrc()

		demo, err := demographic.Load(ctx, src)
		if err != nil {
			return nil, err
		}
		geoIdx, err := LoadGeo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return resolve.NewEngine(demo, geoIdx, resolve.WithFuzzyThreshold(cfg.Resolution.FuzzyThreshold)), nil
	}
}

// DemographicSource opens the configured record source. The returned func
// releases it.
func DemographicSource(cfg *config.Config) (demographic.Source, func(), error) {
	switch cfg.Demographics.Source {
	case "snowflake":
		sf := cfg.Demographics.Snowflake
		sfCfg := snowflake.Config{
			Account:   sf.Account,
			User:      sf.User,
			Password:  sf.Password,
			Database:  sf.Database,
			Schema:    sf.Schema,
			Warehouse: sf.Warehouse,
		}
		if sf.ConnectionString != "" {
			sfCfg = snowflake.ParseConnectionString(sf.ConnectionString)
		}
		sfCfg.Table = sf.Table
		client, err := snowflake.NewClient(sfCfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	default:
		if cfg.Demographics.CSVPath == "" {
			return nil, nil, errors.New("demographics.csv_path is required for the csv source")
		}
		return demographic.CSVSource{Path: cfg.Demographics.CSVPath}, func() {}, nil
	}
}

// LoadGeo reads the geographic artifact from disk, or from S3 when no local
// copy exists. With neither configured, region fallback is disabled.
func LoadGeo(ctx context.Context, cfg *config.Config) (*geo.Index, error) {
	if path := cfg.Geo.ArtifactPath; path != "" {
		if _, err := os.Stat(path); err == nil {
			return geo.LoadFile(path)
		}
	}
	if cfg.Geo.S3Bucket != "" {
		objects, err := storage.NewS3ObjectStore(ctx, cfg.Geo.S3Bucket, cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			return nil, err
		}
		idx, err := geo.LoadObject(ctx, objects, cfg.Geo.S3Key)
		if err != nil {
			return nil, err
		}
		if cfg.Geo.ArtifactPath != "" {
			if err := idx.SaveFile(cfg.Geo.ArtifactPath); err != nil {
				logger.With("component", "app").Warn("could not cache geo artifact", "path", cfg.Geo.ArtifactPath, "error", err)
			}
		}
		return idx, nil
	}
	logger.With("component", "app").Warn("no geo artifact configured, region fallback disabled")
	return nil, nil
}
