// Package app wires adapters and services from configuration. It is shared by
// the HTTP server and the versionctl command.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dataset-export-service/internal/adapters/secondary/postgres"
	"dataset-export-service/internal/adapters/secondary/progress"
	"dataset-export-service/internal/adapters/secondary/sqlite"
	"dataset-export-service/internal/adapters/secondary/storage"
	"dataset-export-service/internal/config"
	"dataset-export-service/internal/core/ports/output"
	"dataset-export-service/internal/core/services"
)

const pingTimeout = 5 * time.Second

// Deps is the wired service graph.
type Deps struct {
	Repo      ports.SnapshotRepository
	Media     ports.BlobStore
	Artifacts ports.BlobStore
	Tracker   ports.ProgressTracker

	Reader   *services.SnapshotReader
	Builder  *services.ArchiveBuilder
	Cache    *services.ArtifactCache
	Progress *services.ProgressService
	Export   *services.ExportService

	closers []func()
}

// Close releases connections in reverse order of creation.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

type options struct {
	metrics ports.ExportMetrics
}

type Option func(*options)

func WithMetrics(m ports.ExportMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func InitLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*Deps, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	// Secondary Adapters (Output Ports)
	if err := d.openRepository(ctx, cfg.Database); err != nil {
		return nil, err
	}
	if err := d.openStores(cfg); err != nil {
		return nil, err
	}
	if err := d.openProgress(ctx, cfg); err != nil {
		return nil, err
	}

	// Core Services (Application Layer)
	d.Reader = services.NewSnapshotReader(d.Repo, cfg.Export.PageSize)
	d.Builder = services.NewArchiveBuilder(d.Media, cfg.Export.ChunkSize)
	d.Cache = services.NewArtifactCache(d.Artifacts, d.Repo)
	d.Progress = services.NewProgressService(d.Tracker)
	d.Export = services.NewExportService(d.Reader, d.Builder, d.Cache, d.Progress, o.metrics)

	ok = true
	return d, nil
}

func (d *Deps) openRepository(ctx context.Context, cfg config.DatabaseConfig) error {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func() { _ = db.Close() })
		if err := sqlite.Migrate(ctx, db); err != nil {
			return err
		}
		d.Repo = sqlite.NewSnapshotRepository(db)
		log.WithField("path", cfg.SQLitePath).Info("sqlite database opened")

	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
		if err != nil {
			return fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("create db pool: %w", err)
		}
		d.closers = append(d.closers, pool.Close)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return fmt.Errorf("ping db: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
		} else {
			log.Info("database auto migration disabled, version_artifact must exist")
		}
		d.Repo = postgres.NewSnapshotRepository(pool)
		log.Info("database connection established")
	}
	return nil
}

func (d *Deps) openStores(cfg *config.Config) error {
	switch cfg.Storage.Backend {
	case config.StorageSFTP:
		base := storage.SFTPConfig{
			Host:           cfg.SFTP.Host,
			Port:           cfg.SFTP.Port,
			User:           cfg.SFTP.User,
			Password:       cfg.SFTP.Password,
			KeyFile:        cfg.SFTP.KeyFile,
			KnownHostsFile: cfg.SFTP.KnownHosts,
			Timeout:        cfg.SFTP.Timeout,
			TempDir:        cfg.Storage.TmpRoot,
		}
		mediaCfg := base
		mediaCfg.BasePath = cfg.SFTP.MediaPath
		media, err := storage.NewSFTPStore(mediaCfg)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func() { _ = media.Close() })

		artifactCfg := base
		artifactCfg.BasePath = cfg.SFTP.ArtifactPath
		artifactCfg.PublicBaseURL = cfg.Storage.PublicBaseURL
		artifacts, err := storage.NewSFTPStore(artifactCfg)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func() { _ = artifacts.Close() })

		d.Media, d.Artifacts = media, artifacts
		log.WithField("host", cfg.SFTP.Host).Info("sftp storage configured")

	default:
		media, err := storage.NewLocalStore(cfg.Storage.MediaRoot, "")
		if err != nil {
			return err
		}
		artifacts, err := storage.NewLocalStore(cfg.Storage.TmpRoot, cfg.Storage.PublicBaseURL)
		if err != nil {
			return err
		}
		d.Media, d.Artifacts = media, artifacts
		log.WithFields(log.Fields{"media_root": cfg.Storage.MediaRoot, "tmp_root": cfg.Storage.TmpRoot}).Info("local storage configured")
	}
	return nil
}

func (d *Deps) openProgress(ctx context.Context, cfg *config.Config) error {
	switch cfg.Progress.Backend {
	case config.ProgressRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, func() { _ = client.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		d.Tracker = progress.NewRedisTracker(client, cfg.Progress.TTL)
		log.WithField("addr", cfg.Redis.Addr).Info("redis progress tracker configured")

	default:
		d.Tracker = progress.NewMemoryTracker(cfg.Progress.TTL)
	}
	return nil
}
