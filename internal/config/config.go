package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	SFTP     SFTPConfig
	Progress ProgressConfig
	Redis    RedisConfig
	Export   ExportConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SQLitePath      string
	// AutoMigrate creates the tables owned by this service at startup.
	AutoMigrate     bool
}

// DSN is the postgres connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

const (
	StorageLocal = "local"
	StorageSFTP  = "sftp"
)

type StorageConfig struct {
	Backend string
	// MediaRoot holds source images for the local backend.
	MediaRoot string
	// TmpRoot holds cached archives for the local backend and upload spool files for sftp.
	TmpRoot       string
	PublicBaseURL string
}

type SFTPConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	KeyFile      string
	KnownHosts   string
	MediaPath    string
	ArtifactPath string
	Timeout      time.Duration
}

const (
	ProgressMemory = "memory"
	ProgressRedis  = "redis"
)

type ProgressConfig struct {
	Backend string
	TTL     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ExportConfig struct {
	PageSize  int
	ChunkSize int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads the configuration from the environment. CONFIG_FILE may name a
// yaml file whose keys are overridden by the environment.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "json")

	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_NAME", "datasets")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 2)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DATABASE_SQLITE_PATH", "datasets.db")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	v.SetDefault("STORAGE_BACKEND", StorageLocal)
	v.SetDefault("STORAGE_MEDIA_ROOT", "media")
	v.SetDefault("STORAGE_TMP_ROOT", "tmp")
	v.SetDefault("STORAGE_PUBLIC_BASE_URL", "")

	v.SetDefault("SFTP_HOST", "")
	v.SetDefault("SFTP_PORT", 22)
	v.SetDefault("SFTP_USER", "")
	v.SetDefault("SFTP_PASSWORD", "")
	v.SetDefault("SFTP_KEY_FILE", "")
	v.SetDefault("SFTP_KNOWN_HOSTS", "")
	v.SetDefault("SFTP_MEDIA_PATH", "media")
	v.SetDefault("SFTP_ARTIFACT_PATH", "artifacts")
	v.SetDefault("SFTP_TIMEOUT", "30s")

	v.SetDefault("PROGRESS_BACKEND", ProgressMemory)
	v.SetDefault("PROGRESS_TTL", "1h")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("EXPORT_PAGE_SIZE", 200)
	v.SetDefault("EXPORT_CHUNK_SIZE", 8192)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_PATH", "/metrics")

	// Env
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetInt("SERVER_PORT"),
			ShutdownTimeout: duration(v, "SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOGGER_LEVEL"),
			Format: v.GetString("LOGGER_FORMAT"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("DATABASE_DRIVER")),
			Host:            v.GetString("DATABASE_HOST"),
			Port:            v.GetInt("DATABASE_PORT"),
			User:            v.GetString("DATABASE_USER"),
			Password:        v.GetString("DATABASE_PASSWORD"),
			Name:            v.GetString("DATABASE_NAME"),
			SSLMode:         v.GetString("DATABASE_SSLMODE"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: duration(v, "DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			SQLitePath:      v.GetString("DATABASE_SQLITE_PATH"),
			AutoMigrate:     v.GetBool("DATABASE_AUTO_MIGRATE"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(v.GetString("STORAGE_BACKEND")),
			MediaRoot:     v.GetString("STORAGE_MEDIA_ROOT"),
			TmpRoot:       v.GetString("STORAGE_TMP_ROOT"),
			PublicBaseURL: v.GetString("STORAGE_PUBLIC_BASE_URL"),
		},
		SFTP: SFTPConfig{
			Host:         v.GetString("SFTP_HOST"),
			Port:         v.GetInt("SFTP_PORT"),
			User:         v.GetString("SFTP_USER"),
			Password:     v.GetString("SFTP_PASSWORD"),
			KeyFile:      v.GetString("SFTP_KEY_FILE"),
			KnownHosts:   v.GetString("SFTP_KNOWN_HOSTS"),
			MediaPath:    v.GetString("SFTP_MEDIA_PATH"),
			ArtifactPath: v.GetString("SFTP_ARTIFACT_PATH"),
			Timeout:      duration(v, "SFTP_TIMEOUT", 30*time.Second),
		},
		Progress: ProgressConfig{
			Backend: strings.ToLower(v.GetString("PROGRESS_BACKEND")),
			TTL:     duration(v, "PROGRESS_TTL", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Export: ExportConfig{
			PageSize:  v.GetInt("EXPORT_PAGE_SIZE"),
			ChunkSize: v.GetInt("EXPORT_CHUNK_SIZE"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
			Path:    v.GetString("METRICS_PATH"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageSFTP:
		if c.SFTP.Host == "" {
			return fmt.Errorf("SFTP_HOST is required for the sftp storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	switch c.Progress.Backend {
	case ProgressMemory, ProgressRedis:
	default:
		return fmt.Errorf("unsupported progress backend: %s", c.Progress.Backend)
	}
	if c.Export.PageSize <= 0 {
		return fmt.Errorf("EXPORT_PAGE_SIZE must be positive, got %d", c.Export.PageSize)
	}
	if c.Export.ChunkSize <= 0 {
		return fmt.Errorf("EXPORT_CHUNK_SIZE must be positive, got %d", c.Export.ChunkSize)
	}
	return nil
}

// duration parses key, falling back to def on an invalid value.
func duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
