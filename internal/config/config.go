package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the insight server and CLI.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	Catalog CatalogConfig
	Ingest  IngestConfig
	Query   QueryConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int // seconds
	WriteTimeout    int // seconds
	IdleTimeout     int // seconds
	ShutdownTimeout int // seconds
	MaxPayloadSize  int64
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Backend     string // local, s3 or azure
	DataDir     string
	Compression string // zstd or none

	S3Bucket    string
	S3Region    string
	S3Prefix    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool

	AzureContainer          string
	AzurePrefix             string
	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureUseManagedIdentity bool
	AzureEndpoint           string

	// Retry and circuit breaker settings for the remote backends.
	MaxRetries         int
	RetryDelayMS       int
	RetryMaxDelayMS    int
	CircuitMaxFailures int
	CircuitCooldown    int // seconds
}

type CatalogConfig struct {
	DBPath string // SQLite file holding the dataset catalog
}

type IngestConfig struct {
	GeolocationURL     string
	GeolocationTimeout int // seconds
	MaxConcurrency     int // buildings parsed and geolocated in parallel

	// Consecutive geolocation service failures before calls are short-circuited.
	GeolocationMaxFailures int
	GeolocationCooldown    int // seconds
}

type QueryConfig struct {
	HistorySize int
}

var validCompression = map[string]bool{"zstd": true, "none": true}

// Load reads defaults, INSIGHT_* environment variables and an optional
// insight.toml from ., /etc/insight/ or $HOME/.insight/.
func Load() (*Config, error) {
	return load(".", "/etc/insight/", "$HOME/.insight/")
}

func load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("insight")
	v.SetConfigType("toml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	maxPayloadSize, err := ParseSize(v.GetString("server.max_payload_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid server.max_payload_size: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetInt("server.read_timeout"),
			WriteTimeout:    v.GetInt("server.write_timeout"),
			IdleTimeout:     v.GetInt("server.idle_timeout"),
			ShutdownTimeout: v.GetInt("server.shutdown_timeout"),
			MaxPayloadSize:  maxPayloadSize,
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(v.GetString("storage.backend")),
			DataDir:     v.GetString("storage.data_dir"),
			Compression: strings.ToLower(v.GetString("storage.compression")),

			S3Bucket:    v.GetString("storage.s3_bucket"),
			S3Region:    v.GetString("storage.s3_region"),
			S3Prefix:    v.GetString("storage.s3_prefix"),
			S3Endpoint:  v.GetString("storage.s3_endpoint"),
			S3AccessKey: v.GetString("storage.s3_access_key"),
			S3SecretKey: v.GetString("storage.s3_secret_key"),
			S3UseSSL:    v.GetBool("storage.s3_use_ssl"),
			S3PathStyle: v.GetBool("storage.s3_path_style"),

			AzureContainer:          v.GetString("storage.azure_container"),
			AzurePrefix:             v.GetString("storage.azure_prefix"),
			AzureConnectionString:   v.GetString("storage.azure_connection_string"),
			AzureAccountName:        v.GetString("storage.azure_account_name"),
			AzureAccountKey:         v.GetString("storage.azure_account_key"),
			AzureSASToken:           v.GetString("storage.azure_sas_token"),
			AzureUseManagedIdentity: v.GetBool("storage.azure_use_managed_identity"),
			AzureEndpoint:           v.GetString("storage.azure_endpoint"),

			MaxRetries:         v.GetInt("storage.max_retries"),
			RetryDelayMS:       v.GetInt("storage.retry_delay_ms"),
			RetryMaxDelayMS:    v.GetInt("storage.retry_max_delay_ms"),
			CircuitMaxFailures: v.GetInt("storage.circuit_max_failures"),
			CircuitCooldown:    v.GetInt("storage.circuit_cooldown"),
		},
		Catalog: CatalogConfig{
			DBPath: v.GetString("catalog.db_path"),
		},
		Ingest: IngestConfig{
			GeolocationURL:     v.GetString("ingest.geolocation_url"),
			GeolocationTimeout: v.GetInt("ingest.geolocation_timeout"),
			MaxConcurrency:     v.GetInt("ingest.max_concurrency"),

			GeolocationMaxFailures: v.GetInt("ingest.geolocation_max_failures"),
			GeolocationCooldown:    v.GetInt("ingest.geolocation_cooldown"),
		},
		Query: QueryConfig{
			HistorySize: v.GetInt("query.history_size"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4321)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("server.shutdown_timeout", 30)
	// Zip uploads of a full sections archive are a few MB.
	v.SetDefault("server.max_payload_size", "10MB")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.compression", "zstd")
	v.SetDefault("storage.max_retries", 3)
	v.SetDefault("storage.retry_delay_ms", 100)
	v.SetDefault("storage.retry_max_delay_ms", 5000)
	v.SetDefault("storage.circuit_max_failures", 5)
	v.SetDefault("storage.circuit_cooldown", 30)

	v.SetDefault("catalog.db_path", "./data/insight.db")

	v.SetDefault("ingest.geolocation_url", "http://cs310.students.cs.ubc.ca:11316/api/v1/project_team269")
	v.SetDefault("ingest.geolocation_timeout", 10)
	v.SetDefault("ingest.max_concurrency", 8)
	v.SetDefault("ingest.geolocation_max_failures", 5)
	v.SetDefault("ingest.geolocation_cooldown", 30)

	v.SetDefault("query.history_size", 100)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir must not be empty")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required for the s3 backend")
		}
	case "azure":
		if c.Storage.AzureContainer == "" {
			return fmt.Errorf("storage.azure_container is required for the azure backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local, s3 or azure, got %q", c.Storage.Backend)
	}
	if c.Storage.MaxRetries < 0 {
		return fmt.Errorf("storage.max_retries must not be negative, got %d", c.Storage.MaxRetries)
	}
	if !validCompression[c.Storage.Compression] {
		return fmt.Errorf("storage.compression must be zstd or none, got %q", c.Storage.Compression)
	}
	if c.Catalog.DBPath == "" {
		return fmt.Errorf("catalog.db_path must not be empty")
	}
	if c.Ingest.MaxConcurrency <= 0 {
		return fmt.Errorf("ingest.max_concurrency must be positive, got %d", c.Ingest.MaxConcurrency)
	}
	if c.Query.HistorySize < 0 {
		return fmt.Errorf("query.history_size must not be negative")
	}
	return nil
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive). A bare number is bytes.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}
	for _, unit := range units {
		if !strings.HasSuffix(sizeStr, unit.suffix) {
			continue
		}
		numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))
		var num float64
		var trailing string
		n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
		if n == 0 {
			return 0, fmt.Errorf("invalid size number: %s", numStr)
		}
		if trailing != "" {
			return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
		}
		if num < 0 {
			return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
		}
		return int64(num * float64(unit.multiplier)), nil
	}

	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
