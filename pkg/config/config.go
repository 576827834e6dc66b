package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edgeflare/stationstream/pkg/httputil/middleware"
	"github.com/edgeflare/stationstream/pkg/kafka"
	"github.com/edgeflare/stationstream/pkg/schemaregistry"
	"github.com/edgeflare/stationstream/pkg/serde"
	"github.com/edgeflare/stationstream/pkg/stream"
	"github.com/edgeflare/stationstream/pkg/table"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../pkg/config.Version=...".
var Version = "dev"

const EnvPrefix = "STATIONSTREAM"

// Config holds application-wide configuration
type Config struct {
	Kafka          kafka.Config          `mapstructure:"kafka"`
	SchemaRegistry schemaregistry.Config `mapstructure:"schemaRegistry"`
	Stream         stream.Config         `mapstructure:"stream"`
	Table          table.Config          `mapstructure:"table"`
	API            APIConfig             `mapstructure:"api"`
	Metrics        MetricsConfig         `mapstructure:"metrics"`
}

type APIConfig struct {
	Enabled    bool                   `mapstructure:"enabled"`
	ListenAddr string                 `mapstructure:"listenAddr"`
	CORS       middleware.CORSOptions `mapstructure:"cors"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is empty"))
	}
	switch c.Stream.Format {
	case serde.FormatJSON, serde.FormatAvro:
	default:
		errs = append(errs, fmt.Errorf("stream.format %q is not json or avro", c.Stream.Format))
	}
	if c.Stream.Format == serde.FormatAvro && c.SchemaRegistry.URL == "" {
		errs = append(errs, errors.New("stream.format avro needs schemaRegistry.url"))
	}
	switch c.Kafka.Provisioning {
	case kafka.ProvisioningFailFast, kafka.ProvisioningContinue:
	default:
		errs = append(errs, fmt.Errorf("kafka.provisioning %q is not failfast or continue", c.Kafka.Provisioning))
	}
	switch c.Table.Store {
	case table.StoreMemory, table.StoreRedis, table.StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("table.store %q is not memory, redis or postgres", c.Table.Store))
	}
	if c.Table.Store == table.StorePostgres && c.Table.Postgres.ConnString == "" {
		errs = append(errs, errors.New("table.store postgres needs table.postgres.connString"))
	}
	return errors.Join(errs...)
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	k := kafka.DefaultConfig()
	v.SetDefault("kafka.brokers", k.Brokers)
	v.SetDefault("kafka.version", k.Version)
	v.SetDefault("kafka.clientID", k.ClientID)
	v.SetDefault("kafka.sasl.enable", false)
	v.SetDefault("kafka.sasl.algorithm", "")
	v.SetDefault("kafka.sasl.username", "")
	v.SetDefault("kafka.sasl.password", "")
	v.SetDefault("kafka.tls.enable", false)
	v.SetDefault("kafka.tls.skipVerify", false)
	v.SetDefault("kafka.tls.caFile", "")
	v.SetDefault("kafka.tls.certFile", "")
	v.SetDefault("kafka.tls.keyFile", "")
	v.SetDefault("kafka.partitions", k.Partitions)
	v.SetDefault("kafka.replicas", k.Replicas)
	v.SetDefault("kafka.provisioning", k.Provisioning)

	sr := schemaregistry.DefaultConfig()
	v.SetDefault("schemaRegistry.url", sr.URL)
	v.SetDefault("schemaRegistry.username", "")
	v.SetDefault("schemaRegistry.password", "")
	v.SetDefault("schemaRegistry.timeout", sr.Timeout)
	v.SetDefault("schemaRegistry.maxRetries", sr.MaxRetries)
	v.SetDefault("schemaRegistry.initialBackoff", sr.InitialBackoff)
	v.SetDefault("schemaRegistry.maxBackoff", sr.MaxBackoff)

	v.SetDefault("stream.inboundTopic", stream.DefaultInboundTopic)
	v.SetDefault("stream.changelogTopic", stream.DefaultChangelogTopic)
	v.SetDefault("stream.groupID", stream.DefaultGroupID)
	v.SetDefault("stream.format", serde.FormatJSON)
	v.SetDefault("stream.recoverOnStart", true)
	v.SetDefault("stream.shutdownTimeout", stream.DefaultShutdownTimeout)

	v.SetDefault("table.store", table.StoreMemory)
	v.SetDefault("table.redis.addr", "localhost:6379")
	v.SetDefault("table.redis.password", "")
	v.SetDefault("table.redis.db", 0)
	v.SetDefault("table.redis.key", "")
	v.SetDefault("table.postgres.connString", "")
	v.SetDefault("table.postgres.schema", "")
	v.SetDefault("table.postgres.table", "")

	cors := middleware.DefaultCORSOptions()
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listenAddr", ":8080")
	v.SetDefault("api.cors.allowed_origins", cors.AllowedOrigins)
	v.SetDefault("api.cors.allowed_methods", cors.AllowedMethods)
	v.SetDefault("api.cors.allowed_headers", cors.AllowedHeaders)
	v.SetDefault("api.cors.max_age", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")
}

// Load reads config from file or environment. Keys map to variables with the
// STATIONSTREAM_ prefix, dots replaced by underscores, e.g.
// STATIONSTREAM_KAFKA_BROKERS.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.New(), cfgFile)
}

// LoadWith is Load on a caller-owned viper instance, typically one with
// command-line flags already bound.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("stationstream")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
