package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/IBM/sarama"
)

// Config represents Kafka-specific configuration
type Config struct {
	Brokers  []string `mapstructure:"brokers" json:"brokers"`
	Version  string   `mapstructure:"version" json:"version,omitempty"`
	ClientID string   `mapstructure:"clientID" json:"clientID,omitempty"`
	SASL     *SASL    `mapstructure:"sasl" json:"sasl,omitempty"`
	TLS      TLS      `mapstructure:"tls" json:"tls"`
	// Partitions and Replicas fill in topic descriptors that leave them unset.
	Partitions int32 `mapstructure:"partitions" json:"partitions,omitempty"`
	Replicas   int16 `mapstructure:"replicas" json:"replicas,omitempty"`
	// Provisioning selects what happens when a topic cannot be created: "failfast" or "continue".
	Provisioning string `mapstructure:"provisioning" json:"provisioning,omitempty"`
}

// SASL represents SASL authentication configuration
type SASL struct {
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Algorithm string `mapstructure:"algorithm"`
	Enable    bool   `mapstructure:"enable"`
}

// TLS represents TLS configuration
type TLS struct {
	CertFile   string `mapstructure:"certFile"`
	KeyFile    string `mapstructure:"keyFile"`
	CAFile     string `mapstructure:"caFile"`
	Enable     bool   `mapstructure:"enable"`
	SkipVerify bool   `mapstructure:"skipVerify"`
}

const (
	DefaultVersion  = "2.1.1"
	DefaultClientID = "stations-stream"
)

// DefaultConfig returns a configuration for a single local broker.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Version:      DefaultVersion,
		ClientID:     DefaultClientID,
		Partitions:   1,
		Replicas:     1,
		Provisioning: ProvisioningFailFast,
	}
}

// ToSaramaConfig converts the Config to a sarama.Config
func (c *Config) ToSaramaConfig() (*sarama.Config, error) {
	conf := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(orDefault(c.Version, DefaultVersion))
	if err != nil {
		return nil, fmt.Errorf("error parsing Kafka version: %w", err)
	}
	conf.Version = version
	conf.ClientID = orDefault(c.ClientID, DefaultClientID)

	if c.SASL != nil && c.SASL.Enable {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true

		switch c.SASL.Algorithm {
		case "sha512":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "sha256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "plain", "":
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, fmt.Errorf("invalid SASL algorithm: %s", c.SASL.Algorithm)
		}
	}

	if c.TLS.Enable {
		tlsConfig, err := createTLSConfiguration(c.TLS)
		if err != nil {
			return nil, err
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}

	// Every send is acknowledged by all in-sync replicas and reported back,
	// success or failure; Producer relies on both channels.
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	conf.Producer.Retry.Max = 1

	// Group errors are delivered on ConsumerGroup.Errors; the stream processor
	// drains them.
	conf.Consumer.Return.Errors = true
	conf.Consumer.Offsets.Initial = sarama.OffsetOldest
	conf.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}

	return conf, nil
}

func createTLSConfiguration(tlsCfg TLS) (*tls.Config, error) {
	t := &tls.Config{
		InsecureSkipVerify: tlsCfg.SkipVerify,
	}

	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		t.Certificates = []tls.Certificate{cert}
	}

	if tlsCfg.CAFile != "" {
		caCert, err := os.ReadFile(tlsCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(caCert)
		t.RootCAs = caCertPool
	}

	return t, nil
}

// GetBrokers returns the list of Kafka brokers
func (c *Config) GetBrokers() []string {
	if len(c.Brokers) == 0 {
		return []string{"localhost:9092"}
	}
	return c.Brokers
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
