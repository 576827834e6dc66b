package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Client builds the sarama clients the stream needs from one Config.
type Client struct {
	config *Config
	logger *zap.Logger
}

// NewClient creates a new Client
func NewClient(config *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		logger: logger,
	}
}

// NewClusterAdmin creates a new sarama.ClusterAdmin
func (c *Client) NewClusterAdmin() (sarama.ClusterAdmin, error) {
	saramaConfig, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	admin, err := sarama.NewClusterAdmin(c.config.GetBrokers(), saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster admin: %w", err)
	}

	return admin, nil
}

// NewAsyncProducer creates a new sarama.AsyncProducer
func (c *Client) NewAsyncProducer() (sarama.AsyncProducer, error) {
	saramaConfig, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	producer, err := sarama.NewAsyncProducer(c.config.GetBrokers(), saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create async producer: %w", err)
	}

	c.logger.Debug("async producer connected", zap.Strings("brokers", c.config.GetBrokers()))
	return producer, nil
}

// NewConsumerGroup creates a new sarama.ConsumerGroup
func (c *Client) NewConsumerGroup(groupID string) (sarama.ConsumerGroup, error) {
	saramaConfig, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	group, err := sarama.NewConsumerGroup(c.config.GetBrokers(), groupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", groupID, err)
	}

	c.logger.Debug("consumer group created", zap.String("group", groupID))
	return group, nil
}

// NewSaramaClient creates a sarama.Client, used for offset lookups and plain
// partition consumers (changelog replay).
func (c *Client) NewSaramaClient() (sarama.Client, error) {
	saramaConfig, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	client, err := sarama.NewClient(c.config.GetBrokers(), saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return client, nil
}
