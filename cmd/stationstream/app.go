package stationstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stationstream/pkg/kafka"
	"github.com/edgeflare/stationstream/pkg/schemaregistry"
	"github.com/edgeflare/stationstream/pkg/serde"
	"github.com/edgeflare/stationstream/pkg/station"
	"github.com/edgeflare/stationstream/pkg/table"
	"go.uber.org/zap"
)

// app holds the broker-side pieces shared by the commands.
type app struct {
	client   *kafka.Client
	admin    sarama.ClusterAdmin
	topics   *kafka.TopicRegistry
	registry serde.Registry
}

func newApp() (*app, error) {
	client := kafka.NewClient(&cfg.Kafka, logger)
	admin, err := client.NewClusterAdmin()
	if err != nil {
		return nil, err
	}

	a := &app{
		client: client,
		admin:  admin,
		topics: kafka.NewTopicRegistry(admin,
			kafka.WithFailurePolicy(kafka.ParseFailurePolicy(cfg.Kafka.Provisioning)),
			kafka.WithTopicDefaults(cfg.Kafka.Partitions, cfg.Kafka.Replicas),
			kafka.WithRegistryLogger(logger),
		),
	}

	if cfg.Stream.Format == serde.FormatAvro {
		reg, err := schemaregistry.NewClient(cfg.SchemaRegistry, logger)
		if err != nil {
			admin.Close()
			return nil, err
		}
		a.registry = reg
	}
	return a, nil
}

func (a *app) Close() error {
	return a.admin.Close()
}

func (a *app) inboundTopic() kafka.Topic {
	return kafka.Topic{Name: cfg.Stream.InboundTopic}
}

// changelogTopic is compacted and single-partitioned so replay order is the
// order the table was written in.
func (a *app) changelogTopic() kafka.Topic {
	return kafka.Topic{
		Name:       cfg.Stream.ChangelogTopic,
		Partitions: 1,
		Replicas:   cfg.Kafka.Replicas,
		Config:     map[string]*string{"cleanup.policy": ptr("compact")},
	}
}

func (a *app) deserializer() (serde.Deserializer, error) {
	return serde.NewDeserializer(cfg.Stream.Format, a.registry)
}

// changelogProducer provisions the changelog topic and opens its producer.
func (a *app) changelogProducer(ctx context.Context) (*kafka.Producer, error) {
	t := a.changelogTopic()
	pc := kafka.ProducerConfig{
		Topic:       t.Name,
		Partitions:  t.Partitions,
		Replicas:    t.Replicas,
		TopicConfig: t.Config,
	}
	if cfg.Stream.Format == serde.FormatAvro {
		pc.KeySchema, pc.ValueSchema = station.KeySchema, station.TransformedSchema
	}
	return kafka.NewProducer(ctx, a.topics, a.client, pc,
		kafka.WithSchemaRegistry(a.registry),
		kafka.WithProducerLogger(logger))
}

// inboundProducer opens a producer on the inbound topic, for feeding test data.
func (a *app) inboundProducer(ctx context.Context) (*kafka.Producer, error) {
	pc := kafka.ProducerConfig{Topic: cfg.Stream.InboundTopic}
	if cfg.Stream.Format == serde.FormatAvro {
		pc.KeySchema, pc.ValueSchema = station.KeySchema, station.Schema
	}
	return kafka.NewProducer(ctx, a.topics, a.client, pc,
		kafka.WithSchemaRegistry(a.registry),
		kafka.WithProducerLogger(logger))
}

// rebuild replays the changelog into tbl.
func (a *app) rebuild(ctx context.Context, tbl *table.Table) (int, error) {
	de, err := a.deserializer()
	if err != nil {
		return 0, err
	}
	sc, err := a.client.NewSaramaClient()
	if err != nil {
		return 0, err
	}
	defer sc.Close()

	consumer, err := sarama.NewConsumerFromClient(sc)
	if err != nil {
		return 0, fmt.Errorf("changelog consumer: %w", err)
	}
	defer consumer.Close()

	n, err := table.Rebuild(ctx, consumer, sc, cfg.Stream.ChangelogTopic, de, tbl)
	if errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
		logger.Info("no changelog to recover from", zap.String("topic", cfg.Stream.ChangelogTopic))
		return 0, nil
	}
	return n, err
}

func ptr[T any](v T) *T {
	return &v
}
