package kafka

import (
	"cmp"
	"context"
	"errors"
	"sync"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stationstream/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Topic describes a topic to provision.
type Topic struct {
	Name       string
	Partitions int32
	Replicas   int16
	// Config carries topic-level settings such as cleanup.policy.
	Config map[string]*string
}

// ClusterAdmin is the subset of sarama.ClusterAdmin the registry needs.
type ClusterAdmin interface {
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
}

var _ ClusterAdmin = sarama.ClusterAdmin(nil)

// FailurePolicy decides what Ensure returns when a topic cannot be provisioned.
type FailurePolicy int

const (
	// FailFast returns a *ProvisionError to the caller.
	FailFast FailurePolicy = iota
	// LogAndContinue logs the failure and reports success; the topic is not
	// recorded, so the next Ensure tries again.
	LogAndContinue
)

const (
	ProvisioningFailFast = "failfast"
	ProvisioningContinue = "continue"
)

// ParseFailurePolicy maps the configuration value to a FailurePolicy.
func ParseFailurePolicy(s string) FailurePolicy {
	if s == ProvisioningContinue {
		return LogAndContinue
	}
	return FailFast
}

// TopicRegistry tracks the topics this process has made sure exist, creating
// each at most once. One registry is shared by every Producer in a process.
type TopicRegistry struct {
	admin             ClusterAdmin
	logger            *zap.Logger
	policy            FailurePolicy
	defaultPartitions int32
	defaultReplicas   int16

	mu          sync.RWMutex
	provisioned map[string]struct{}
	inflight    singleflight.Group
}

// RegistryOption configures a TopicRegistry.
type RegistryOption func(*TopicRegistry)

func WithFailurePolicy(p FailurePolicy) RegistryOption {
	return func(r *TopicRegistry) { r.policy = p }
}

func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *TopicRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTopicDefaults sets the partition and replica counts used for descriptors that leave them zero.
func WithTopicDefaults(partitions int32, replicas int16) RegistryOption {
	return func(r *TopicRegistry) {
		r.defaultPartitions = cmp.Or(partitions, r.defaultPartitions)
		r.defaultReplicas = cmp.Or(replicas, r.defaultReplicas)
	}
}

// NewTopicRegistry returns an empty registry backed by admin.
func NewTopicRegistry(admin ClusterAdmin, opts ...RegistryOption) *TopicRegistry {
	r := &TopicRegistry{
		admin:             admin,
		logger:            zap.NewNop(),
		policy:            FailFast,
		defaultPartitions: 1,
		defaultReplicas:   1,
		provisioned:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provisioned reports whether name has already been ensured by this registry.
func (r *TopicRegistry) Provisioned(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.provisioned[name]
	return ok
}

// Ensure makes sure topic exists on the broker. Topics already provisioned by
// this registry return immediately; concurrent calls for one name share a
// single describe/create round trip. The shared round trip is not tied to any
// caller's ctx: a cancelled caller stops waiting and the others still get the
// result.
func (r *TopicRegistry) Ensure(ctx context.Context, topic Topic) error {
	if r.Provisioned(topic.Name) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &ProvisionError{Topic: topic.Name, Err: err}
	}

	ch := r.inflight.DoChan(topic.Name, func() (any, error) {
		if r.Provisioned(topic.Name) {
			return nil, nil
		}
		return nil, r.provision(topic)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &ProvisionError{Topic: topic.Name, Err: ctx.Err()}
	}
}

// EnsureAll ensures every topic, stopping at the first error.
func (r *TopicRegistry) EnsureAll(ctx context.Context, topics ...Topic) error {
	for _, t := range topics {
		if err := r.Ensure(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *TopicRegistry) provision(topic Topic) error {
	exists, err := r.exists(topic.Name)
	if err != nil {
		return r.failed(topic, err)
	}
	if exists {
		r.record(topic.Name)
		metrics.TopicsProvisioned.WithLabelValues("existing").Inc()
		r.logger.Debug("topic already exists", zap.String("topic", topic.Name))
		return nil
	}

	detail := &sarama.TopicDetail{
		NumPartitions:     cmp.Or(topic.Partitions, r.defaultPartitions),
		ReplicationFactor: cmp.Or(topic.Replicas, r.defaultReplicas),
		ConfigEntries:     topic.Config,
	}

	err = r.admin.CreateTopic(topic.Name, detail, false)
	switch {
	case err == nil:
		r.logger.Info("topic created",
			zap.String("topic", topic.Name),
			zap.Int32("partitions", detail.NumPartitions),
			zap.Int16("replicas", detail.ReplicationFactor))
	case errors.Is(err, sarama.ErrTopicAlreadyExists):
		// created by another process between describe and create
		r.logger.Debug("topic created concurrently", zap.String("topic", topic.Name))
	default:
		return r.failed(topic, err)
	}

	r.record(topic.Name)
	metrics.TopicsProvisioned.WithLabelValues("created").Inc()
	return nil
}

func (r *TopicRegistry) exists(name string) (bool, error) {
	metas, err := r.admin.DescribeTopics([]string{name})
	if err != nil {
		return false, err
	}
	for _, m := range metas {
		if m.Name == name {
			return m.Err == sarama.ErrNoError, nil
		}
	}
	return false, nil
}

func (r *TopicRegistry) failed(topic Topic, err error) error {
	metrics.TopicsProvisioned.WithLabelValues("failed").Inc()
	r.logger.Error("could not provision topic",
		zap.String("topic", topic.Name),
		zap.Error(err))

	if r.policy == LogAndContinue {
		return nil
	}
	return &ProvisionError{Topic: topic.Name, Err: err}
}

func (r *TopicRegistry) record(name string) {
	r.mu.Lock()
	r.provisioned[name] = struct{}{}
	r.mu.Unlock()
}
