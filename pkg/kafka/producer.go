package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stationstream/pkg/metrics"
	"github.com/edgeflare/stationstream/pkg/serde"
	"go.uber.org/zap"
)

// ProducerConfig describes one producer identity: the topic it writes to and
// how keys and values are encoded.
type ProducerConfig struct {
	Topic string
	// KeySchema and ValueSchema are Avro schemas. Empty means JSON.
	KeySchema   string
	ValueSchema string
	Partitions  int32
	Replicas    int16
	TopicConfig map[string]*string

	// KeySerializer and ValueSerializer override the schema-derived serializers.
	KeySerializer   serde.Serializer
	ValueSerializer serde.Serializer
}

// Dialer opens the async producer connection. *Client implements it.
type Dialer interface {
	NewAsyncProducer() (sarama.AsyncProducer, error)
}

var _ Dialer = (*Client)(nil)

// Promise is called exactly once with the outcome of an asynchronous send.
type Promise func(error)

// Producer publishes keyed records to one topic. It provisions the topic on
// construction and must be closed on every exit path.
type Producer struct {
	topic    string
	keySer   serde.Serializer
	valueSer serde.Serializer
	async    sarama.AsyncProducer
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	drained   sync.WaitGroup

	clockMu    sync.Mutex
	lastMillis int64
}

type producerOptions struct {
	schemaRegistry serde.Registry
	logger         *zap.Logger
	now            func() time.Time
}

// ProducerOption configures NewProducer.
type ProducerOption func(*producerOptions)

// WithSchemaRegistry sets the registry used for Avro key and value schemas.
func WithSchemaRegistry(r serde.Registry) ProducerOption {
	return func(o *producerOptions) { o.schemaRegistry = r }
}

func WithProducerLogger(logger *zap.Logger) ProducerOption {
	return func(o *producerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now for TimeMillis.
func WithClock(now func() time.Time) ProducerOption {
	return func(o *producerOptions) { o.now = now }
}

// NewProducer ensures cfg.Topic exists through registry, builds the key and
// value serializers and opens the async producer.
func NewProducer(ctx context.Context, registry *TopicRegistry, dialer Dialer, cfg ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	o := producerOptions{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if (cfg.KeySchema != "" || cfg.ValueSchema != "") && o.schemaRegistry == nil &&
		(cfg.KeySerializer == nil || cfg.ValueSerializer == nil) {
		return nil, ErrNoRegistry
	}

	err := registry.Ensure(ctx, Topic{
		Name:       cfg.Topic,
		Partitions: cfg.Partitions,
		Replicas:   cfg.Replicas,
		Config:     cfg.TopicConfig,
	})
	if err != nil {
		return nil, err
	}

	keySer, err := serializerFor(ctx, cfg.KeySerializer, o.schemaRegistry, cfg.Topic+"-key", cfg.KeySchema)
	if err != nil {
		return nil, err
	}
	valueSer, err := serializerFor(ctx, cfg.ValueSerializer, o.schemaRegistry, cfg.Topic+"-value", cfg.ValueSchema)
	if err != nil {
		return nil, err
	}

	async, err := dialer.NewAsyncProducer()
	if err != nil {
		return nil, err
	}

	p := &Producer{
		topic:    cfg.Topic,
		keySer:   keySer,
		valueSer: valueSer,
		async:    async,
		logger:   o.logger.With(zap.String("topic", cfg.Topic)),
		now:      o.now,
	}
	p.drain()

	p.logger.Info("producer ready")
	return p, nil
}

func serializerFor(ctx context.Context, override serde.Serializer, registry serde.Registry, subject, schema string) (serde.Serializer, error) {
	if override != nil {
		return override, nil
	}
	ser, err := serde.NewSerializer(ctx, registry, subject, schema)
	if err != nil {
		return nil, fmt.Errorf("serializer for %s: %w", subject, err)
	}
	return ser, nil
}

// drain resolves promises from the success and error channels until the
// async producer closes them.
func (p *Producer) drain() {
	p.drained.Add(2)
	go func() {
		defer p.drained.Done()
		for msg := range p.async.Successes() {
			resolve(msg, nil)
		}
	}()
	go func() {
		defer p.drained.Done()
		for perr := range p.async.Errors() {
			metrics.PublishErrors.WithLabelValues(p.topic).Inc()
			p.logger.Warn("publish failed", zap.Error(perr.Err))
			resolve(perr.Msg, &PublishError{Topic: p.topic, Err: perr.Err})
		}
	}()
}

func resolve(msg *sarama.ProducerMessage, err error) {
	if msg == nil {
		return
	}
	if promise, ok := msg.Metadata.(Promise); ok && promise != nil {
		promise(err)
	}
}

// Topic returns the topic this producer writes to.
func (p *Producer) Topic() string {
	return p.topic
}

// Publish sends key and value and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, key, value any) error {
	done := make(chan error, 1)
	p.send(ctx, key, value, func(err error) { done <- err })

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &PublishError{Topic: p.topic, Err: ctx.Err()}
	}
}

// PublishAsync sends key and value without waiting. promise, when not nil,
// receives the outcome; a nil error means the broker acknowledged the record.
func (p *Producer) PublishAsync(key, value any, promise Promise) {
	if promise == nil {
		promise = func(error) {}
	}
	p.send(context.Background(), key, value, promise)
}

func (p *Producer) send(ctx context.Context, key, value any, promise Promise) {
	msg, err := p.message(key, value)
	if err != nil {
		promise(&PublishError{Topic: p.topic, Err: err})
		return
	}
	msg.Metadata = promise

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		promise(&PublishError{Topic: p.topic, Err: ErrProducerClosed})
		return
	}

	select {
	case p.async.Input() <- msg:
	case <-ctx.Done():
		promise(&PublishError{Topic: p.topic, Err: ctx.Err()})
	}
}

func (p *Producer) message(key, value any) (*sarama.ProducerMessage, error) {
	msg := &sarama.ProducerMessage{Topic: p.topic}

	if key != nil {
		k, err := p.keySer.Serialize(p.topic, key)
		if err != nil {
			return nil, fmt.Errorf("serialize key: %w", err)
		}
		msg.Key = sarama.ByteEncoder(k)
	}
	if value != nil {
		v, err := p.valueSer.Serialize(p.topic, value)
		if err != nil {
			return nil, fmt.Errorf("serialize value: %w", err)
		}
		msg.Value = sarama.ByteEncoder(v)
	}
	return msg, nil
}

// Close flushes outstanding sends, waits for every acknowledgement and
// releases the connection. Calling Close more than once is safe.
func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.async.AsyncClose()
		p.drained.Wait()
		p.logger.Info("producer closed")
	})
	return nil
}

// TimeMillis returns the wall clock in Unix milliseconds for use as an event
// key. Values never decrease for one producer, even if the clock steps back.
func (p *Producer) TimeMillis() int64 {
	now := p.now().UnixMilli()

	p.clockMu.Lock()
	defer p.clockMu.Unlock()
	if now < p.lastMillis {
		now = p.lastMillis
	}
	p.lastMillis = now
	return now
}
