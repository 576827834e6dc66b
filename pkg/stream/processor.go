// Package stream consumes inbound station change events, tags each with its
// line and upserts the result into the changelog-backed station table.
package stream

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stationstream/pkg/metrics"
	"github.com/edgeflare/stationstream/pkg/serde"
	"github.com/edgeflare/stationstream/pkg/station"
	"github.com/edgeflare/stationstream/pkg/table"
	"go.uber.org/zap"
)

const (
	DefaultInboundTopic    = "psql.stations"
	DefaultChangelogTopic  = "chicago_transit.stations.table"
	DefaultGroupID         = "stations-stream"
	DefaultShutdownTimeout = 10 * time.Second
)

// Config names what the processor consumes.
type Config struct {
	InboundTopic    string        `mapstructure:"inboundTopic"`
	ChangelogTopic  string        `mapstructure:"changelogTopic"`
	GroupID         string        `mapstructure:"groupID"`
	Format          string        `mapstructure:"format"`
	RecoverOnStart  bool          `mapstructure:"recoverOnStart"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// ConsumerGroup is the part of sarama.ConsumerGroup the processor drives.
type ConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Errors() <-chan error
	Close() error
}

// fatalGroupErrors are broker answers that sarama keeps retrying but that no
// retry will fix.
var fatalGroupErrors = []error{
	sarama.ErrTopicAuthorizationFailed,
	sarama.ErrGroupAuthorizationFailed,
	sarama.ErrClusterAuthorizationFailed,
	sarama.ErrSASLAuthenticationFailed,
}

var _ ConsumerGroup = sarama.ConsumerGroup(nil)

// Processor runs one consumer-group member over the inbound topic. Each
// claimed partition is handled strictly in order: decode, validate,
// transform, table upsert, offset commit.
type Processor struct {
	cfg      Config
	group    ConsumerGroup
	table    *table.Table
	de       serde.Deserializer
	logger   *zap.Logger
	recovery func(context.Context) error
	closers  []io.Closer
	state    atomic.Int32
	faultErr atomic.Pointer[error]

	// work carries the contexts of in-flight table writes. It survives the
	// run context and is cancelled only when shutdown times out.
	work      context.Context
	abandon   context.CancelFunc
	cancelRun context.CancelCauseFunc
	drained   chan struct{}
	mu        sync.Mutex
	err       error
}

type Option func(*Processor)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecovery runs fn after the processor enters Running and before it
// joins the group. An error faults the processor.
func WithRecovery(fn func(context.Context) error) Option {
	return func(p *Processor) { p.recovery = fn }
}

// WithReleases registers resources closed, in order, when Run returns:
// typically the changelog producer, which flushes on Close.
func WithReleases(closers ...io.Closer) Option {
	return func(p *Processor) { p.closers = append(p.closers, closers...) }
}

// New returns an Idle processor. de decodes inbound values; tbl receives
// every transformed station.
func New(cfg Config, group ConsumerGroup, tbl *table.Table, de serde.Deserializer, opts ...Option) *Processor {
	cfg.InboundTopic = cmp.Or(cfg.InboundTopic, DefaultInboundTopic)
	cfg.GroupID = cmp.Or(cfg.GroupID, DefaultGroupID)
	cfg.ShutdownTimeout = cmp.Or(cfg.ShutdownTimeout, DefaultShutdownTimeout)

	p := &Processor{
		cfg:    cfg,
		group:  group,
		table:  tbl,
		de:     de,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("topic", cfg.InboundTopic), zap.String("group", cfg.GroupID))
	p.setState(Idle)
	return p
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

// Err returns the terminal error once the processor has faulted.
func (p *Processor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
	metrics.ProcessorState.WithLabelValues(p.cfg.GroupID).Set(float64(s))
}

// Run consumes until ctx is cancelled or the processor faults. It returns
// nil after a clean stop and a *FaultedError otherwise. A processor runs once.
func (p *Processor) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return ErrNotIdle
	}
	p.setState(Running)
	p.logger.Info("stream processor running")

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	p.cancelRun = cancel
	p.work, p.abandon = context.WithCancel(context.WithoutCancel(ctx))
	defer p.abandon()

	p.drained = make(chan struct{})
	go p.drainErrors()

	if p.recovery != nil {
		if err := p.recovery(runCtx); err != nil {
			p.fault(err)
			return p.finish(nil, false)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- p.consume(runCtx)
	}()

	var (
		loopErr  error
		timedOut bool
	)
	select {
	case loopErr = <-done:
	case <-runCtx.Done():
		p.logger.Info("stream processor stopping", zap.Duration("timeout", p.cfg.ShutdownTimeout))
		timer := time.NewTimer(p.cfg.ShutdownTimeout)
		select {
		case loopErr = <-done:
		case <-timer.C:
			timedOut = true
			p.abandon()
		}
		timer.Stop()
	}

	return p.finish(loopErr, timedOut)
}

func (p *Processor) consume(ctx context.Context) error {
	topics := []string{p.cfg.InboundTopic}
	for {
		// Consume returns at every rebalance; rejoin until cancelled.
		if err := p.group.Consume(ctx, topics, p); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// finish releases resources and settles the terminal state.
func (p *Processor) finish(loopErr error, timedOut bool) error {
	var cause error
	switch {
	case p.faultErr.Load() != nil:
		cause = *p.faultErr.Load()
	case loopErr != nil:
		cause = loopErr
	case timedOut:
		cause = ErrShutdownTimeout
	}

	p.release()
	<-p.drained

	if cause == nil {
		p.setState(Stopped)
		p.logger.Info("stream processor stopped")
		return nil
	}

	err := &FaultedError{Err: cause}
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.setState(Faulted)
	p.logger.Error("stream processor faulted", zap.Error(cause))
	return err
}

func (p *Processor) release() {
	if err := p.group.Close(); err != nil {
		p.logger.Warn("closing consumer group", zap.Error(err))
	}
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			p.logger.Warn("releasing stream resource", zap.Error(err))
		}
	}
}

// drainErrors reads group errors until Close closes the channel. Fatal ones
// fault the processor; the rest are left to sarama's retry.
func (p *Processor) drainErrors() {
	defer close(p.drained)
	for err := range p.group.Errors() {
		if isFatalGroupError(err) {
			p.fault(err)
			continue
		}
		p.logger.Warn("consumer group error", zap.Error(err))
	}
}

func isFatalGroupError(err error) bool {
	for _, fatal := range fatalGroupErrors {
		if errors.Is(err, fatal) {
			return true
		}
	}
	return false
}

// fault records the first unrecoverable error and stops the run.
func (p *Processor) fault(err error) {
	if p.faultErr.CompareAndSwap(nil, &err) {
		p.cancelRun(err)
	}
}

// Setup is called by sarama at the start of each group session.
func (p *Processor) Setup(sess sarama.ConsumerGroupSession) error {
	p.logger.Info("partitions assigned", zap.Any("claims", sess.Claims()))
	return nil
}

func (p *Processor) Cleanup(sess sarama.ConsumerGroupSession) error {
	p.logger.Debug("session ended", zap.Int32("generation", sess.GenerationID()))
	return nil
}

// ConsumeClaim handles one partition until the session ends. A record that
// cannot be stored faults the whole processor.
func (p *Processor) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := p.handle(msg); err != nil {
				p.fault(err)
				return err
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// handle processes one record. Malformed records are skipped and nil is
// returned. Table write failures and deserializer errors that do not blame the
// payload, such as an unreachable schema registry, are returned and leave the
// offset unmarked.
func (p *Processor) handle(msg *sarama.ConsumerMessage) error {
	start := time.Now()

	v, err := p.de.Deserialize(p.work, msg.Topic, msg.Value)
	if err != nil {
		var derr *serde.DecodeError
		if !errors.As(err, &derr) {
			return fmt.Errorf("decode %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		p.skip(msg, err)
		return nil
	}
	s, err := station.Decode(v)
	if err != nil {
		p.skip(msg, err)
		return nil
	}
	if err := s.Validate(); err != nil {
		p.skip(msg, err)
		return nil
	}

	ts := station.Transform(s)
	if err := p.table.Put(p.work, ts); err != nil {
		return err
	}

	metrics.ProcessedEvents.WithLabelValues(msg.Topic, p.table.Name()).Inc()
	metrics.EventProcessingDuration.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
	p.logger.Debug("station upserted",
		zap.Int("station_id", ts.StationID),
		zap.String("line", ts.Line),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset))
	return nil
}

func (p *Processor) skip(msg *sarama.ConsumerMessage, err error) {
	metrics.SkippedEvents.WithLabelValues(msg.Topic).Inc()
	p.logger.Warn("skipping malformed station record",
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err))
}
