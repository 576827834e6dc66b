package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
)

// fakeGroup serves each partition's channel as one claim per session, the way
// sarama does after a rebalance, and keeps the session open until ctx ends.
type fakeGroup struct {
	topic  string
	claims map[int32]chan *sarama.ConsumerMessage
	next   map[int32]int64

	consumeErr error
	// ignoreCancel keeps Consume blocked after ctx is cancelled, until Close.
	ignoreCancel bool

	consumeCalls atomic.Int32
	errs         chan error
	closed       chan struct{}
	closeOnce    sync.Once

	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func newFakeGroup(topic string, partitions ...int32) *fakeGroup {
	g := &fakeGroup{
		topic:  topic,
		claims: make(map[int32]chan *sarama.ConsumerMessage),
		next:   make(map[int32]int64),
		errs:   make(chan error, 8),
		closed: make(chan struct{}),
	}
	for _, p := range partitions {
		g.claims[p] = make(chan *sarama.ConsumerMessage, 64)
	}
	return g
}

// send queues value on partition with the next offset.
func (g *fakeGroup) send(partition int32, values ...[]byte) {
	for _, v := range values {
		g.claims[partition] <- &sarama.ConsumerMessage{
			Topic:     g.topic,
			Partition: partition,
			Offset:    g.next[partition],
			Value:     v,
		}
		g.next[partition]++
	}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	g.consumeCalls.Add(1)
	if g.consumeErr != nil {
		return g.consumeErr
	}
	select {
	case <-g.closed:
		return sarama.ErrClosedConsumerGroup
	default:
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := &fakeSession{ctx: sessCtx, group: g}
	if err := handler.Setup(sess); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for p, ch := range g.claims {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = handler.ConsumeClaim(sess, &fakeClaim{topic: g.topic, partition: p, messages: ch})
		}()
	}

	if g.ignoreCancel {
		<-g.closed
	} else {
		<-ctx.Done()
	}
	cancel()
	wg.Wait()
	return handler.Cleanup(sess)
}

func (g *fakeGroup) Errors() <-chan error {
	return g.errs
}

func (g *fakeGroup) Close() error {
	g.closeOnce.Do(func() {
		close(g.closed)
		close(g.errs)
	})
	return nil
}

func (g *fakeGroup) isClosed() bool {
	select {
	case <-g.closed:
		return true
	default:
		return false
	}
}

func (g *fakeGroup) markedOffsets() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int64, 0, len(g.marked))
	for _, m := range g.marked {
		out = append(out, m.Offset)
	}
	return out
}

type fakeSession struct {
	ctx   context.Context
	group *fakeGroup
}

func (s *fakeSession) Claims() map[string][]int32 {
	var ps []int32
	for p := range s.group.claims {
		ps = append(ps, p)
	}
	return map[string][]int32{s.group.topic: ps}
}

func (s *fakeSession) MemberID() string                                  { return "member-1" }
func (s *fakeSession) GenerationID() int32                               { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)           {}
func (s *fakeSession) Commit()                                           {}
func (s *fakeSession) ResetOffset(string, int32, int64, string)          {}
func (s *fakeSession) Context() context.Context                          { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) { s.group.mark(msg) }

func (g *fakeGroup) mark(msg *sarama.ConsumerMessage) {
	g.mu.Lock()
	g.marked = append(g.marked, msg)
	g.mu.Unlock()
}

type fakeClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return c.partition }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return int64(len(c.messages)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// existingAdmin reports every topic as already present.
type existingAdmin struct{}

func (existingAdmin) DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error) {
	out := make([]*sarama.TopicMetadata, 0, len(topics))
	for _, t := range topics {
		out = append(out, &sarama.TopicMetadata{Name: t, Err: sarama.ErrNoError})
	}
	return out, nil
}

func (existingAdmin) CreateTopic(string, *sarama.TopicDetail, bool) error {
	return nil
}

type dialer struct {
	producer sarama.AsyncProducer
}

func (d dialer) NewAsyncProducer() (sarama.AsyncProducer, error) {
	return d.producer, nil
}

var errRegistryDown = errors.New("dial tcp 127.0.0.1:8081: connect: connection refused")

// downRegistry fails every lookup the way an unreachable schema registry does.
type downRegistry struct{}

func (downRegistry) Register(context.Context, string, string) (int, error) { return 0, errRegistryDown }
func (downRegistry) SchemaByID(context.Context, int) (string, error)       { return "", errRegistryDown }
