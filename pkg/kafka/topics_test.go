package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockAdmin struct {
	mock.Mock
}

func (m *mockAdmin) DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error) {
	args := m.Called(topics)
	metas, _ := args.Get(0).([]*sarama.TopicMetadata)
	return metas, args.Error(1)
}

func (m *mockAdmin) CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error {
	return m.Called(topic, detail, validateOnly).Error(0)
}

func unknownTopic(name string) []*sarama.TopicMetadata {
	return []*sarama.TopicMetadata{{Name: name, Err: sarama.ErrUnknownTopicOrPartition}}
}

func existingTopic(name string) []*sarama.TopicMetadata {
	return []*sarama.TopicMetadata{{Name: name, Err: sarama.ErrNoError}}
}

const changelogTopic = "chicago_transit.stations.table"

func TestEnsureCreatesOnce(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("DescribeTopics", []string{changelogTopic}).Return(unknownTopic(changelogTopic), nil).Once()
	admin.On("CreateTopic", changelogTopic, mock.Anything, false).Return(nil).Once()

	reg := NewTopicRegistry(admin)
	ctx := context.Background()

	require.NoError(t, reg.Ensure(ctx, Topic{Name: changelogTopic}))
	require.NoError(t, reg.Ensure(ctx, Topic{Name: changelogTopic}))

	assert.True(t, reg.Provisioned(changelogTopic))
	admin.AssertNumberOfCalls(t, "DescribeTopics", 1)
	admin.AssertNumberOfCalls(t, "CreateTopic", 1)
}

func TestEnsureHonoursRequestedLayout(t *testing.T) {
	compact := "compact"
	admin := &mockAdmin{}
	admin.On("DescribeTopics", mock.Anything).Return(unknownTopic("psql.stations"), nil)
	admin.On("CreateTopic", "psql.stations", mock.MatchedBy(func(d *sarama.TopicDetail) bool {
		return d.NumPartitions == 6 && d.ReplicationFactor == 3 && *d.ConfigEntries["cleanup.policy"] == compact
	}), false).Return(nil)

	reg := NewTopicRegistry(admin)
	err := reg.Ensure(context.Background(), Topic{
		Name:       "psql.stations",
		Partitions: 6,
		Replicas:   3,
		Config:     map[string]*string{"cleanup.policy": &compact},
	})
	require.NoError(t, err)
	admin.AssertExpectations(t)
}

func TestEnsureFillsDefaults(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("DescribeTopics", mock.Anything).Return(unknownTopic("t"), nil)
	admin.On("CreateTopic", "t", &sarama.TopicDetail{NumPartitions: 2, ReplicationFactor: 1}, false).Return(nil)

	reg := NewTopicRegistry(admin, WithTopicDefaults(2, 0))
	require.NoError(t, reg.Ensure(context.Background(), Topic{Name: "t"}))
	admin.AssertExpectations(t)
}

func TestEnsureExistingTopic(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("DescribeTopics", []string{"psql.stations"}).Return(existingTopic("psql.stations"), nil)

	reg := NewTopicRegistry(admin)
	require.NoError(t, reg.Ensure(context.Background(), Topic{Name: "psql.stations"}))

	assert.True(t, reg.Provisioned("psql.stations"))
	admin.AssertNotCalled(t, "CreateTopic", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsureAlreadyExistsIsSuccess(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("DescribeTopics", mock.Anything).Return(unknownTopic("t"), nil).Once()
	admin.On("CreateTopic", "t", mock.Anything, false).Return(sarama.ErrTopicAlreadyExists).Once()

	reg := NewTopicRegistry(admin)
	require.NoError(t, reg.Ensure(context.Background(), Topic{Name: "t"}))
	assert.True(t, reg.Provisioned("t"))
}

func TestEnsureFailFast(t *testing.T) {
	boom := errors.New("not enough brokers")
	admin := &mockAdmin{}
	admin.On("DescribeTopics", mock.Anything).Return(unknownTopic("t"), nil)
	admin.On("CreateTopic", "t", mock.Anything, false).Return(boom)

	reg := NewTopicRegistry(admin)
	err := reg.Ensure(context.Background(), Topic{Name: "t"})

	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "t", perr.Topic)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reg.Provisioned("t"))

	// not recorded, so the next call asks the broker again
	require.Error(t, reg.Ensure(context.Background(), Topic{Name: "t"}))
	admin.AssertNumberOfCalls(t, "CreateTopic", 2)
}

func TestEnsureLogAndContinue(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	admin := &mockAdmin{}
	admin.On("DescribeTopics", mock.Anything).Return(nil, errors.New("connection refused"))

	reg := NewTopicRegistry(admin,
		WithFailurePolicy(ParseFailurePolicy(ProvisioningContinue)),
		WithRegistryLogger(zap.New(core)))

	require.NoError(t, reg.Ensure(context.Background(), Topic{Name: "t"}))
	assert.False(t, reg.Provisioned("t"))

	entries := logs.FilterMessage("could not provision topic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "t", entries[0].ContextMap()["topic"])
	assert.Equal(t, "connection refused", entries[0].ContextMap()["error"])
}

func TestEnsureCancelledContext(t *testing.T) {
	admin := &mockAdmin{}
	reg := NewTopicRegistry(admin)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := reg.Ensure(ctx, Topic{Name: "t"})
	require.ErrorIs(t, err, context.Canceled)
	admin.AssertNotCalled(t, "DescribeTopics", mock.Anything)
}

func TestEnsureConcurrentSameTopic(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("DescribeTopics", mock.Anything).Return(unknownTopic("t"), nil)
	admin.On("CreateTopic", "t", mock.Anything, false).Return(nil)

	reg := NewTopicRegistry(admin)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.Ensure(context.Background(), Topic{Name: "t"}))
		}()
	}
	wg.Wait()

	admin.AssertNumberOfCalls(t, "CreateTopic", 1)
}

// gatedAdmin holds DescribeTopics until release is closed.
type gatedAdmin struct {
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once
	describes atomic.Int32
}

func (a *gatedAdmin) DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error) {
	a.describes.Add(1)
	a.once.Do(func() { close(a.entered) })
	<-a.release
	return existingTopic(topics[0]), nil
}

func (a *gatedAdmin) CreateTopic(string, *sarama.TopicDetail, bool) error {
	return nil
}

func TestEnsureCancelledCallerDoesNotFailOthers(t *testing.T) {
	admin := &gatedAdmin{entered: make(chan struct{}), release: make(chan struct{})}
	reg := NewTopicRegistry(admin)

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- reg.Ensure(first, Topic{Name: "t"}) }()
	<-admin.entered

	secondErr := make(chan error, 1)
	go func() { secondErr <- reg.Ensure(context.Background(), Topic{Name: "t"}) }()

	cancelFirst()
	select {
	case err := <-firstErr:
		var perr *ProvisionError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared call")
	}

	close(admin.release)
	select {
	case err := <-secondErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.True(t, reg.Provisioned("t"))
	assert.Equal(t, int32(1), admin.describes.Load())
}

func TestEnsureAll(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("DescribeTopics", []string{"a"}).Return(existingTopic("a"), nil)
	admin.On("DescribeTopics", []string{"b"}).Return(unknownTopic("b"), nil)
	admin.On("CreateTopic", "b", mock.Anything, false).Return(nil)

	reg := NewTopicRegistry(admin)
	require.NoError(t, reg.EnsureAll(context.Background(), Topic{Name: "a"}, Topic{Name: "b"}))
	assert.True(t, reg.Provisioned("a"))
	assert.True(t, reg.Provisioned("b"))
}

func TestParseFailurePolicy(t *testing.T) {
	assert.Equal(t, FailFast, ParseFailurePolicy(""))
	assert.Equal(t, FailFast, ParseFailurePolicy(ProvisioningFailFast))
	assert.Equal(t, LogAndContinue, ParseFailurePolicy(ProvisioningContinue))
}
