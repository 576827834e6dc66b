package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stationstream/pkg/serde"
	"github.com/edgeflare/stationstream/pkg/station"
	"go.uber.org/zap"
)

// PartitionReader is the subset of sarama.Consumer used to read a changelog.
type PartitionReader interface {
	Partitions(topic string) ([]int32, error)
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

// OffsetSource resolves the oldest and newest offsets of a partition.
// sarama.Client satisfies it.
type OffsetSource interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

var (
	_ PartitionReader = sarama.Consumer(nil)
	_ OffsetSource    = sarama.Client(nil)
)

var ErrChangelogClosed = errors.New("changelog partition closed before its end offset")

// Rebuild replays topic from the beginning into t's store, up to the end
// offsets observed when it starts, and returns the number of entries applied.
// Records that cannot be decoded are logged and skipped.
func Rebuild(ctx context.Context, reader PartitionReader, offsets OffsetSource, topic string, de serde.Deserializer, t *Table) (int, error) {
	partitions, err := reader.Partitions(topic)
	if err != nil {
		return 0, fmt.Errorf("list partitions of %s: %w", topic, err)
	}

	var applied int
	for _, p := range partitions {
		n, err := t.replayPartition(ctx, reader, offsets, topic, p, de)
		applied += n
		if err != nil {
			return applied, err
		}
	}

	t.logger.Info("table rebuilt from changelog",
		zap.String("topic", topic),
		zap.Int("partitions", len(partitions)),
		zap.Int("applied", applied))
	return applied, nil
}

func (t *Table) replayPartition(ctx context.Context, reader PartitionReader, offsets OffsetSource, topic string, partition int32, de serde.Deserializer) (int, error) {
	oldest, err := offsets.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, fmt.Errorf("oldest offset of %s/%d: %w", topic, partition, err)
	}
	newest, err := offsets.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, fmt.Errorf("newest offset of %s/%d: %w", topic, partition, err)
	}
	if newest <= oldest {
		return 0, nil
	}

	pc, err := reader.ConsumePartition(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, fmt.Errorf("consume %s/%d: %w", topic, partition, err)
	}
	defer func() {
		if err := pc.Close(); err != nil {
			t.logger.Debug("closing partition consumer", zap.Error(err))
		}
	}()

	last := newest - 1
	errs := pc.Errors()
	var applied int
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return applied, fmt.Errorf("%s/%d: %w", topic, partition, ErrChangelogClosed)
			}
			used, err := t.replayMessage(ctx, msg, de)
			if err != nil {
				return applied, err
			}
			if used {
				applied++
			}
			if msg.Offset >= last {
				return applied, nil
			}
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return applied, fmt.Errorf("read %s/%d: %w", topic, partition, cerr.Err)
		case <-ctx.Done():
			return applied, ctx.Err()
		}
	}
}

// replayMessage applies one changelog record. Undecodable records are skipped;
// store and schema registry failures are returned.
func (t *Table) replayMessage(ctx context.Context, msg *sarama.ConsumerMessage, de serde.Deserializer) (bool, error) {
	log := t.logger.With(zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	v, err := de.Deserialize(ctx, msg.Topic, msg.Value)
	if err != nil {
		var derr *serde.DecodeError
		if !errors.As(err, &derr) {
			return false, fmt.Errorf("decode %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		log.Warn("skipping undecodable changelog record", zap.Error(err))
		return false, nil
	}
	if v == nil {
		return false, nil
	}
	ts, err := station.DecodeTransformed(v)
	if err != nil {
		log.Warn("skipping malformed changelog record", zap.Error(err))
		return false, nil
	}
	if err := t.Apply(ctx, ts); err != nil {
		return false, err
	}
	return true, nil
}
