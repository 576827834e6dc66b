package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/edgeflare/stationstream/pkg/station"
	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the redis server and the hash holding the table.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Key is the hash name; one field per station id.
	Key string `mapstructure:"key"`
}

const defaultRedisKey = "stationstream:stations"

// RedisStore keeps the table in a redis hash, one JSON-encoded field per station.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to cfg.Addr and pings it.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(client, cfg.Key), nil
}

// NewRedisStoreFromClient wraps an existing client. An empty key uses the default hash name.
func NewRedisStoreFromClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Get(ctx context.Context, stationID int) (station.TransformedStation, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, strconv.Itoa(stationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return station.TransformedStation{}, false, nil
	}
	if err != nil {
		return station.TransformedStation{}, false, err
	}

	var ts station.TransformedStation
	if err := json.Unmarshal(raw, &ts); err != nil {
		return station.TransformedStation{}, false, fmt.Errorf("decode station %d: %w", stationID, err)
	}
	return ts, true, nil
}

// Put reports a new key when HSET adds the field.
func (s *RedisStore) Put(ctx context.Context, ts station.TransformedStation) (bool, error) {
	raw, err := json.Marshal(ts)
	if err != nil {
		return false, err
	}
	added, err := s.client.HSet(ctx, s.key, strconv.Itoa(ts.StationID), raw).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (s *RedisStore) All(ctx context.Context) ([]station.TransformedStation, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	out := make([]station.TransformedStation, 0, len(fields))
	for id, raw := range fields {
		var ts station.TransformedStation
		if err := json.Unmarshal([]byte(raw), &ts); err != nil {
			return nil, fmt.Errorf("decode station %s: %w", id, err)
		}
		out = append(out, ts)
	}
	slices.SortFunc(out, byStationID)
	return out, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	return int(n), err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
