package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each room's history in a sorted set scored by the
// record date in unix milliseconds. Members are prefixed with a per-room
// sequence number so records sharing a millisecond keep append order.
type RedisStore struct {
	client *redis.Client
	index  string
	limit  int
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(ctx context.Context, url, index string, limit int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if index == "" {
		index = DefaultIndex
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client, index: index, limit: replayLimit(limit)}, nil
}

// EnsureSchema has nothing to provision; it checks the server is reachable.
func (rs *RedisStore) EnsureSchema(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

func (rs *RedisStore) Append(ctx context.Context, rec Record) error {
	seq, err := rs.client.Incr(ctx, rs.seqKey(rec.Room)).Result()
	if err != nil {
		return persistenceError(err)
	}
	member, err := encodeMember(seq, rec)
	if err != nil {
		return persistenceError(err)
	}
	z := redis.Z{Score: float64(rec.Date.UnixMilli()), Member: member}
	if err := rs.client.ZAdd(ctx, rs.key(rec.Room), z).Err(); err != nil {
		return persistenceError(err)
	}
	return nil
}

func (rs *RedisStore) ReplayAll(ctx context.Context, room string) ([]Record, error) {
	members, err := rs.client.ZRange(ctx, rs.key(room), 0, int64(rs.limit-1)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(members))
	for _, m := range members {
		rec, err := decodeMember(m)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (rs *RedisStore) Close(context.Context) error {
	return rs.client.Close()
}

// Room names are client-chosen, so records and counters live under separate
// prefixes that no room name can cross.
func (rs *RedisStore) key(room string) string    { return rs.index + ":room:" + room }
func (rs *RedisStore) seqKey(room string) string { return rs.index + ":seq:" + room }

func encodeMember(seq int64, rec Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%020d|%s", seq, data), nil
}

func decodeMember(member string) (Record, error) {
	seq, payload, ok := strings.Cut(member, "|")
	if !ok {
		return Record{}, fmt.Errorf("malformed history member %q", member)
	}
	if _, err := strconv.ParseInt(seq, 10, 64); err != nil {
		return Record{}, fmt.Errorf("malformed history sequence %q: %w", seq, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
