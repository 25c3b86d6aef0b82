package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/fabula/pkg/api"
)

// RedisCheckpointStore is a CheckpointStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>   => HASH of "<phase>|<artifactType>" => content
//	<prefix>idx:runs   => SET of all run IDs
//
// The index is always updated on Store, and ListRuns reads it directly.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
}

var _ api.CheckpointStore = (*RedisCheckpointStore)(nil)

// NewRedisCheckpointStore creates a RedisCheckpointStore.
// prefix is optional but recommended (e.g. "fabula:").
func NewRedisCheckpointStore(client *redis.Client, prefix string) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "fabula:"
	}
	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisCheckpointStore) keyRun(runID string) string {
	return s.prefix + "run:" + runID
}

func (s *RedisCheckpointStore) keyIndex() string {
	return s.prefix + "idx:runs"
}

// field packs (phase, artifactType) into one hash field. Neither part
// may contain '|': phases are a closed enum and artifact types are
// short identifiers chosen by the runner.
func field(phase api.Phase, artifactType string) string {
	return string(phase) + "|" + artifactType
}

func splitField(f string) (api.Phase, string, bool) {
	i := strings.IndexByte(f, '|')
	if i < 0 {
		return "", "", false
	}
	return api.Phase(f[:i]), f[i+1:], true
}

func (s *RedisCheckpointStore) Store(ctx context.Context, runID string, phase api.Phase, artifactType string, content []byte) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keyRun(runID), field(phase, artifactType), content)
	pipe.SAdd(ctx, s.keyIndex(), runID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisCheckpointStore) Get(ctx context.Context, runID string) (map[api.Phase]map[string][]byte, error) {
	fields, err := s.client.HGetAll(ctx, s.keyRun(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[api.Phase]map[string][]byte{}, nil
		}
		return nil, err
	}

	out := make(map[api.Phase]map[string][]byte)
	for f, content := range fields {
		phase, artifactType, ok := splitField(f)
		if !ok {
			continue
		}
		if out[phase] == nil {
			out[phase] = make(map[string][]byte)
		}
		out[phase][artifactType] = []byte(content)
	}
	return out, nil
}

func (s *RedisCheckpointStore) ListRuns(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, err
	}
	return ids, nil
}
