package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const changeChannel = "tree:changes"

// Redis key layout:
// tree:{path}      STRING<json>   - leaf value at path
// treech:{path}    SET<segment>   - child segments under path
//
// A change anywhere publishes the changed path on tree:changes; every
// subscriber whose path is related re-reads its subtree and delivers a
// fresh snapshot. Deliveries are therefore always full values, never
// diffs, matching the Store contract.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisStore(cfg RedisConfig, log *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, log: log}, nil
}

func leafKey(path []string) string {
	return "tree:" + strings.Join(path, "/")
}

func childrenKey(path []string) string {
	return "treech:" + strings.Join(path, "/")
}

func (s *RedisStore) Write(ctx context.Context, path string, value any) error {
	segs := splitPath(path)

	// Replace semantics: clear whatever subtree is there first.
	if err := s.deleteSubtree(ctx, segs); err != nil {
		return err
	}

	leaves := map[string]any{}
	flatten(segs, value, leaves)

	pipe := s.client.TxPipeline()
	for leafPath, v := range leaves {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode value at %s: %w", leafPath, err)
		}
		leafSegs := splitPath(leafPath)
		pipe.Set(ctx, leafKey(leafSegs), data, 0)
		for i := len(leafSegs); i > 0; i-- {
			pipe.SAdd(ctx, childrenKey(leafSegs[:i-1]), leafSegs[i-1])
		}
	}
	pipe.Publish(ctx, changeChannel, strings.Join(segs, "/"))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	segs := splitPath(path)
	if err := s.deleteSubtree(ctx, segs); err != nil {
		return err
	}
	return s.client.Publish(ctx, changeChannel, strings.Join(segs, "/")).Err()
}

func (s *RedisStore) deleteSubtree(ctx context.Context, path []string) error {
	var nodes [][]string
	if err := s.collectNodes(ctx, path, &nodes); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, node := range nodes {
		pipe.Del(ctx, leafKey(node))
		pipe.Del(ctx, childrenKey(node))
	}
	if len(path) > 0 {
		pipe.SRem(ctx, childrenKey(path[:len(path)-1]), path[len(path)-1])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	// Prune ancestor child sets that went empty so absent paths read as nil.
	for i := len(path) - 1; i > 0; i-- {
		n, err := s.client.SCard(ctx, childrenKey(path[:i])).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			break
		}
		exists, err := s.client.Exists(ctx, leafKey(path[:i])).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			break
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, childrenKey(path[:i]))
		pipe.SRem(ctx, childrenKey(path[:i-1]), path[i-1])
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// collectNodes gathers every node path in the subtree, branches included,
// so the delete pipeline clears stale child index sets too.
func (s *RedisStore) collectNodes(ctx context.Context, path []string, out *[][]string) error {
	*out = append(*out, append([]string(nil), path...))
	children, err := s.client.SMembers(ctx, childrenKey(path)).Result()
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.collectNodes(ctx, append(path, child), out); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) ReadOnce(ctx context.Context, path string) (any, error) {
	return s.read(ctx, splitPath(path))
}

func (s *RedisStore) read(ctx context.Context, path []string) (any, error) {
	data, err := s.client.Get(ctx, leafKey(path)).Result()
	if err == nil {
		var v any
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode value at %s: %w", strings.Join(path, "/"), err)
		}
		return v, nil
	}
	if err != redis.Nil {
		return nil, err
	}

	children, err := s.client.SMembers(ctx, childrenKey(path)).Result()
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, nil
	}
	m := make(map[string]any, len(children))
	for _, child := range children {
		v, err := s.read(ctx, append(path, child))
		if err != nil {
			return nil, err
		}
		if v != nil {
			m[child] = v
		}
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	segs := splitPath(path)
	pubsub := s.client.Subscribe(ctx, changeChannel)
	// Wait for the subscription to be live so no change between the initial
	// read and the first notification is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan any, 8)
	initial, err := s.read(ctx, segs)
	if err != nil {
		pubsub.Close()
		return nil, err
	}
	out <- initial

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if !related(segs, splitPath(m.Payload)) {
					continue
				}
				snap, err := s.read(subCtx, segs)
				if err != nil {
					if subCtx.Err() == nil {
						s.log.Warn("re-read after change failed",
							zap.String("path", path), zap.Error(err))
					}
					continue
				}
				select {
				case out <- snap:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		C: out,
		close: func() {
			cancel()
			pubsub.Close()
		},
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// flatten walks a JSON-shaped value and records every leaf under its full
// path.
func flatten(path []string, value any, out map[string]any) {
	m, ok := value.(map[string]any)
	if !ok {
		out[strings.Join(path, "/")] = value
		return
	}
	for k, v := range m {
		flatten(append(path, k), v, out)
	}
}
