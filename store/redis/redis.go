// Package redis implements store.Store on top of Redis: a sorted set per
// recording (member = JSON-encoded signal, score = monotonic sequence
// number) plus a JSON-encoded metadata key and a checkpoints hash, in the
// connection-handling idiom of the
// teacher's features/runlog/mongo client and
// features/model/middleware/ratelimit.go's direct go-redis usage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/store"
)

type (
	// Options configures the Redis-backed store.
	Options struct {
		Client           *redis.Client
		KeyPrefix        string
		OperationTimeout time.Duration
	}

	// Store implements store.Store on top of Redis.
	Store struct {
		rdb       *redis.Client
		keyPrefix string
		timeout   time.Duration
	}

	metaDoc struct {
		Name         string   `json:"name"`
		Tags         []string `json:"tags"`
		ProviderType string   `json:"providerType"`
		SignalCount  int      `json:"signalCount"`
		DurationMS   int64    `json:"durationMs"`
		Finalized    bool     `json:"finalized"`
		CreatedAt    int64    `json:"createdAt"`
	}
)

const defaultPrefix = "flowsignal:recording:"

// New returns a Store backed by opts.Client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{rdb: opts.Client, keyPrefix: prefix, timeout: timeout}, nil
}

func (s *Store) metaKey(id string) string   { return s.keyPrefix + id + ":meta" }
func (s *Store) zsetKey(id string) string   { return s.keyPrefix + id + ":signals" }
func (s *Store) indexKey() string           { return s.keyPrefix + "index" }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, meta store.Meta) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := uuid.NewString()
	doc := metaDoc{Name: meta.Name, Tags: meta.Tags, ProviderType: meta.ProviderType, CreatedAt: time.Now().UTC().UnixMilli()}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.metaKey(id), payload, 0)
	pipe.SAdd(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// Append implements store.Store.
func (s *Store) Append(ctx context.Context, id string, sig signal.Signal) error {
	return s.AppendBatch(ctx, id, []signal.Signal{sig})
}

// AppendBatch implements store.Store.
func (s *Store) AppendBatch(ctx context.Context, id string, sigs []signal.Signal) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := s.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	if doc.Finalized {
		return store.ErrStoreFinalized
	}

	pipe := s.rdb.TxPipeline()
	for i, sig := range sigs {
		payload, err := json.Marshal(sig)
		if err != nil {
			return fmt.Errorf("marshal signal: %w", err)
		}
		pipe.ZAdd(ctx, s.zsetKey(id), redis.Z{Score: float64(doc.SignalCount + i), Member: payload})
	}
	doc.SignalCount += len(sigs)
	updated, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.metaKey(id), updated, 0)
	_, err = pipe.Exec(ctx)
	return err
}

// Checkpoint implements store.Store.
func (s *Store) Checkpoint(ctx context.Context, id string, name string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	count, err := s.rdb.ZCard(ctx, s.zsetKey(id)).Result()
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.keyPrefix+id+":checkpoints", name, count).Err()
}

// Finalize implements store.Store.
func (s *Store) Finalize(ctx context.Context, id string, durationMS int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc, err := s.loadMeta(ctx, id)
	if err != nil {
		return err
	}
	doc.Finalized = true
	doc.DurationMS = durationMS
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.metaKey(id), payload, 0).Err()
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, id string) (*store.Recording, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc, err := s.loadMeta(ctx, id)
	if errors.Is(err, store.ErrRecordingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sigs, err := s.LoadSignals(ctx, id, store.LoadOptions{})
	if err != nil {
		return nil, err
	}
	checkpoints, err := s.rdb.HGetAll(ctx, s.keyPrefix+id+":checkpoints").Result()
	if err != nil {
		return nil, err
	}
	cps := make(map[string]int, len(checkpoints))
	for k, v := range checkpoints {
		n, _ := strconv.Atoi(v)
		cps[k] = n
	}
	return &store.Recording{RecordingInfo: s.info(id, doc), Signals: sigs, Checkpoints: cps}, nil
}

// LoadSignals implements store.Store.
func (s *Store) LoadSignals(ctx context.Context, id string, opts store.LoadOptions) ([]signal.Signal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.loadMeta(ctx, id); err != nil {
		return nil, err
	}

	minScore := "-inf"
	if opts.FromIndex > 0 {
		minScore = strconv.Itoa(opts.FromIndex)
	}
	maxScore := "+inf"
	if opts.ToIndex > 0 {
		maxScore = strconv.Itoa(opts.ToIndex - 1)
	}
	raws, err := s.rdb.ZRangeByScore(ctx, s.zsetKey(id), &redis.ZRangeBy{Min: minScore, Max: maxScore}).Result()
	if err != nil {
		return nil, err
	}

	patterns := signal.CompileAll(opts.Patterns)
	var out []signal.Signal
	for _, raw := range raws {
		var sig signal.Signal
		if err := json.Unmarshal([]byte(raw), &sig); err != nil {
			return nil, fmt.Errorf("unmarshal signal: %w", err)
		}
		if len(patterns) > 0 && !signal.MatchesAny(sig.Name, patterns) {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, filter store.Filter) ([]store.RecordingInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	var out []store.RecordingInfo
	for _, id := range ids {
		doc, err := s.loadMeta(ctx, id)
		if errors.Is(err, store.ErrRecordingNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		info := s.info(id, doc)
		if filter.Matches(info) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.rdb.Exists(ctx, s.metaKey(id)).Result()
	return n > 0, err
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.metaKey(id), s.zsetKey(id), s.keyPrefix+id+":checkpoints")
	pipe.SRem(ctx, s.indexKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// Clear implements store.Store.
func (s *Store) Clear(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadMeta(ctx context.Context, id string) (metaDoc, error) {
	raw, err := s.rdb.Get(ctx, s.metaKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return metaDoc{}, store.ErrRecordingNotFound
	}
	if err != nil {
		return metaDoc{}, err
	}
	var doc metaDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return metaDoc{}, err
	}
	return doc, nil
}

func (s *Store) info(id string, doc metaDoc) store.RecordingInfo {
	return store.RecordingInfo{
		ID: id, Name: doc.Name, Tags: doc.Tags, ProviderType: doc.ProviderType,
		SignalCount: doc.SignalCount, DurationMS: doc.DurationMS, Finalized: doc.Finalized,
		CreatedAt: time.UnixMilli(doc.CreatedAt).UTC(),
	}
}
