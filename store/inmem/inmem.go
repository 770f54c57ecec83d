// Package inmem implements store.Store in memory, for tests and local
// development. It is not durable.
//
// Grounded on the teacher's runtime/agent/runlog/inmem.Store: a mutex-guarded
// map keyed by opaque ID with a monotonic per-recording sequence, generalized
// to the richer Recording lifecycle spec §4.3 requires.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/store"
)

type record struct {
	info        store.RecordingInfo
	signals     []signal.Signal
	checkpoints map[string]int
}

// Store is the in-memory store.Store implementation.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

// Create implements store.Store.
func (s *Store) Create(_ context.Context, meta store.Meta) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = &record{
		info: store.RecordingInfo{
			ID:           id,
			Name:         meta.Name,
			Tags:         append([]string(nil), meta.Tags...),
			ProviderType: meta.ProviderType,
			CreatedAt:    time.Now().UTC(),
		},
		checkpoints: make(map[string]int),
	}
	return id, nil
}

// Append implements store.Store.
func (s *Store) Append(ctx context.Context, id string, sig signal.Signal) error {
	return s.AppendBatch(ctx, id, []signal.Signal{sig})
}

// AppendBatch implements store.Store.
func (s *Store) AppendBatch(_ context.Context, id string, sigs []signal.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrRecordingNotFound
	}
	if r.info.Finalized {
		return store.ErrStoreFinalized
	}
	r.signals = append(r.signals, sigs...)
	r.info.SignalCount = len(r.signals)
	return nil
}

// Checkpoint implements store.Store.
func (s *Store) Checkpoint(_ context.Context, id string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrRecordingNotFound
	}
	r.checkpoints[name] = len(r.signals)
	return nil
}

// Finalize implements store.Store.
func (s *Store) Finalize(_ context.Context, id string, durationMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrRecordingNotFound
	}
	r.info.Finalized = true
	r.info.DurationMS = durationMS
	return nil
}

// Load implements store.Store.
func (s *Store) Load(_ context.Context, id string) (*store.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return snapshot(r), nil
}

// LoadSignals implements store.Store.
func (s *Store) LoadSignals(_ context.Context, id string, opts store.LoadOptions) ([]signal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrRecordingNotFound
	}
	from := opts.FromIndex
	if from < 0 {
		from = 0
	}
	to := opts.ToIndex
	if to <= 0 || to > len(r.signals) {
		to = len(r.signals)
	}
	if from > to {
		from = to
	}
	patterns := signal.CompileAll(opts.Patterns)
	var out []signal.Signal
	for _, sig := range r.signals[from:to] {
		if len(patterns) > 0 && !signal.MatchesAny(sig.Name, patterns) {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// List implements store.Store.
func (s *Store) List(_ context.Context, filter store.Filter) ([]store.RecordingInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.RecordingInfo
	for _, r := range s.records {
		if filter.Matches(r.info) {
			out = append(out, r.info)
		}
	}
	return out, nil
}

// Exists implements store.Store.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok, nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Clear implements store.Store.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*record)
	return nil
}

func snapshot(r *record) *store.Recording {
	checkpoints := make(map[string]int, len(r.checkpoints))
	for k, v := range r.checkpoints {
		checkpoints[k] = v
	}
	return &store.Recording{
		RecordingInfo: r.info,
		Signals:       append([]signal.Signal(nil), r.signals...),
		Checkpoints:   checkpoints,
	}
}
