// Package store defines the SignalStore collaborator contract (spec §4.3):
// append-only persistence for recordings, with range and pattern filters on
// load. Concrete backends (store/inmem, store/mongo, store/redis) implement
// Store.
//
// Grounded on the teacher's runtime/agent/runlog.Store (Append/List with
// opaque forward cursors over a per-run event sequence), generalized to the
// spec's richer Recording lifecycle (create/append/appendBatch/checkpoint/
// finalize/list/exists/delete/clear) and signal-shaped events rather than
// hook events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/flowsignal/flowsignal/signal"
)

type (
	// Meta describes a recording at creation time.
	Meta struct {
		Name         string
		Tags         []string
		ProviderType string
	}

	// RecordingInfo is the metadata view of a recording: everything but its
	// signal log, returned by List and embedded in the result of Load.
	RecordingInfo struct {
		ID           string
		Name         string
		Tags         []string
		ProviderType string
		SignalCount  int
		DurationMS   int64
		Finalized    bool
		CreatedAt    time.Time
	}

	// Recording is a fully materialized recording: its metadata plus the
	// ordered signal log and any named checkpoints.
	Recording struct {
		RecordingInfo
		Signals     []signal.Signal
		Checkpoints map[string]int
	}

	// Filter narrows List results. A zero-valued Filter matches every
	// recording.
	Filter struct {
		NamePrefix string
		Tag        string
	}

	// LoadOptions narrows LoadSignals results to a range and/or a set of
	// patterns.
	LoadOptions struct {
		FromIndex int
		ToIndex   int // 0 means "to the end"
		Patterns  []string
	}

	// Store is the append-only persistence abstraction the Recording
	// Controller depends on. Implementations must return signals from
	// LoadSignals/Load in insertion order.
	Store interface {
		// Create allocates a new recording and returns its opaque ID.
		Create(ctx context.Context, meta Meta) (string, error)
		// Append adds a single signal to the recording's log. Returns
		// ErrStoreFinalized if the recording has already been finalized.
		Append(ctx context.Context, id string, sig signal.Signal) error
		// AppendBatch adds multiple signals atomically with respect to
		// ordering (they are appended in slice order). Returns
		// ErrStoreFinalized if the recording has already been finalized.
		AppendBatch(ctx context.Context, id string, sigs []signal.Signal) error
		// Checkpoint records a named marker at the recording's current
		// length, for later reference during replay or inspection.
		Checkpoint(ctx context.Context, id string, name string) error
		// Finalize marks the recording closed with the given run duration.
		// Further Append/AppendBatch calls fail with ErrStoreFinalized.
		Finalize(ctx context.Context, id string, durationMS int64) error
		// Load returns the full recording, or nil and no error if id is
		// unknown.
		Load(ctx context.Context, id string) (*Recording, error)
		// LoadSignals returns the signal log for id, filtered per opts. id
		// must be known or ErrRecordingNotFound is returned.
		LoadSignals(ctx context.Context, id string, opts LoadOptions) ([]signal.Signal, error)
		// List returns metadata for every recording matching filter.
		List(ctx context.Context, filter Filter) ([]RecordingInfo, error)
		// Exists reports whether id is a known recording.
		Exists(ctx context.Context, id string) (bool, error)
		// Delete removes a recording. It is a no-op, returning nil, if id
		// is unknown.
		Delete(ctx context.Context, id string) error
		// Clear removes every recording from the store.
		Clear(ctx context.Context) error
	}
)

// ErrStoreFinalized is returned by Append/AppendBatch when the target
// recording has already been finalized.
var ErrStoreFinalized = errors.New("store: recording already finalized")

// ErrRecordingNotFound is returned by operations other than Load when the
// given recording ID is unknown (Load itself returns (nil, nil) instead, per
// spec §4.3).
var ErrRecordingNotFound = errors.New("store: recording not found")

// Matches reports whether info satisfies filter.
func (filter Filter) Matches(info RecordingInfo) bool {
	if filter.NamePrefix != "" && !hasPrefix(info.Name, filter.NamePrefix) {
		return false
	}
	if filter.Tag != "" {
		found := false
		for _, t := range info.Tags {
			if t == filter.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
