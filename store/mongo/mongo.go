// Package mongo implements store.Store on top of MongoDB.
//
// Grounded file-for-file on the teacher's
// features/runlog/mongo/clients/mongo/client.go: one document per recording
// (metadata) plus one document per signal, read back in order of a
// per-recording sequence number ("seq", indexed with the recording ID), and
// goa.design/clue/health.Pinger for liveness checks.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/store"
)

type (
	// Options configures the Mongo-backed store.
	Options struct {
		Client           *mongodriver.Client
		Database         string
		RecordingsColl   string
		SignalsColl      string
		OperationTimeout time.Duration
	}

	// Store implements store.Store on top of MongoDB. It also implements
	// goa.design/clue/health.Pinger so it can be wired into a health check
	// registry alongside other backends.
	Store struct {
		mongo      *mongodriver.Client
		recordings *mongodriver.Collection
		signals    *mongodriver.Collection
		timeout    time.Duration
	}

	recordingDoc struct {
		ID           string            `bson:"_id"`
		Name         string            `bson:"name"`
		Tags         []string          `bson:"tags"`
		ProviderType string            `bson:"provider_type"`
		SignalCount  int               `bson:"signal_count"`
		DurationMS   int64             `bson:"duration_ms"`
		Finalized    bool              `bson:"finalized"`
		Checkpoints  map[string]int    `bson:"checkpoints"`
		CreatedAt    time.Time         `bson:"created_at"`
	}

	signalDoc struct {
		ID          bson.ObjectID `bson:"_id,omitempty"`
		RecordingID string        `bson:"recording_id"`
		Seq         int           `bson:"seq"`
		SignalID    string        `bson:"signal_id"`
		Name        string        `bson:"name"`
		Payload     bson.Raw      `bson:"payload"`
		Timestamp   time.Time     `bson:"timestamp"`
		Source      sourceDoc     `bson:"source"`
	}

	sourceDoc struct {
		Agent    string `bson:"agent,omitempty"`
		Provider string `bson:"provider,omitempty"`
		Reducer  string `bson:"reducer,omitempty"`
		Parent   string `bson:"parent,omitempty"`
	}
)

const (
	defaultRecordingsColl = "flowsignal_recordings"
	defaultSignalsColl    = "flowsignal_signals"
	defaultTimeout        = 5 * time.Second
	clientName            = "store-mongo"
)

// New returns a Store backed by the provided MongoDB client.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	recColl := opts.RecordingsColl
	if recColl == "" {
		recColl = defaultRecordingsColl
	}
	sigColl := opts.SignalsColl
	if sigColl == "" {
		sigColl = defaultSignalsColl
	}
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:      opts.Client,
		recordings: db.Collection(recColl),
		signals:    db.Collection(sigColl),
		timeout:    timeout,
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements goa.design/clue/health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements goa.design/clue/health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.mongo.Ping(ctx, readpref.Primary())
}

var _ health.Pinger = (*Store)(nil)

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.signals.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "recording_id", Value: 1}, {Key: "seq", Value: 1}},
	})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, meta store.Meta) (string, error) {
	id := bson.NewObjectID().Hex()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.recordings.InsertOne(ctx, recordingDoc{
		ID:           id,
		Name:         meta.Name,
		Tags:         meta.Tags,
		ProviderType: meta.ProviderType,
		Checkpoints:  map[string]int{},
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
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

	var rec recordingDoc
	if err := s.recordings.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return store.ErrRecordingNotFound
		}
		return err
	}
	if rec.Finalized {
		return store.ErrStoreFinalized
	}

	docs := make([]any, len(sigs))
	for i, sig := range sigs {
		payload, err := bson.Marshal(sig.Payload)
		if err != nil {
			return fmt.Errorf("marshal signal payload: %w", err)
		}
		docs[i] = signalDoc{
			RecordingID: id,
			Seq:         rec.SignalCount + i,
			SignalID:    sig.ID,
			Name:        sig.Name,
			Payload:     payload,
			Timestamp:   sig.Timestamp,
			Source: sourceDoc{
				Agent: sig.Source.Agent, Provider: sig.Source.Provider,
				Reducer: sig.Source.Reducer, Parent: sig.Source.Parent,
			},
		}
	}
	if _, err := s.signals.InsertMany(ctx, docs); err != nil {
		return err
	}
	_, err := s.recordings.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$inc": bson.M{"signal_count": len(sigs)}})
	return err
}

// Checkpoint implements store.Store.
func (s *Store) Checkpoint(ctx context.Context, id string, name string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var rec recordingDoc
	if err := s.recordings.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return store.ErrRecordingNotFound
		}
		return err
	}
	_, err := s.recordings.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"checkpoints." + name: rec.SignalCount}})
	return err
}

// Finalize implements store.Store.
func (s *Store) Finalize(ctx context.Context, id string, durationMS int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.recordings.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"finalized": true, "duration_ms": durationMS}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrRecordingNotFound
	}
	return nil
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, id string) (*store.Recording, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var rec recordingDoc
	if err := s.recordings.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	sigs, err := s.LoadSignals(ctx, id, store.LoadOptions{})
	if err != nil {
		return nil, err
	}
	return &store.Recording{
		RecordingInfo: recordingInfo(rec),
		Signals:       sigs,
		Checkpoints:   rec.Checkpoints,
	}, nil
}

// LoadSignals implements store.Store.
func (s *Store) LoadSignals(ctx context.Context, id string, opts store.LoadOptions) ([]signal.Signal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.recordings.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrRecordingNotFound
	}

	filter := bson.M{"recording_id": id, "seq": bson.M{"$gte": opts.FromIndex}}
	if opts.ToIndex > 0 {
		filter["seq"] = bson.M{"$gte": opts.FromIndex, "$lt": opts.ToIndex}
	}
	cur, err := s.signals.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	patterns := signal.CompileAll(opts.Patterns)
	var out []signal.Signal
	for cur.Next(ctx) {
		var doc signalDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		sig, err := fromDoc(doc)
		if err != nil {
			return nil, err
		}
		if len(patterns) > 0 && !signal.MatchesAny(sig.Name, patterns) {
			continue
		}
		out = append(out, sig)
	}
	return out, cur.Err()
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, filter store.Filter) ([]store.RecordingInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.recordings.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []store.RecordingInfo
	for cur.Next(ctx) {
		var rec recordingDoc
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		info := recordingInfo(rec)
		if filter.Matches(info) {
			out = append(out, info)
		}
	}
	return out, cur.Err()
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.recordings.CountDocuments(ctx, bson.M{"_id": id})
	return n > 0, err
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.signals.DeleteMany(ctx, bson.M{"recording_id": id}); err != nil {
		return err
	}
	_, err := s.recordings.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// Clear implements store.Store.
func (s *Store) Clear(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.signals.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	_, err := s.recordings.DeleteMany(ctx, bson.M{})
	return err
}

func recordingInfo(rec recordingDoc) store.RecordingInfo {
	return store.RecordingInfo{
		ID: rec.ID, Name: rec.Name, Tags: rec.Tags, ProviderType: rec.ProviderType,
		SignalCount: rec.SignalCount, DurationMS: rec.DurationMS, Finalized: rec.Finalized,
		CreatedAt: rec.CreatedAt,
	}
}

func fromDoc(doc signalDoc) (signal.Signal, error) {
	var payload any
	if len(doc.Payload) > 0 {
		if err := bson.Unmarshal(doc.Payload, &payload); err != nil {
			return signal.Signal{}, fmt.Errorf("unmarshal signal payload: %w", err)
		}
	}
	return signal.Signal{
		ID: doc.SignalID, Name: doc.Name, Payload: payload, Timestamp: doc.Timestamp,
		Source: signal.Source{
			Agent: doc.Source.Agent, Provider: doc.Source.Provider,
			Reducer: doc.Source.Reducer, Parent: doc.Source.Parent,
		},
	}, nil
}
