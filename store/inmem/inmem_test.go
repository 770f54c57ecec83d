package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsignal/flowsignal/signal"
	"github.com/flowsignal/flowsignal/store"
	"github.com/flowsignal/flowsignal/store/inmem"
)

func TestCreateAppendLoad(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	id, err := s.Create(ctx, store.Meta{Name: "run-1", Tags: []string{"demo"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sig := signal.New("workflow:start", nil, signal.Source{})
	require.NoError(t, s.Append(ctx, id, sig))

	rec, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "run-1", rec.Name)
	require.Len(t, rec.Signals, 1)
	assert.Equal(t, "workflow:start", rec.Signals[0].Name)
}

func TestLoad_UnknownIDReturnsNilNoError(t *testing.T) {
	s := inmem.New()
	rec, err := s.Load(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFinalize_RejectsFurtherAppends(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	id, _ := s.Create(ctx, store.Meta{Name: "run-1"})

	require.NoError(t, s.Finalize(ctx, id, 42))

	err := s.Append(ctx, id, signal.New("x", nil, signal.Source{}))
	assert.ErrorIs(t, err, store.ErrStoreFinalized)
}

func TestLoadSignals_RangeAndPatternFilter(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	id, _ := s.Create(ctx, store.Meta{Name: "run-1"})

	require.NoError(t, s.AppendBatch(ctx, id, []signal.Signal{
		signal.New("workflow:start", nil, signal.Source{}),
		signal.New("text:delta", nil, signal.Source{}),
		signal.New("provider:end", nil, signal.Source{}),
		signal.New("workflow:end", nil, signal.Source{}),
	}))

	all, err := s.LoadSignals(ctx, id, store.LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	providerOnly, err := s.LoadSignals(ctx, id, store.LoadOptions{Patterns: []string{"provider:**", "text:**"}})
	require.NoError(t, err)
	require.Len(t, providerOnly, 2)

	ranged, err := s.LoadSignals(ctx, id, store.LoadOptions{FromIndex: 1, ToIndex: 3})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "text:delta", ranged[0].Name)
}

func TestList_FiltersByTag(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	_, _ = s.Create(ctx, store.Meta{Name: "a", Tags: []string{"keep"}})
	_, _ = s.Create(ctx, store.Meta{Name: "b", Tags: []string{"drop"}})

	infos, err := s.List(ctx, store.Filter{Tag: "keep"})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].Name)
}

func TestExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	id, _ := s.Create(ctx, store.Meta{Name: "a"})

	exists, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, id))
	exists, err = s.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClear_RemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	_, _ = s.Create(ctx, store.Meta{Name: "a"})
	_, _ = s.Create(ctx, store.Meta{Name: "b"})

	require.NoError(t, s.Clear(ctx))
	infos, err := s.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, infos)
}
