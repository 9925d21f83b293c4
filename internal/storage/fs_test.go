package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/sentinel-core/pkg/logger"
)

func TestFSStore_RoundTrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "patterns/pat-1.json", []byte(`{"id":"pat-1"}`)))
	require.NoError(t, s.Put(ctx, "patterns/pat-2.json", []byte(`{"id":"pat-2"}`)))
	require.NoError(t, s.Put(ctx, "incidents/inc-1.json", []byte(`{"id":"inc-1"}`)))

	data, err := s.Get(ctx, "patterns/pat-1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"pat-1"}`, string(data))

	keys, err := s.List(ctx, "patterns/")
	require.NoError(t, err)
	assert.Equal(t, []string{"patterns/pat-1.json", "patterns/pat-2.json"}, keys)

	require.NoError(t, s.Delete(ctx, "patterns/pat-1.json"))
	_, err = s.Get(ctx, "patterns/pat-1.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_OverwriteIsAtomicReplace(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "detect_cache/d-1.json", []byte(`{"v":1}`)))
	require.NoError(t, s.Put(ctx, "detect_cache/d-1.json", []byte(`{"v":2}`)))

	data, err := s.Get(ctx, "detect_cache/d-1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data))

	// temp files must not leak into listings
	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"detect_cache/d-1.json"}, keys)
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../escape.json", []byte("x"))
	require.Error(t, err)
}

func TestFSStore_LockExcludes(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	release, err := s.Lock(ctx, "detect_cache/latest.json")
	require.NoError(t, err)

	// second locker must block until release
	acquired := make(chan struct{})
	go func() {
		r2, err := s.Lock(ctx, "detect_cache/latest.json")
		if err == nil {
			close(acquired)
			r2()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(100 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock never acquired after release")
	}
}

func TestFSStore_LockRespectsContext(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), logger.Nop())
	require.NoError(t, err)

	release, err := s.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPutGetJSON(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	type rec struct {
		ID string `json:"id"`
		N  int    `json:"n"`
	}

	require.NoError(t, PutJSON(ctx, s, "approvals/a-1.json", rec{ID: "a-1", N: 7}))

	var got rec
	require.NoError(t, GetJSON(ctx, s, "approvals/a-1.json", &got))
	assert.Equal(t, rec{ID: "a-1", N: 7}, got)

	err := GetJSON(ctx, s, "approvals/missing.json", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}
