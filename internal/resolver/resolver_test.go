package resolver

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/datastore"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/osuapi"
)

// fakeRemote is a scripted RemoteLookup that counts its calls.
type fakeRemote struct {
	calls   atomic.Int32
	delay   time.Duration
	beatmap *osuapi.Beatmap
	err     error
}

func (f *fakeRemote) LookupBeatmapByChecksum(ctx context.Context, checksum string) (*osuapi.Beatmap, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.beatmap, nil
}

func notFoundErr() error {
	return errors.New(osuapi.ErrNotFound).Category(errors.CategoryNotFound).Build()
}

func newTestResolver(t *testing.T, remote RemoteLookup) (*Resolver, *datastore.SQLiteStore) {
	t.Helper()
	store, err := datastore.New(filepath.Join(t.TempDir(), "beatmaps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := New(store, remote, filepath.Join(t.TempDir(), "negative.json"))
	return r, store
}

func rankedBeatmap() *osuapi.Beatmap {
	return &osuapi.Beatmap{
		ID:           42,
		BeatmapsetID: 7,
		Status:       "ranked",
		Version:      "Insane",
		CountCircles: 100,
		Beatmapset:   &osuapi.Beatmapset{Artist: "Artist", Title: "Title", Creator: "Mapper"},
	}
}

func TestResolveRemoteSuccess(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{beatmap: rankedBeatmap()}
	r, store := newTestResolver(t, remote)

	res := r.Resolve(context.Background(), "abc")
	require.Equal(t, Resolved, res.Status)
	require.NotNil(t, res.Identity)
	assert.Equal(t, int64(42), res.Identity.BeatmapID)
	assert.Equal(t, "Artist", res.Identity.Artist)

	// Session cache absorbs the second call.
	res2 := r.Resolve(context.Background(), "abc")
	assert.Equal(t, Resolved, res2.Status)
	assert.Equal(t, int32(1), remote.calls.Load())

	// The identity was persisted.
	rec, err := store.GetByChecksum("abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, datastore.LookupFound, rec.LookupStatus)
	assert.Equal(t, int64(42), rec.BeatmapID)
}

func TestResolveNotFoundRecordsNegative(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{err: notFoundErr()}
	r, store := newTestResolver(t, remote)

	res := r.Resolve(context.Background(), "ghost")
	assert.Equal(t, Absent, res.Status)
	assert.Nil(t, res.Identity)

	// Second resolve hits the negative cache, not the remote.
	res2 := r.Resolve(context.Background(), "ghost")
	assert.Equal(t, Absent, res2.Status)
	assert.Equal(t, int32(1), remote.calls.Load())

	rec, err := store.GetByChecksum("ghost")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, datastore.LookupNotFound, rec.LookupStatus)
}

func TestResolveTransientFailure(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{err: errors.NewStd("connection refused")}
	r, _ := newTestResolver(t, remote)

	res := r.Resolve(context.Background(), "flaky")
	assert.Equal(t, Failed, res.Status)

	// Failures are not cached; a later resolve tries again.
	r.Resolve(context.Background(), "flaky")
	assert.Equal(t, int32(2), remote.calls.Load())
}

func TestResolveUsesDatastoreBeforeRemote(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{beatmap: rankedBeatmap()}
	r, store := newTestResolver(t, remote)

	require.NoError(t, store.Upsert(&datastore.BeatmapRecord{
		MD5Hash:      "stored",
		BeatmapID:    99,
		LookupStatus: datastore.LookupFound,
		Artist:       "Stored Artist",
	}))

	res := r.Resolve(context.Background(), "stored")
	require.Equal(t, Resolved, res.Status)
	assert.Equal(t, int64(99), res.Identity.BeatmapID)
	assert.Equal(t, "Stored Artist", res.Identity.Artist)
	assert.Zero(t, remote.calls.Load())
}

func TestResolveDecidedNotFoundInDatastore(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{beatmap: rankedBeatmap()}
	r, store := newTestResolver(t, remote)

	require.NoError(t, store.Upsert(&datastore.BeatmapRecord{
		MD5Hash:      "known-absent",
		LookupStatus: datastore.LookupNotFound,
	}))

	res := r.Resolve(context.Background(), "known-absent")
	assert.Equal(t, Absent, res.Status)
	assert.Zero(t, remote.calls.Load())
}

func TestDedupConcurrentResolves(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{beatmap: rankedBeatmap(), delay: 50 * time.Millisecond}
	r, _ := newTestResolver(t, remote)

	const n = 32
	results := make([]Resolution, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "shared")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), remote.calls.Load(), "exactly one outbound call")
	for i := 0; i < n; i++ {
		require.Equal(t, Resolved, results[i].Status)
		assert.Same(t, results[0].Identity, results[i].Identity, "all callers share the identical result")
	}

	// Registry entry is gone once the last participant leaves.
	r.mu.Lock()
	assert.Empty(t, r.inflight)
	r.mu.Unlock()
}

func TestMarkAbsentLocally(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{beatmap: rankedBeatmap()}
	r, _ := newTestResolver(t, remote)

	r.MarkAbsentLocally("no-local-file")
	res := r.Resolve(context.Background(), "no-local-file")
	assert.Equal(t, Absent, res.Status)
	assert.Zero(t, remote.calls.Load())
}

func TestNegativeCachePersists(t *testing.T) {
	t.Parallel()

	negPath := filepath.Join(t.TempDir(), "negative.json")
	store, err := datastore.New(filepath.Join(t.TempDir(), "beatmaps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	remote := &fakeRemote{err: notFoundErr()}
	r := New(store, remote, negPath)
	r.Resolve(context.Background(), "ghost")
	require.NoError(t, r.SaveNegativeCache())

	// A fresh resolver against the same file skips the remote.
	r2 := New(store, &fakeRemote{err: notFoundErr()}, negPath)
	res := r2.Resolve(context.Background(), "ghost")
	assert.Equal(t, Absent, res.Status)
	assert.Equal(t, int32(1), remote.calls.Load())
}
