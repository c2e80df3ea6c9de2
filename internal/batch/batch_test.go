package batch

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapProcessesAllItems(t *testing.T) {
	t.Parallel()

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	results := Map(context.Background(), items, 8, func(_ context.Context, n int) (int, bool) {
		return n * 2, true
	}, nil)

	require.Len(t, results, 100)
	sort.Ints(results)
	for i, r := range results {
		assert.Equal(t, i*2, r)
	}
}

func TestMapDropsFailedItems(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5, 6}
	results := Map(context.Background(), items, 3, func(_ context.Context, n int) (int, bool) {
		return n, n%2 == 0
	}, nil)

	sort.Ints(results)
	assert.Equal(t, []int{2, 4, 6}, results)
}

func TestMapBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 4
	var active, peak atomic.Int32

	items := make([]int, 64)
	Map(context.Background(), items, workers, func(_ context.Context, n int) (int, bool) {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		defer active.Add(-1)
		return n, true
	}, nil)

	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestMapProgressThrottled(t *testing.T) {
	t.Parallel()

	items := make([]int, 200)
	var calls []int
	Map(context.Background(), items, 1, func(_ context.Context, n int) (int, bool) {
		return n, true
	}, func(done, total int) {
		assert.Equal(t, 200, total)
		calls = append(calls, done)
	})

	// 5% steps over 200 items gives about 20 reports, plus completion.
	require.NotEmpty(t, calls)
	assert.LessOrEqual(t, len(calls), 25)
	assert.Equal(t, 200, calls[len(calls)-1])
}

func TestMapEmptyInput(t *testing.T) {
	t.Parallel()

	reported := false
	results := Map(context.Background(), nil, 4, func(_ context.Context, n int) (int, bool) {
		return n, true
	}, func(done, total int) {
		reported = true
		assert.Zero(t, total)
	})

	assert.Nil(t, results)
	assert.True(t, reported)
}

func TestMapStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := make([]int, 50)
	var ran atomic.Int32
	Map(ctx, items, 4, func(_ context.Context, n int) (int, bool) {
		ran.Add(1)
		return n, true
	}, nil)

	assert.Zero(t, ran.Load())
}
