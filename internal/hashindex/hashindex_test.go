package hashindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanIndexesTreeAndExtraDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	extra := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), "hashes.json")

	writeFile(t, filepath.Join(root, "set1", "a.osu"), "beatmap a")
	writeFile(t, filepath.Join(root, "set2", "b.osu"), "beatmap b")
	writeFile(t, filepath.Join(root, "set2", "audio.mp3"), "not a beatmap")
	writeFile(t, filepath.Join(extra, "c.osu"), "beatmap c")

	ix := New(root, cachePath)
	require.NoError(t, ix.Scan(context.Background(), extra, ".osu", 4, nil))

	assert.Equal(t, 3, ix.Len())

	sum, err := HashFile(filepath.Join(root, "set1", "a.osu"))
	require.NoError(t, err)
	path, ok := ix.Lookup(sum)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "set1", "a.osu"), path)
}

func TestHashCacheIdempotence(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cachePath := filepath.Join(t.TempDir(), "hashes.json")
	mapPath := filepath.Join(root, "set", "m.osu")
	writeFile(t, mapPath, "original content")

	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(mapPath, mtime, mtime))

	ix := New(root, cachePath)
	require.NoError(t, ix.Scan(context.Background(), "", ".osu", 2, nil))
	require.NoError(t, ix.Save())

	originalSum, err := HashFile(mapPath)
	require.NoError(t, err)

	// Change the bytes but keep the modification time: the cache entry
	// must win, proving the file was not rehashed.
	writeFile(t, mapPath, "changed content")
	require.NoError(t, os.Chtimes(mapPath, mtime, mtime))

	ix2 := New(root, cachePath)
	require.NoError(t, ix2.Scan(context.Background(), "", ".osu", 2, nil))
	_, ok := ix2.Lookup(originalSum)
	assert.True(t, ok, "unchanged mtime should reuse the cached hash")

	// Touching the modification time forces a recompute.
	later := mtime.Add(time.Hour)
	require.NoError(t, os.Chtimes(mapPath, later, later))

	ix3 := New(root, cachePath)
	require.NoError(t, ix3.Scan(context.Background(), "", ".osu", 2, nil))
	_, staleHit := ix3.Lookup(originalSum)
	assert.False(t, staleHit)

	newSum, err := HashFile(mapPath)
	require.NoError(t, err)
	_, freshHit := ix3.Lookup(newSum)
	assert.True(t, freshHit)
}

func TestLegacyAbsolutePathKeyMigration(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cacheDir := t.TempDir()
	cachePath := filepath.Join(cacheDir, "hashes.json")
	mapPath := filepath.Join(root, "set", "m.osu")
	writeFile(t, mapPath, "beatmap content")

	mtime := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, os.Chtimes(mapPath, mtime, mtime))

	sum, err := HashFile(mapPath)
	require.NoError(t, err)

	// Seed a legacy cache keyed by absolute path.
	legacy := New(root, cachePath)
	legacy.store.Set(mapPath, Entry{Mtime: mtime.Unix(), Checksum: sum})
	require.NoError(t, legacy.store.Save())

	ix := New(root, cachePath)
	require.NoError(t, ix.Scan(context.Background(), "", ".osu", 1, nil))
	require.NoError(t, ix.Save())

	reloaded := New(root, cachePath)
	_, absKeyPresent := reloaded.store.Get(mapPath)
	assert.False(t, absKeyPresent, "legacy absolute key should be migrated away")

	e, relKeyPresent := reloaded.store.Get("set/m.osu")
	require.True(t, relKeyPresent)
	assert.Equal(t, sum, e.Checksum)
}

func TestAddRegistersDownloadedFile(t *testing.T) {
	t.Parallel()

	ix := New(t.TempDir(), filepath.Join(t.TempDir(), "hashes.json"))
	ix.Add("abc123", "/maps/123.osu")

	path, ok := ix.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, "/maps/123.osu", path)
}
