// Package hashindex builds the content-hash → beatmap-file mapping for
// a scan. File hashes are cached by (relative path, modification time)
// so unchanged files are never rehashed across runs.
package hashindex

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/batch"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/cache"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
)

const hashChunkSize = 4096

// Entry is one cached hash keyed by path relative to the walk root.
type Entry struct {
	Mtime    int64  `json:"mtime"`
	Checksum string `json:"checksum"`
}

// Index maps beatmap content hashes to absolute file paths.
type Index struct {
	mu    sync.RWMutex
	byMD5 map[string]string
	store *cache.JSONStore[Entry]
	root  string
}

// New creates an empty index backed by the hash cache at cachePath.
// root anchors the relative cache keys.
func New(root, cachePath string) *Index {
	return &Index{
		byMD5: make(map[string]string),
		store: cache.NewJSONStore[Entry](cachePath),
		root:  root,
	}
}

// Lookup returns the absolute path for a content hash.
func (ix *Index) Lookup(checksum string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.byMD5[checksum]
	return p, ok
}

// Add registers a file under its content hash, outside of a scan (used
// after downloading a beatmap mid-run).
func (ix *Index) Add(checksum, absPath string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byMD5[checksum] = absPath
}

// Len returns the number of indexed files.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byMD5)
}

// Save persists the hash cache.
func (ix *Index) Save() error {
	return ix.store.Save()
}

// Scan walks the root tree plus an optional flat extraDir collecting
// every file with the given extension, hashing across a bounded worker
// pool. Cached entries with a matching modification time are reused.
func (ix *Index) Scan(ctx context.Context, extraDir, ext string, workers int, progress batch.ProgressFunc) error {
	paths, err := ix.collect(extraDir, ext)
	if err != nil {
		return err
	}

	type hashed struct {
		checksum string
		absPath  string
	}

	results := batch.Map(ctx, paths, workers, func(_ context.Context, absPath string) (hashed, bool) {
		checksum, err := ix.hashWithCache(absPath)
		if err != nil {
			logging.Warn("failed to hash beatmap file", "path", absPath, "error", err)
			return hashed{}, false
		}
		return hashed{checksum: checksum, absPath: absPath}, true
	}, progress)

	ix.mu.Lock()
	for _, h := range results {
		ix.byMD5[h.checksum] = h.absPath
	}
	ix.mu.Unlock()

	return nil
}

func (ix *Index) collect(extraDir, ext string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("walk error, skipping entry", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("root", ix.root).
			Build()
	}

	if extraDir != "" {
		entries, err := os.ReadDir(extraDir)
		if err != nil {
			if !os.IsNotExist(err) {
				logging.Warn("cannot read extra beatmap dir", "path", extraDir, "error", err)
			}
			return paths, nil
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
				paths = append(paths, filepath.Join(extraDir, e.Name()))
			}
		}
	}

	return paths, nil
}

// hashWithCache returns the content hash for absPath, reusing the
// cached value when the modification time is unchanged. A legacy
// absolute-path cache key for the same file is migrated to the relative
// key on hit.
func (ix *Index) hashWithCache(absPath string) (string, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return "", err
	}
	mtime := info.ModTime().Unix()

	key := ix.cacheKey(absPath)

	if e, ok := ix.store.Get(key); ok && e.Mtime == mtime {
		logging.Trace("hash cache hit", "path", key)
		return e.Checksum, nil
	}

	if key != absPath {
		if e, ok := ix.store.Get(absPath); ok && e.Mtime == mtime {
			ix.store.Set(key, e)
			ix.store.Delete(absPath)
			return e.Checksum, nil
		}
	}

	checksum, err := HashFile(absPath)
	if err != nil {
		return "", err
	}

	ix.store.Set(key, Entry{Mtime: mtime, Checksum: checksum})
	if key != absPath {
		ix.store.Delete(absPath)
	}

	return checksum, nil
}

func (ix *Index) cacheKey(absPath string) string {
	rel, err := filepath.Rel(ix.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return absPath
	}
	return filepath.ToSlash(rel)
}

// HashFile computes the streamed MD5 digest of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
