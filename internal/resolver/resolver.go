// Package resolver maps beatmap content hashes to remote beatmap
// identities through a three-tier cache (session memory, persisted
// negative-lookup cache, metadata store) with in-flight deduplication
// of identical remote lookups.
package resolver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/cache"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/datastore"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/osuapi"
)

var serviceLogger *slog.Logger

func init() {
	var err error
	serviceLogger, _, err = logging.NewFileLogger("logs/resolver.log", "resolver", slog.LevelDebug)
	if err != nil || serviceLogger == nil {
		logging.Warn("failed to initialize resolver file logger", "error", err)
		serviceLogger = logging.ForService("resolver")
	}
}

// Status tags a resolution outcome.
type Status int

const (
	// Resolved means a remote identity is known.
	Resolved Status = iota
	// Absent means the remote service confirmed no beatmap exists for
	// the hash.
	Absent
	// Failed means the lookup could not be completed this run.
	Failed
)

// BeatmapIdentity is the resolved identity of one beatmap difficulty.
// Fields may be partially known.
type BeatmapIdentity struct {
	BeatmapID    int64
	BeatmapSetID int64
	APIStatus    string
	Artist       string
	Title        string
	Creator      string
	Version      string
	HitObjects   int
}

// Resolution is the tagged result of one lookup.
type Resolution struct {
	Status   Status
	Identity *BeatmapIdentity
}

// NegativeEntry marks a hash confirmed absent remotely. Entries never
// expire.
type NegativeEntry struct {
	CheckedAt int64 `json:"checked_at"`
}

// RemoteLookup is the one remote operation the resolver needs.
type RemoteLookup interface {
	LookupBeatmapByChecksum(ctx context.Context, checksum string) (*osuapi.Beatmap, error)
}

// flight is one in-progress lookup shared by all concurrent callers for
// the same hash.
type flight struct {
	done         chan struct{}
	result       Resolution
	participants int
}

// Resolver owns the caches and the in-flight registry.
type Resolver struct {
	session  *gocache.Cache
	negative *cache.JSONStore[NegativeEntry]
	store    datastore.Interface
	remote   RemoteLookup

	mu       sync.Mutex
	inflight map[string]*flight
}

// New builds a resolver. negativePath locates the persisted
// negative-lookup document.
func New(store datastore.Interface, remote RemoteLookup, negativePath string) *Resolver {
	return &Resolver{
		session:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		negative: cache.NewJSONStore[NegativeEntry](negativePath),
		store:    store,
		remote:   remote,
		inflight: make(map[string]*flight),
	}
}

// SaveNegativeCache persists the negative-lookup entries.
func (r *Resolver) SaveNegativeCache() error {
	return r.negative.Save()
}

// MarkAbsentLocally records that no local beatmap file exists for the
// hash so later stages in the same run skip it without a remote call.
// It does not persist: the file may appear before the next run.
func (r *Resolver) MarkAbsentLocally(checksum string) {
	r.session.Set(checksum, Resolution{Status: Absent}, gocache.NoExpiration)
}

// Resolve looks up the identity for a content hash. Exactly one
// outbound call is in flight per distinct hash; concurrent callers for
// the same hash share the result.
func (r *Resolver) Resolve(ctx context.Context, checksum string) Resolution {
	if v, ok := r.session.Get(checksum); ok {
		return v.(Resolution)
	}

	if _, ok := r.negative.Get(checksum); ok {
		return Resolution{Status: Absent}
	}

	r.mu.Lock()
	if f, ok := r.inflight[checksum]; ok {
		f.participants++
		r.mu.Unlock()

		select {
		case <-f.done:
		case <-ctx.Done():
			r.leave(checksum, f)
			return Resolution{Status: Failed}
		}

		res := f.result
		r.leave(checksum, f)
		return res
	}

	f := &flight{done: make(chan struct{}), participants: 1}
	r.inflight[checksum] = f
	r.mu.Unlock()

	f.result = r.lookup(ctx, checksum)
	close(f.done)
	r.leave(checksum, f)

	return f.result
}

// leave decrements the participant count; the last one out removes the
// registry entry.
func (r *Resolver) leave(checksum string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.participants--
	if f.participants <= 0 && r.inflight[checksum] == f {
		delete(r.inflight, checksum)
	}
}

// lookup runs tiers three and four: the metadata store, then the
// remote service.
func (r *Resolver) lookup(ctx context.Context, checksum string) Resolution {
	rec, err := r.store.GetByChecksum(checksum)
	if err != nil {
		serviceLogger.Warn("metadata store read failed", "checksum", checksum, "error", err)
	}
	if rec != nil {
		switch rec.LookupStatus {
		case datastore.LookupFound:
			if rec.BeatmapID != 0 {
				res := Resolution{Status: Resolved, Identity: identityFromRecord(rec)}
				r.session.Set(checksum, res, gocache.NoExpiration)
				return res
			}
		case datastore.LookupNotFound:
			r.negative.Set(checksum, NegativeEntry{CheckedAt: time.Now().Unix()})
			return Resolution{Status: Absent}
		}
	}

	b, err := r.remote.LookupBeatmapByChecksum(ctx, checksum)
	switch {
	case err == nil:
		identity := identityFromBeatmap(b)
		res := Resolution{Status: Resolved, Identity: identity}
		r.session.Set(checksum, res, gocache.NoExpiration)
		if err := r.store.Upsert(recordFromIdentity(checksum, identity)); err != nil {
			serviceLogger.Warn("failed to persist resolved identity", "checksum", checksum, "error", err)
		}
		return res

	case errors.Is(err, osuapi.ErrNotFound):
		r.negative.Set(checksum, NegativeEntry{CheckedAt: time.Now().Unix()})
		if err := r.store.Upsert(&datastore.BeatmapRecord{
			MD5Hash:      checksum,
			LookupStatus: datastore.LookupNotFound,
		}); err != nil {
			serviceLogger.Warn("failed to persist negative lookup", "checksum", checksum, "error", err)
		}
		return Resolution{Status: Absent}

	default:
		serviceLogger.Warn("beatmap lookup failed", "checksum", checksum, "error", err)
		return Resolution{Status: Failed}
	}
}

func identityFromRecord(rec *datastore.BeatmapRecord) *BeatmapIdentity {
	return &BeatmapIdentity{
		BeatmapID:    rec.BeatmapID,
		BeatmapSetID: rec.BeatmapSetID,
		APIStatus:    rec.APIStatus,
		Artist:       rec.Artist,
		Title:        rec.Title,
		Creator:      rec.Creator,
		Version:      rec.Version,
		HitObjects:   rec.HitObjects,
	}
}

func identityFromBeatmap(b *osuapi.Beatmap) *BeatmapIdentity {
	id := &BeatmapIdentity{
		BeatmapID:    b.ID,
		BeatmapSetID: b.BeatmapsetID,
		APIStatus:    b.Status,
		Version:      b.Version,
		HitObjects:   b.HitObjectCount(),
	}
	if b.Beatmapset != nil {
		id.Artist = b.Beatmapset.Artist
		id.Title = b.Beatmapset.Title
		id.Creator = b.Beatmapset.Creator
	}
	return id
}

func recordFromIdentity(checksum string, id *BeatmapIdentity) *datastore.BeatmapRecord {
	return &datastore.BeatmapRecord{
		MD5Hash:      checksum,
		BeatmapID:    id.BeatmapID,
		BeatmapSetID: id.BeatmapSetID,
		LookupStatus: datastore.LookupFound,
		APIStatus:    id.APIStatus,
		Artist:       id.Artist,
		Title:        id.Title,
		Creator:      id.Creator,
		Version:      id.Version,
		HitObjects:   id.HitObjects,
	}
}
