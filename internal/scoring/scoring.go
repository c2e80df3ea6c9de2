// Package scoring recomputes performance values for decoded replays:
// beatmap file location, external calculator invocation, identity and
// metadata merging, and the mtime-keyed score cache.
package scoring

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/beatmap"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/cache"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/replay"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/resolver"
)

// scoringContextMod is appended to the mod set before the calculator
// runs so recomputed values match the classic scoring context. It is
// stripped again for display.
const scoringContextMod = "CL"

// ScoreRecord is one fully recomputed score.
type ScoreRecord struct {
	BeatmapID    int64    `json:"beatmap_id"`
	BeatmapHash  string   `json:"beatmap_hash"`
	PlayerName   string   `json:"player_name"`
	Count300     uint16   `json:"count_300"`
	Count100     uint16   `json:"count_100"`
	Count50      uint16   `json:"count_50"`
	CountMiss    uint16   `json:"count_miss"`
	TotalScore   uint32   `json:"total_score"`
	MaxCombo     uint16   `json:"max_combo"`
	Perfect      bool     `json:"perfect"`
	Mods         []string `json:"mods"`
	Accuracy     float64  `json:"accuracy"`
	PP           float64  `json:"pp"`
	Timestamp    int64    `json:"timestamp"`
	APIStatus    string   `json:"api_status"`
	Artist       string   `json:"artist"`
	Title        string   `json:"title"`
	Creator      string   `json:"creator"`
	Version      string   `json:"version"`
	HitObjects   int      `json:"hit_objects"`
	ReplayPath   string   `json:"replay_path"`
}

// cachedScore binds a ScoreRecord to the replay file identity that
// produced it.
type cachedScore struct {
	Mtime int64       `json:"mtime"`
	Score ScoreRecord `json:"score"`
}

// Locator resolves a content hash to a local beatmap file path.
type Locator interface {
	Lookup(checksum string) (string, bool)
}

// IdentityResolver is the slice of the resolver the stage needs.
type IdentityResolver interface {
	Resolve(ctx context.Context, checksum string) resolver.Resolution
	MarkAbsentLocally(checksum string)
}

// Calculator computes a performance value for a play on a beatmap file.
type Calculator interface {
	Compute(ctx context.Context, beatmapPath string, accuracy float64, combo, misses int, mods []string) (float64, error)
}

// Stage is the recompute stage shared by the scan workers.
type Stage struct {
	locator     Locator
	resolver    IdentityResolver
	calc        Calculator
	cache       *cache.JSONStore[cachedScore]
	replaysRoot string
}

// NewStage builds a recompute stage with its score cache at cachePath.
func NewStage(locator Locator, res IdentityResolver, calc Calculator, cachePath, replaysRoot string) *Stage {
	return &Stage{
		locator:     locator,
		resolver:    res,
		calc:        calc,
		cache:       cache.NewJSONStore[cachedScore](cachePath),
		replaysRoot: replaysRoot,
	}
}

// SaveCache persists the score cache.
func (s *Stage) SaveCache() error {
	return s.cache.Save()
}

// Recompute produces the ScoreRecord for a decoded replay, reusing the
// cached value while the replay file is unchanged.
func (s *Stage) Recompute(ctx context.Context, rec *replay.Record) (*ScoreRecord, error) {
	key := s.cacheKey(rec.FilePath)

	if c, ok := s.cache.Get(key); ok && c.Mtime == rec.FileMod {
		score := c.Score
		return &score, nil
	}

	beatmapPath, ok := s.locator.Lookup(rec.BeatmapHash)
	if !ok {
		s.resolver.MarkAbsentLocally(rec.BeatmapHash)
		return nil, errors.Newf("no local beatmap file for hash %s", rec.BeatmapHash).
			Category(errors.CategoryNotFound).
			Context("replay", filepath.Base(rec.FilePath)).
			Build()
	}

	acc := replay.Accuracy(rec.Count300, rec.Count100, rec.Count50, rec.CountMiss)
	scoringMods := NormalizeForScoring(rec.Mods)

	pp, err := s.calc.Compute(ctx, beatmapPath, acc, int(rec.MaxCombo), int(rec.CountMiss), scoringMods)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCalculation).
			Context("beatmap", filepath.Base(beatmapPath)).
			Build()
	}

	score := &ScoreRecord{
		BeatmapHash: rec.BeatmapHash,
		PlayerName:  rec.PlayerName,
		Count300:    rec.Count300,
		Count100:    rec.Count100,
		Count50:     rec.Count50,
		CountMiss:   rec.CountMiss,
		TotalScore:  rec.TotalScore,
		MaxCombo:    rec.MaxCombo,
		Perfect:     rec.Perfect,
		Mods:        StripScoringContext(scoringMods),
		Accuracy:    acc,
		PP:          pp,
		Timestamp:   rec.Timestamp,
		ReplayPath:  rec.FilePath,
	}

	s.mergeIdentity(ctx, score, beatmapPath)

	s.cache.Set(key, cachedScore{Mtime: rec.FileMod, Score: *score})
	return score, nil
}

// mergeIdentity fills the beatmap id and metadata from the resolver,
// falling back to the local .osu file for anything still missing.
func (s *Stage) mergeIdentity(ctx context.Context, score *ScoreRecord, beatmapPath string) {
	res := s.resolver.Resolve(ctx, score.BeatmapHash)
	if res.Status == resolver.Resolved && res.Identity != nil {
		id := res.Identity
		score.BeatmapID = id.BeatmapID
		score.APIStatus = id.APIStatus
		score.Artist = id.Artist
		score.Title = id.Title
		score.Creator = id.Creator
		score.Version = id.Version
		score.HitObjects = id.HitObjects
	}

	if score.BeatmapID != 0 && score.Artist != "" && score.HitObjects > 0 {
		return
	}

	md, err := beatmap.ParseFile(beatmapPath)
	if err != nil {
		logging.Warn("beatmap metadata fallback failed", "path", beatmapPath, "error", err)
		return
	}
	if score.BeatmapID == 0 {
		score.BeatmapID = md.BeatmapID
	}
	if score.Artist == "" {
		score.Artist = md.Artist
	}
	if score.Title == "" {
		score.Title = md.Title
	}
	if score.Creator == "" {
		score.Creator = md.Creator
	}
	if score.Version == "" {
		score.Version = md.Version
	}
	if score.HitObjects == 0 {
		score.HitObjects = md.HitObjects
	}
}

func (s *Stage) cacheKey(absPath string) string {
	rel, err := filepath.Rel(s.replaysRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return absPath
	}
	return filepath.ToSlash(rel)
}

// NormalizeForScoring returns the mod set with the scoring-context
// marker added, deduplicated and sorted.
func NormalizeForScoring(mods []string) []string {
	seen := map[string]struct{}{scoringContextMod: {}}
	for _, m := range mods {
		seen[m] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// StripScoringContext removes the scoring-context marker for display.
func StripScoringContext(mods []string) []string {
	out := make([]string, 0, len(mods))
	for _, m := range mods {
		if m != scoringContextMod {
			out = append(out, m)
		}
	}
	return out
}
