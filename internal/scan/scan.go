// Package scan orchestrates one full reconciliation run: beatmap
// hashing, replay decoding, missing-map resolution, top-score
// precaching, performance recomputation, lost-score detection, deferred
// lookups, status validation, and result saving.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/batch"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/conf"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/datastore"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/detector"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/hashindex"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/osuapi"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/replay"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/report"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/resolver"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/scoring"
)

var serviceLogger *slog.Logger

func init() {
	var err error
	serviceLogger, _, err = logging.NewFileLogger("logs/scan.log", "scan", slog.LevelDebug)
	if err != nil || serviceLogger == nil {
		logging.Warn("failed to initialize scan file logger", "error", err)
		serviceLogger = logging.ForService("scan")
	}
}

// phase weights map each stage onto the 0-100 progress range.
var phaseWeights = []struct {
	name   string
	weight int
}{
	{"beatmap-scan", 15},
	{"replay-parse", 5},
	{"resolve-missing", 20},
	{"top-precache", 2},
	{"recompute", 40},
	{"detect", 2},
	{"deferred-lookup", 8},
	{"status-validation", 7},
	{"saving", 1},
}

// ProgressFunc reports overall scan progress as a 0-100 percentage with
// the currently running phase name.
type ProgressFunc func(percent int, phase string)

// Result is everything one run produces.
type Result struct {
	Player     *osuapi.User
	Scores     []*scoring.ScoreRecord
	Candidates []detector.Candidate
	Top        []report.TopEntry
	Potential  *report.PotentialTop
	Summary    *report.Summary
}

// Session wires the pipeline components for one run.
type Session struct {
	settings *conf.Settings
	store    *datastore.SQLiteStore
	api      *osuapi.Client
	index    *hashindex.Index
	resolver *resolver.Resolver
	stage    *scoring.Stage
	progress ProgressFunc

	phaseOffset int
	phaseIndex  int
}

// New assembles a session from loaded settings. Store initialization
// failure is fatal.
func New(settings *conf.Settings, progress ProgressFunc) (*Session, error) {
	store, err := datastore.New(settings.Output.DatabasePath)
	if err != nil {
		return nil, err
	}

	api := osuapi.New(settings.API)
	index := hashindex.New(settings.SongsDir(), filepath.Join(settings.Paths.CacheDir, "hashes.json"))
	res := resolver.New(store, api, filepath.Join(settings.Paths.CacheDir, "negative.json"))

	calc := &scoring.ExecCalculator{
		Command: settings.Performance.CalculatorCommand,
		Args:    settings.Performance.CalculatorArgs,
	}
	stage := scoring.NewStage(index, res, calc,
		filepath.Join(settings.Paths.CacheDir, "scores.json"), settings.ReplaysDir())

	if progress == nil {
		progress = func(int, string) {}
	}

	return &Session{
		settings: settings,
		store:    store,
		api:      api,
		index:    index,
		resolver: res,
		stage:    stage,
		progress: progress,
	}, nil
}

// Close releases the session's resources.
func (s *Session) Close() error {
	err := s.store.Close()
	if cerr := s.api.Close(); err == nil {
		err = cerr
	}
	return err
}

// phaseProgress returns a batch progress callback mapped into the
// current phase's slice of the global range.
func (s *Session) phaseProgress() batch.ProgressFunc {
	name := phaseWeights[s.phaseIndex].name
	weight := phaseWeights[s.phaseIndex].weight
	offset := s.phaseOffset
	return func(done, total int) {
		pct := offset + weight
		if total > 0 {
			pct = offset + int(math.Round(float64(weight)*float64(done)/float64(total)))
		}
		s.progress(pct, name)
	}
}

// nextPhase advances the progress bookkeeping and logs the transition.
func (s *Session) nextPhase() {
	s.phaseOffset += phaseWeights[s.phaseIndex].weight
	s.phaseIndex++
	if s.phaseIndex < len(phaseWeights) {
		s.progress(s.phaseOffset, phaseWeights[s.phaseIndex].name)
	}
}

// Run executes the full pipeline. Only setup failures (store, player
// profile) abort the run; per-item failures are logged and dropped.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	player, err := s.api.FetchUserProfile(ctx,
		s.settings.Player.Identifier, s.settings.Player.LookupKey)
	if err != nil {
		return nil, errors.New(fmt.Errorf("target player lookup failed: %w", err)).
			Category(errors.CategoryNotFound).
			Context("player", s.settings.Player.Identifier).
			Build()
	}
	serviceLogger.Info("scanning replays", "player", player.Username, "user_id", player.ID)

	// Phase: beatmap-scan
	if err := s.index.Scan(ctx, s.settings.Paths.MapsDir, ".osu",
		s.settings.Analysis.HashWorkers, s.phaseProgress()); err != nil {
		return nil, err
	}
	serviceLogger.Info("beatmap files indexed", "count", humanize.Comma(int64(s.index.Len())))
	if err := s.index.Save(); err != nil {
		serviceLogger.Warn("hash cache save failed", "error", err)
	}
	s.nextPhase()

	// Phase: replay-parse
	records := s.parseReplays(ctx, player.Username)
	serviceLogger.Info("replays decoded", "count", humanize.Comma(int64(len(records))))
	s.nextPhase()

	// Phase: resolve-missing
	if s.settings.Analysis.ResolveMissing {
		s.resolveMissing(ctx, records)
	}
	s.nextPhase()

	// Phase: top-precache
	top := s.precacheTop(ctx, player.ID)
	s.nextPhase()

	// Phase: recompute
	scores := batch.Map(ctx, records, s.settings.Analysis.RecomputeWorkers,
		func(ctx context.Context, rec *replay.Record) (*scoring.ScoreRecord, bool) {
			score, err := s.stage.Recompute(ctx, rec)
			if err != nil {
				serviceLogger.Debug("replay recompute dropped", "replay", filepath.Base(rec.FilePath), "error", err)
				return nil, false
			}
			return score, true
		}, s.phaseProgress())
	serviceLogger.Info("scores recomputed", "count", humanize.Comma(int64(len(scores))))
	s.nextPhase()

	// Phase: detect (provisional, statuses not yet validated)
	provisional := detector.Detect(scores, detector.Options{
		Cutoff:          s.settings.Analysis.CutoffDate,
		IncludeUnranked: true,
		StatusOf:        s.storedStatus,
	})
	s.nextPhase()

	// Phase: deferred-lookup
	s.deferredLookups(ctx)
	s.nextPhase()

	// Phase: status-validation
	validated := s.validateStatuses(ctx, provisional)
	candidates := detector.Detect(scores, detector.Options{
		Cutoff:          s.settings.Analysis.CutoffDate,
		IncludeUnranked: s.settings.Analysis.IncludeUnranked,
		StatusOf: func(beatmapID int64) string {
			if status, ok := validated[beatmapID]; ok {
				return status
			}
			return s.storedStatus(beatmapID)
		},
	})
	serviceLogger.Info("lost scores found", "count", len(candidates))
	s.nextPhase()

	// Phase: saving
	potential := report.BuildPotentialTop(top, candidates, s.settings.Analysis.TopLimit)
	summary := &report.Summary{
		Player:         player.Username,
		ReplaysScanned: len(records),
		ScoresComputed: len(scores),
		LostFound:      len(candidates),
		CurrentPP:      potential.CurrentPP,
		PotentialPP:    potential.PotentialPP,
		DeltaPP:        potential.DeltaPP,
		CurrentAcc:     potential.CurrentAcc,
		PotentialAcc:   potential.PotentialAcc,
		DeltaAcc:       potential.DeltaAcc,
		Elapsed:        time.Since(start),
	}
	if err := s.saveResults(candidates, top, potential, summary); err != nil {
		serviceLogger.Error("failed to save results", "error", err)
	}
	s.progress(100, "done")

	return &Result{
		Player:     player,
		Scores:     scores,
		Candidates: candidates,
		Top:        top,
		Potential:  potential,
		Summary:    summary,
	}, nil
}

// parseReplays decodes every .osr in the replays dir for the target
// player.
func (s *Session) parseReplays(ctx context.Context, playerName string) []*replay.Record {
	dir := s.settings.ReplaysDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		serviceLogger.Warn("cannot read replays directory", "path", dir, "error", err)
		return nil
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".osr") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	return batch.Map(ctx, paths, s.settings.Analysis.ParseWorkers,
		func(_ context.Context, path string) (*replay.Record, bool) {
			data, err := os.ReadFile(path)
			if err != nil {
				serviceLogger.Warn("cannot read replay", "path", path, "error", err)
				return nil, false
			}
			rec, err := replay.Decode(data, playerName)
			if err != nil {
				serviceLogger.Warn("replay decode failed", "path", filepath.Base(path), "error", err)
				return nil, false
			}
			if rec == nil {
				return nil, false
			}
			info, err := os.Stat(path)
			if err != nil {
				return nil, false
			}
			rec.FilePath = path
			rec.FileMod = info.ModTime().Unix()
			return rec, true
		}, s.phaseProgress())
}

// resolveMissing downloads beatmap files for replays whose hash has no
// local file, updating the hash index so the recompute phase finds them.
func (s *Session) resolveMissing(ctx context.Context, records []*replay.Record) {
	seen := make(map[string]struct{})
	var missing []string
	for _, rec := range records {
		if _, ok := s.index.Lookup(rec.BeatmapHash); ok {
			continue
		}
		if _, dup := seen[rec.BeatmapHash]; dup {
			continue
		}
		seen[rec.BeatmapHash] = struct{}{}
		missing = append(missing, rec.BeatmapHash)
	}
	if len(missing) == 0 {
		return
	}
	serviceLogger.Info("resolving missing beatmaps", "count", len(missing))

	batch.Map(ctx, missing, s.settings.Analysis.ParseWorkers,
		func(ctx context.Context, checksum string) (struct{}, bool) {
			res := s.resolver.Resolve(ctx, checksum)
			if res.Status != resolver.Resolved || res.Identity == nil || res.Identity.BeatmapID == 0 {
				return struct{}{}, false
			}

			target := filepath.Join(s.settings.Paths.MapsDir,
				fmt.Sprintf("%d.osu", res.Identity.BeatmapID))
			if err := s.api.DownloadBeatmapFile(ctx, res.Identity.BeatmapID, target); err != nil {
				serviceLogger.Warn("beatmap download failed",
					"beatmap_id", res.Identity.BeatmapID, "error", err)
				return struct{}{}, false
			}

			sum, err := hashindex.HashFile(target)
			if err != nil {
				return struct{}{}, false
			}
			s.index.Add(sum, target)
			if err := s.store.Upsert(&datastore.BeatmapRecord{
				MD5Hash:      sum,
				BeatmapID:    res.Identity.BeatmapID,
				BeatmapSetID: res.Identity.BeatmapSetID,
				LookupStatus: datastore.LookupFound,
				APIStatus:    res.Identity.APIStatus,
				Artist:       res.Identity.Artist,
				Title:        res.Identity.Title,
				Creator:      res.Identity.Creator,
				Version:      res.Identity.Version,
				HitObjects:   res.Identity.HitObjects,
			}); err != nil {
				serviceLogger.Warn("failed to persist downloaded beatmap",
					"beatmap_id", res.Identity.BeatmapID, "error", err)
			}
			if sum != checksum {
				// The online file changed since the replay was set; the
				// replay's hash stays unresolvable locally.
				serviceLogger.Debug("downloaded beatmap hash differs",
					"expected", checksum, "actual", sum)
			}
			return struct{}{}, true
		}, s.phaseProgress())

	if err := errors.Join(s.index.Save(), s.resolver.SaveNegativeCache()); err != nil {
		serviceLogger.Warn("cache save after beatmap resolution failed", "error", err)
	}
}

// precacheTop fetches the player's online best list and feeds its
// beatmap metadata into the store.
func (s *Session) precacheTop(ctx context.Context, userID int64) []report.TopEntry {
	scores, err := s.api.FetchUserTopScores(ctx, userID, s.settings.Analysis.TopLimit)
	if err != nil {
		serviceLogger.Warn("failed to fetch online top scores", "error", err)
		return nil
	}

	entries := make([]report.TopEntry, 0, len(scores))
	for _, sc := range scores {
		e := report.TopEntry{
			PP:       sc.PP,
			Accuracy: sc.Accuracy * 100,
			Score:    sc.Score,
			Rank:     sc.Rank,
			Mods:     sc.Mods,
		}
		if b := sc.Beatmap; b != nil {
			e.BeatmapID = b.ID
			e.Version = b.Version
			if b.Beatmapset != nil {
				e.Artist = b.Beatmapset.Artist
				e.Title = b.Beatmapset.Title
				e.Creator = b.Beatmapset.Creator
			}
			if b.Checksum != "" {
				rec := &datastore.BeatmapRecord{
					MD5Hash:      b.Checksum,
					BeatmapID:    b.ID,
					BeatmapSetID: b.BeatmapsetID,
					LookupStatus: datastore.LookupFound,
					APIStatus:    b.Status,
					Version:      b.Version,
					HitObjects:   b.HitObjectCount(),
				}
				if b.Beatmapset != nil {
					rec.Artist = b.Beatmapset.Artist
					rec.Title = b.Beatmapset.Title
					rec.Creator = b.Beatmapset.Creator
				}
				if err := s.store.Upsert(rec); err != nil {
					serviceLogger.Warn("failed to precache beatmap", "beatmap_id", b.ID, "error", err)
				}
			}
		}
		entries = append(entries, e)
	}

	s.phaseProgress()(len(entries), len(entries))
	return entries
}

// deferredLookups resolves checksums whose remote lookup is still
// undecided in the store.
func (s *Session) deferredLookups(ctx context.Context) {
	pending, err := s.store.PendingChecksums()
	if err != nil {
		serviceLogger.Warn("cannot list pending lookups", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	serviceLogger.Info("running deferred lookups", "count", len(pending))

	batch.Map(ctx, pending, 4, func(ctx context.Context, checksum string) (struct{}, bool) {
		s.resolver.Resolve(ctx, checksum)
		return struct{}{}, true
	}, s.phaseProgress())

	if err := s.resolver.SaveNegativeCache(); err != nil {
		serviceLogger.Warn("negative cache save failed", "error", err)
	}
}

// validateStatuses batch-fetches the ranked status for candidates whose
// status is still unknown and returns the fetched statuses keyed by
// beatmap id. Ids missing from the response are marked deleted. The
// returned map is authoritative for the final detection pass: a store
// row whose identity came from the local .osu file has no beatmap id,
// so an update by id cannot reach it.
func (s *Session) validateStatuses(ctx context.Context, candidates []detector.Candidate) map[int64]string {
	var ids []int64
	seen := make(map[int64]struct{})
	for _, c := range candidates {
		if c.RankedStatus != "unknown" {
			continue
		}
		if _, dup := seen[c.BeatmapID]; dup {
			continue
		}
		seen[c.BeatmapID] = struct{}{}
		ids = append(ids, c.BeatmapID)
	}
	if len(ids) == 0 {
		return nil
	}

	fetched, err := s.api.FetchBeatmaps(ctx, ids)
	if err != nil {
		serviceLogger.Warn("status validation fetch failed", "error", err)
		return nil
	}

	statuses := make(map[int64]string, len(ids))
	for _, id := range ids {
		status := "deleted"
		if b, ok := fetched[id]; ok {
			status = b.Status
		}
		statuses[id] = status
		if err := s.store.UpdateStatus(id, status); err != nil {
			serviceLogger.Warn("status update failed", "beatmap_id", id, "error", err)
		}
	}
	s.phaseProgress()(len(ids), len(ids))
	return statuses
}

// storedStatus reads a beatmap's ranked status from the metadata store.
func (s *Session) storedStatus(beatmapID int64) string {
	rec, err := s.store.GetByBeatmapID(beatmapID)
	if err != nil || rec == nil {
		return ""
	}
	return rec.APIStatus
}

// saveResults persists the caches and writes the CSV outputs.
func (s *Session) saveResults(candidates []detector.Candidate, top []report.TopEntry, potential *report.PotentialTop, summary *report.Summary) error {
	var errs []error

	errs = append(errs, s.index.Save())
	errs = append(errs, s.resolver.SaveNegativeCache())
	errs = append(errs, s.stage.SaveCache())

	dir := s.settings.Output.CSVDir
	errs = append(errs, report.WriteLostScores(filepath.Join(dir, "lost_scores.csv"), candidates))
	errs = append(errs, report.WriteParsedTop(filepath.Join(dir, "parsed_top.csv"), top))
	errs = append(errs, report.WritePotentialTop(filepath.Join(dir, "potential_top.csv"), potential))
	errs = append(errs, report.WriteSummary(filepath.Join(dir, "summary.csv"), summary))

	return errors.Join(errs...)
}
