// Package detector implements the lost-score detection algorithm: a
// single pass over the full set of recomputed scores from one scan.
package detector

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/scoring"
)

// Candidate is a score flagged as lost, annotated with the beatmap's
// ranked status.
type Candidate struct {
	*scoring.ScoreRecord
	RankedStatus string
}

// Options configure a detection pass.
type Options struct {
	// Cutoff excludes candidates timestamped at or after this Unix
	// instant. Zero disables the filter.
	Cutoff int64
	// IncludeUnranked keeps candidates on non-ranked beatmaps, labeling
	// their status "unknown".
	IncludeUnranked bool
	// StatusOf overrides the ranked status per beatmap id; when nil the
	// record's own status is used.
	StatusOf func(beatmapID int64) string
}

// Detect runs the full algorithm: validation, grouping by (beatmap id,
// mod set), per-group performance-vs-total comparison, the global-best
// guard, sorting, the cutoff filter, and the ranked-status filter.
func Detect(records []*scoring.ScoreRecord, opts Options) []Candidate {
	valid := validate(records)

	type group struct {
		bestByPP    *scoring.ScoreRecord
		bestByTotal *scoring.ScoreRecord
		size        int
	}

	groups := make(map[string]*group)
	globalBest := make(map[int64]float64)

	for _, r := range valid {
		if pp, ok := globalBest[r.BeatmapID]; !ok || r.PP > pp {
			globalBest[r.BeatmapID] = r.PP
		}

		key := groupKey(r)
		g, ok := groups[key]
		if !ok {
			g = &group{bestByPP: r, bestByTotal: r, size: 1}
			groups[key] = g
			continue
		}
		g.size++
		if r.PP > g.bestByPP.PP {
			g.bestByPP = r
		}
		if r.TotalScore > g.bestByTotal.TotalScore {
			g.bestByTotal = r
		}
	}

	// A group flags its best-by-performance play when a lower-scoring
	// but higher-performance attempt was superseded by a separately
	// submitted higher-scoring one.
	perBeatmap := make(map[int64]*scoring.ScoreRecord)
	for _, g := range groups {
		if g.size < 2 {
			continue
		}
		if g.bestByPP.PP > g.bestByTotal.PP && g.bestByPP.TotalScore < g.bestByTotal.TotalScore {
			c := g.bestByPP
			if cur, ok := perBeatmap[c.BeatmapID]; !ok || c.PP > cur.PP {
				perBeatmap[c.BeatmapID] = c
			}
		}
	}

	var candidates []*scoring.ScoreRecord
	for beatmapID, c := range perBeatmap {
		if c.PP >= globalBest[beatmapID] {
			candidates = append(candidates, c)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].PP > candidates[j].PP
	})

	var out []Candidate
	for _, c := range candidates {
		if opts.Cutoff > 0 && c.Timestamp >= opts.Cutoff {
			continue
		}

		status := c.APIStatus
		if opts.StatusOf != nil {
			status = opts.StatusOf(c.BeatmapID)
		}

		switch status {
		case "ranked", "approved":
			out = append(out, Candidate{ScoreRecord: c, RankedStatus: status})
		default:
			if opts.IncludeUnranked {
				out = append(out, Candidate{ScoreRecord: c, RankedStatus: "unknown"})
			}
		}
	}

	return out
}

// validate drops records missing required identity and coerces invalid
// numeric fields to zero with a logged warning.
func validate(records []*scoring.ScoreRecord) []*scoring.ScoreRecord {
	valid := make([]*scoring.ScoreRecord, 0, len(records))
	for _, r := range records {
		if r == nil || r.BeatmapID == 0 || r.Mods == nil {
			continue
		}
		if math.IsNaN(r.PP) || math.IsInf(r.PP, 0) || r.PP < 0 {
			logging.Warn("coercing invalid performance value to zero",
				"beatmap_id", r.BeatmapID, "pp", r.PP)
			clone := *r
			clone.PP = 0
			r = &clone
		}
		valid = append(valid, r)
	}
	return valid
}

func groupKey(r *scoring.ScoreRecord) string {
	mods := make([]string, len(r.Mods))
	copy(mods, r.Mods)
	sort.Strings(mods)
	return strconv.FormatInt(r.BeatmapID, 10) + "|" + strings.Join(mods, ",")
}
