// Package report renders the scan results: CSV files for lost scores,
// the player's parsed online top, the recalculated potential top, and a
// key/value summary.
package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/detector"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/replay"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/scoring"
)

// TopEntry is one play of the player's online best list, normalized
// for reporting.
type TopEntry struct {
	BeatmapID int64
	Artist    string
	Title     string
	Creator   string
	Version   string
	Mods      []string
	PP        float64
	Accuracy  float64
	Score     int64
	Rank      string
	IsLost    bool
}

// PotentialTop is the player's best list with lost scores merged in.
type PotentialTop struct {
	Entries      []TopEntry
	CurrentPP    float64
	PotentialPP  float64
	DeltaPP      float64
	CurrentAcc   float64
	PotentialAcc float64
	DeltaAcc     float64
}

// weight returns the ranked-performance weight of list position i.
func weight(i int) float64 {
	return math.Pow(0.95, float64(i))
}

// weightedPP sums position-weighted performance over a best list.
func weightedPP(entries []TopEntry) float64 {
	var total float64
	for i, e := range entries {
		total += weight(i) * e.PP
	}
	return total
}

// weightedAcc is the position-weighted mean accuracy over a best list.
func weightedAcc(entries []TopEntry) float64 {
	var num, den float64
	for i, e := range entries {
		w := weight(i)
		num += w * e.Accuracy
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// BuildPotentialTop merges lost candidates into the online top by
// beatmap id, keeping the higher performance per map, re-ranks, trims
// to limit, and computes the pp/accuracy deltas.
func BuildPotentialTop(top []TopEntry, lost []detector.Candidate, limit int) *PotentialTop {
	byBeatmap := make(map[int64]TopEntry, len(top))
	for _, e := range top {
		if cur, ok := byBeatmap[e.BeatmapID]; !ok || e.PP > cur.PP {
			byBeatmap[e.BeatmapID] = e
		}
	}

	for _, c := range lost {
		e := TopEntry{
			BeatmapID: c.BeatmapID,
			Artist:    c.Artist,
			Title:     c.Title,
			Creator:   c.Creator,
			Version:   c.Version,
			Mods:      c.Mods,
			PP:        c.PP,
			Accuracy:  c.Accuracy,
			Score:     int64(c.TotalScore),
			Rank:      scoring.Grade(c.Count300, c.Count100, c.Count50, c.CountMiss, c.HitObjects),
			IsLost:    true,
		}
		if cur, ok := byBeatmap[c.BeatmapID]; !ok || e.PP > cur.PP {
			byBeatmap[c.BeatmapID] = e
		}
	}

	merged := make([]TopEntry, 0, len(byBeatmap))
	for _, e := range byBeatmap {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].PP > merged[j].PP })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}

	current := make([]TopEntry, 0, len(top))
	current = append(current, top...)
	sort.Slice(current, func(i, j int) bool { return current[i].PP > current[j].PP })
	if limit > 0 && len(current) > limit {
		current = current[:limit]
	}

	pt := &PotentialTop{
		Entries:      merged,
		CurrentPP:    weightedPP(current),
		PotentialPP:  weightedPP(merged),
		CurrentAcc:   weightedAcc(current),
		PotentialAcc: weightedAcc(merged),
	}
	pt.DeltaPP = pt.PotentialPP - pt.CurrentPP
	pt.DeltaAcc = pt.PotentialAcc - pt.CurrentAcc
	return pt
}

func newWriter(path string) (*csv.Writer, *os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return csv.NewWriter(f), f, nil
}

func formatDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05")
}

func formatBeatmap(artist, title, creator, version string) string {
	return fmt.Sprintf("%s - %s (%s) [%s]", artist, title, creator, version)
}

// WriteLostScores writes the lost-score CSV, highest performance first.
func WriteLostScores(path string, candidates []detector.Candidate) error {
	w, f, err := newWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := []string{"pp", "beatmap_id", "beatmap", "mods", "score", "accuracy", "grade", "combo", "misses", "date", "status"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, c := range candidates {
		row := []string{
			strconv.FormatFloat(c.PP, 'f', 2, 64),
			strconv.FormatInt(c.BeatmapID, 10),
			formatBeatmap(c.Artist, c.Title, c.Creator, c.Version),
			replay.FormatForDisplay(c.Mods),
			strconv.FormatUint(uint64(c.TotalScore), 10),
			strconv.FormatFloat(c.Accuracy, 'f', 2, 64) + "%",
			scoring.Grade(c.Count300, c.Count100, c.Count50, c.CountMiss, c.HitObjects),
			strconv.Itoa(int(c.MaxCombo)),
			strconv.Itoa(int(c.CountMiss)),
			formatDate(c.Timestamp),
			c.RankedStatus,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// WriteParsedTop writes the player's online top as parsed from the API.
func WriteParsedTop(path string, entries []TopEntry) error {
	w, f, err := newWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := []string{"rank", "pp", "beatmap_id", "beatmap", "mods", "score", "accuracy", "grade"}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, e := range entries {
		if err := w.Write(topRow(i, e)); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// WritePotentialTop writes the merged best list, flagging lost entries.
func WritePotentialTop(path string, pt *PotentialTop) error {
	w, f, err := newWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := []string{"rank", "pp", "weighted_pp", "beatmap_id", "beatmap", "mods", "score", "accuracy", "grade", "lost"}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, e := range pt.Entries {
		lost := ""
		if e.IsLost {
			lost = "yes"
		}
		row := []string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(e.PP, 'f', 2, 64),
			strconv.FormatFloat(weight(i)*e.PP, 'f', 2, 64),
			strconv.FormatInt(e.BeatmapID, 10),
			formatBeatmap(e.Artist, e.Title, e.Creator, e.Version),
			replay.FormatForDisplay(e.Mods),
			strconv.FormatInt(e.Score, 10),
			strconv.FormatFloat(e.Accuracy, 'f', 2, 64) + "%",
			e.Rank,
			lost,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func topRow(i int, e TopEntry) []string {
	return []string{
		strconv.Itoa(i + 1),
		strconv.FormatFloat(e.PP, 'f', 2, 64),
		strconv.FormatInt(e.BeatmapID, 10),
		formatBeatmap(e.Artist, e.Title, e.Creator, e.Version),
		replay.FormatForDisplay(e.Mods),
		strconv.FormatInt(e.Score, 10),
		strconv.FormatFloat(e.Accuracy, 'f', 2, 64) + "%",
		e.Rank,
	}
}

// Summary is the key/value overview written at the end of a scan.
type Summary struct {
	Player          string
	ReplaysScanned  int
	ScoresComputed  int
	LostFound       int
	CurrentPP       float64
	PotentialPP     float64
	DeltaPP         float64
	CurrentAcc      float64
	PotentialAcc    float64
	DeltaAcc        float64
	Elapsed         time.Duration
}

// WriteSummary writes the summary CSV.
func WriteSummary(path string, s *Summary) error {
	w, f, err := newWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows := [][]string{
		{"player", s.Player},
		{"replays_scanned", strconv.Itoa(s.ReplaysScanned)},
		{"scores_computed", strconv.Itoa(s.ScoresComputed)},
		{"lost_found", strconv.Itoa(s.LostFound)},
		{"current_pp", strconv.FormatFloat(s.CurrentPP, 'f', 2, 64)},
		{"potential_pp", strconv.FormatFloat(s.PotentialPP, 'f', 2, 64)},
		{"delta_pp", strconv.FormatFloat(s.DeltaPP, 'f', 2, 64)},
		{"current_acc", strconv.FormatFloat(s.CurrentAcc, 'f', 2, 64)},
		{"potential_acc", strconv.FormatFloat(s.PotentialAcc, 'f', 2, 64)},
		{"delta_acc", strconv.FormatFloat(s.DeltaAcc, 'f', 2, 64)},
		{"elapsed", s.Elapsed.Round(time.Millisecond).String()},
	}

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
