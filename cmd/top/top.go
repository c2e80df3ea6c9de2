// Package top implements the top subcommand: fetch and export the
// player's current online best list without running a full scan.
package top

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/conf"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/osuapi"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/report"
)

// Command creates the top command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Fetch the player's online top scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(cmd, settings)
		},
	}
	return cmd
}

func runTop(cmd *cobra.Command, settings *conf.Settings) error {
	if settings.Player.Identifier == "" {
		return fmt.Errorf("no player configured; set player.identifier or pass --player")
	}

	ctx := cmd.Context()
	api := osuapi.New(settings.API)
	defer api.Close()

	user, err := api.FetchUserProfile(ctx, settings.Player.Identifier, settings.Player.LookupKey)
	if err != nil {
		return fmt.Errorf("player lookup failed: %w", err)
	}

	scores, err := api.FetchUserTopScores(ctx, user.ID, settings.Analysis.TopLimit)
	if err != nil {
		return fmt.Errorf("fetching top scores failed: %w", err)
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
		}
		entries = append(entries, e)
	}

	path := filepath.Join(settings.Output.CSVDir, "parsed_top.csv")
	if err := report.WriteParsedTop(path, entries); err != nil {
		return err
	}

	fmt.Printf("Wrote %d top scores for %s to %s\n", len(entries), user.Username, path)
	return nil
}
