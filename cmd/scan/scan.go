// Package scan implements the scan subcommand: one full reconciliation
// run over the local replay collection.
package scan

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/conf"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/scan"
)

// Command creates the scan command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan local replays for lost scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, settings)
		},
	}
	return cmd
}

func runScan(cmd *cobra.Command, settings *conf.Settings) error {
	if settings.Player.Identifier == "" {
		return fmt.Errorf("no player configured; set player.identifier or pass --player")
	}
	if settings.Paths.GameDir == "" {
		return fmt.Errorf("no game directory configured; set paths.gamedir or pass --gamedir")
	}

	lastPct := -1
	session, err := scan.New(settings, func(pct int, phase string) {
		if pct == lastPct {
			return
		}
		lastPct = pct
		fmt.Printf("\r[%3d%%] %-20s", pct, phase)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logging.Warn("session close failed", "error", err)
		}
	}()

	result, err := session.Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println()

	s := result.Summary
	fmt.Printf("Player:          %s\n", s.Player)
	fmt.Printf("Replays scanned: %d\n", s.ReplaysScanned)
	fmt.Printf("Scores computed: %d\n", s.ScoresComputed)
	fmt.Printf("Lost scores:     %d\n", s.LostFound)
	fmt.Printf("Potential gain:  %+.2f pp (%+.2f%% acc)\n", s.DeltaPP, s.DeltaAcc)
	fmt.Printf("Elapsed:         %s\n", s.Elapsed.Round(time.Second))
	fmt.Printf("Results written to %s\n", settings.Output.CSVDir)

	return nil
}
