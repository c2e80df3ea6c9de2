// Package cmd assembles the command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/cmd/scan"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/cmd/top"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/conf"
)

// RootCommand builds the root command with persistent flags bound to
// the configuration and all subcommands attached.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lostscores",
		Short: "Find osu! scores that were never submitted",
		Long: `lostscores reconciles locally stored osu! replays against the
player's online score history to find plays that would have outperformed
the recorded best for a beatmap but were never counted.`,
	}

	rootCmd.AddCommand(scan.Command(settings))
	rootCmd.AddCommand(top.Command(settings))

	setupFlags(rootCmd, settings)

	return rootCmd
}

// setupFlags binds the persistent flags to their viper keys so CLI
// values override the config file.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&settings.Paths.GameDir, "gamedir", settings.Paths.GameDir, "osu! installation directory")
	flags.StringVar(&settings.Player.Identifier, "player", settings.Player.Identifier, "player username or id")
	flags.StringVar(&settings.Player.LookupKey, "lookup-key", settings.Player.LookupKey, "player lookup key: username or id")
	flags.StringVar(&settings.API.ClientID, "client-id", settings.API.ClientID, "osu! API client id")
	flags.StringVar(&settings.API.ClientSecret, "client-secret", settings.API.ClientSecret, "osu! API client secret")
	flags.Int64Var(&settings.Analysis.CutoffDate, "cutoff", settings.Analysis.CutoffDate, "cutoff Unix timestamp; newer scores are excluded")
	flags.BoolVar(&settings.Analysis.IncludeUnranked, "include-unranked", settings.Analysis.IncludeUnranked, "keep candidates on unranked beatmaps")

	_ = viper.BindPFlag("paths.gamedir", flags.Lookup("gamedir"))
	_ = viper.BindPFlag("player.identifier", flags.Lookup("player"))
	_ = viper.BindPFlag("player.lookupkey", flags.Lookup("lookup-key"))
	_ = viper.BindPFlag("api.clientid", flags.Lookup("client-id"))
	_ = viper.BindPFlag("api.clientsecret", flags.Lookup("client-secret"))
	_ = viper.BindPFlag("analysis.cutoffdate", flags.Lookup("cutoff"))
	_ = viper.BindPFlag("analysis.includeunranked", flags.Lookup("include-unranked"))
}
