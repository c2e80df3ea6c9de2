package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers the default value for every configuration
// key so an empty config file still produces a working Settings.
func setDefaultConfig() {
	// Main
	viper.SetDefault("main.name", "lostscores")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/lostscores.log")
	viper.SetDefault("main.log.level", "info")

	// Player
	viper.SetDefault("player.identifier", "")
	viper.SetDefault("player.lookupkey", "username")

	// Paths
	viper.SetDefault("paths.gamedir", "")
	viper.SetDefault("paths.cachedir", "cache")
	viper.SetDefault("paths.mapsdir", "maps")
	viper.SetDefault("paths.resultsdir", "results")

	// API
	viper.SetDefault("api.baseurl", "https://osu.ppy.sh")
	viper.SetDefault("api.clientid", "")
	viper.SetDefault("api.clientsecret", "")
	viper.SetDefault("api.requestsperminute", 60)
	viper.SetDefault("api.publicrequestsperminute", 1200)
	viper.SetDefault("api.retrycount", 3)
	viper.SetDefault("api.retrydelay", 500*time.Millisecond)
	viper.SetDefault("api.downloadtimeout", 30*time.Second)
	viper.SetDefault("api.pagesize", 100)
	viper.SetDefault("api.batchsize", 50)

	// Analysis
	viper.SetDefault("analysis.cutoffdate", int64(1730114220))
	viper.SetDefault("analysis.includeunranked", false)
	viper.SetDefault("analysis.resolvemissing", true)
	viper.SetDefault("analysis.parseworkers", 8)
	viper.SetDefault("analysis.recomputeworkers", 4)
	viper.SetDefault("analysis.hashworkers", 8)
	viper.SetDefault("analysis.toplimit", 200)

	// Output
	viper.SetDefault("output.databasepath", "cache/beatmaps.db")
	viper.SetDefault("output.csvdir", "results")

	// Performance
	viper.SetDefault("performance.calculatorcommand", "rosu-pp")
	viper.SetDefault("performance.calculatorargs", []string{})
}
