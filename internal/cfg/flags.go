package cfg

import (
	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/domain/keys"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// initGlobalFlags registers the flags shared by every stage.
func initGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()

	pf.String(keys.DBPath, "crawl.db", "Path to the crawl database file")
	pf.String(keys.ExcludeHostsFile, "", "File or URL listing hosts to exclude (one per line, # comments)")
	pf.IntP(keys.Concurrency, "c", consts.DefaultConcurrency, "Number of hosts walked in parallel")
	pf.Int(keys.TimeoutMS, int(consts.DefaultTimeout.Milliseconds()), "Per-request timeout in milliseconds")
	pf.Int(keys.MaxRetries, consts.DefaultMaxRetries, "Retry budget per URL")
	pf.Int(keys.MaxInstances, 0, "Cap on the number of hosts walked (0 = unbounded)")
	pf.Bool(keys.Resume, false, "Resume the previous run instead of starting fresh")
	pf.Int(keys.DebugLevel, 0, "Debug verbosity level")

	pf.VisitAll(func(fl *pflag.Flag) {
		_ = viper.BindPFlag(fl.Name, fl)
	})
}

// bindStageFlags binds a stage command's own flags into viper. Bound at
// run time because sibling stages reuse flag names (e.g. errors-only) and
// the last bind wins.
func bindStageFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(fl *pflag.Flag) {
		_ = viper.BindPFlag(fl.Name, fl)
	})
}

// initInstancesFlags registers the federation-stage flags.
func initInstancesFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.String(keys.WhitelistURL, "", "URL of the host whitelist")
	f.String(keys.WhitelistFile, "", "File path of the host whitelist")
	f.Int(keys.MaxErrors, consts.DefaultMaxErrors, "Permanent-failure threshold per host")
	f.Bool(keys.ExpandBeyondWhitelist, false, "Follow federation edges beyond the whitelist")
	f.Bool(keys.CollectGraph, false, "Persist federation edges")
}

// initChannelsFlags registers the channel-stage flags.
func initChannelsFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.Int(keys.MaxChannels, 0, "Global cap on channels this run (0 = unbounded)")
	f.Bool(keys.NewOnly, false, "Skip entries already present in the database")
}

// initVideosFlags registers the video-stage flags.
func initVideosFlags(cmd *cobra.Command) {
	initChannelsFlags(cmd)
	f := cmd.Flags()

	f.String(keys.ExistingDBPath, "", "Read-only reference database for incremental runs")
	f.Int(keys.StopAfterFullPages, 0, "Stop a channel after this many consecutive fully-known pages (0 = never)")
	f.String(keys.VideoSort, consts.DefaultVideoSort, "Sort order for video listings")
	f.Int(keys.MaxVideosPages, 0, "Cap on pages fetched per channel (0 = unbounded)")
	f.Int64(keys.ChannelConcurrency, consts.DefaultChannelConcurrency, "Channels walked in parallel within one host")
	f.Bool(keys.ErrorsOnly, false, "Process only channels whose last walk errored")
}

// initEnrichFlags registers the enrichment-stage flags.
func initEnrichFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.Bool(keys.TagsOnly, false, "Fetch tags for videos missing them")
	f.Bool(keys.UpdateTags, false, "Re-fetch tags for videos that already have them")
	f.Bool(keys.CommentsOnly, false, "Fetch comment counts instead of tags")
	f.Int(keys.HostDelayMS, int(consts.DefaultHostDelay.Milliseconds()), "Delay between requests to the same host, in milliseconds")
}

// initHealthFlags registers the health-stage flags.
func initHealthFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.String(keys.SingleHost, "", "Probe a single host only")
	f.Bool(keys.ProbeChannels, false, "Probe each eligible channel's video listing instead of the host endpoint")
	f.Bool(keys.ErrorsOnly, false, "Probe only hosts currently marked unhealthy")
	f.Int(keys.MinAgeDays, 0, "Skip hosts checked within this many days")
	f.Int(keys.MinAgeMin, 0, "Skip hosts checked within this many minutes")
	f.Int(keys.MinAgeSec, 0, "Skip hosts checked within this many seconds")
}
