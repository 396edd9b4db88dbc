package cfg

import (
	"context"
	"errors"
	"time"

	"tubecrawl/internal/contracts"
	"tubecrawl/internal/crawl"
	"tubecrawl/internal/database"
	"tubecrawl/internal/domain/keys"
	"tubecrawl/internal/repo"
	"tubecrawl/internal/utils/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// withStore opens the crawl database and hands a Store to the stage
// function. recreate deletes the backing file first, used by a fresh
// federation run.
func withStore(ctx context.Context, recreate bool, run func(ctx context.Context, s contracts.Store) error) error {
	db, err := database.InitDB(viper.GetString(keys.DBPath), recreate)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.E("Failed to close database: %v", err)
		}
	}()
	return run(ctx, repo.InitStores(db.DB))
}

func timeoutFromFlags() time.Duration {
	return time.Duration(viper.GetInt(keys.TimeoutMS)) * time.Millisecond
}

func newInstancesCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Discover hosts from the whitelist and walk federation edges.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindStageFlags(cmd)

			src := viper.GetString(keys.WhitelistURL)
			if src == "" {
				src = viper.GetString(keys.WhitelistFile)
			}
			if src == "" {
				return errors.New("either --whitelist-url or --whitelist-file is required")
			}

			resume := viper.GetBool(keys.Resume)
			return withStore(ctx, !resume, func(ctx context.Context, s contracts.Store) error {
				return crawl.RunFederation(ctx, s, crawl.FederationConfig{
					WhitelistSrc: src,
					ExcludeFile:  viper.GetString(keys.ExcludeHostsFile),
					Concurrency:  viper.GetInt(keys.Concurrency),
					Timeout:      timeoutFromFlags(),
					MaxRetries:   viper.GetInt(keys.MaxRetries),
					MaxErrors:    int64(viper.GetInt(keys.MaxErrors)),
					MaxInstances: viper.GetInt(keys.MaxInstances),
					Expand:       viper.GetBool(keys.ExpandBeyondWhitelist),
					CollectGraph: viper.GetBool(keys.CollectGraph),
					Resume:       resume,
				})
			})
		},
	}
	initInstancesFlags(cmd)
	return cmd
}

func newChannelsCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Enumerate video channels on every discovered host.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindStageFlags(cmd)

			return withStore(ctx, false, func(ctx context.Context, s contracts.Store) error {
				return crawl.RunChannels(ctx, s, crawl.ChannelConfig{
					ExcludeFile:     viper.GetString(keys.ExcludeHostsFile),
					Concurrency:     viper.GetInt(keys.Concurrency),
					Timeout:         timeoutFromFlags(),
					MaxRetries:      viper.GetInt(keys.MaxRetries),
					NewOnly:         viper.GetBool(keys.NewOnly),
					MaxInstances:    viper.GetInt(keys.MaxInstances),
					MaxChannels:     viper.GetInt(keys.MaxChannels),
					Resume:          viper.GetBool(keys.Resume),
					PreferredScheme: "https",
				})
			})
		},
	}
	initChannelsFlags(cmd)
	return cmd
}

func newVideosCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "Enumerate videos for every eligible channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindStageFlags(cmd)

			return withStore(ctx, false, func(ctx context.Context, s contracts.Store) error {
				return crawl.RunVideos(ctx, s, crawl.VideoConfig{
					ExcludeFile:        viper.GetString(keys.ExcludeHostsFile),
					Concurrency:        viper.GetInt(keys.Concurrency),
					ChannelConcurrency: viper.GetInt64(keys.ChannelConcurrency),
					Timeout:            timeoutFromFlags(),
					MaxRetries:         viper.GetInt(keys.MaxRetries),
					NewOnly:            viper.GetBool(keys.NewOnly),
					StopAfterFullPages: viper.GetInt(keys.StopAfterFullPages),
					Sort:               viper.GetString(keys.VideoSort),
					MaxInstances:       viper.GetInt(keys.MaxInstances),
					MaxChannels:        viper.GetInt(keys.MaxChannels),
					MaxVideosPages:     viper.GetInt(keys.MaxVideosPages),
					ErrorsOnly:         viper.GetBool(keys.ErrorsOnly),
					Resume:             viper.GetBool(keys.Resume),
					ExistingDBPath:     viper.GetString(keys.ExistingDBPath),
					PreferredScheme:    "https",
				})
			})
		},
	}
	initVideosFlags(cmd)
	return cmd
}

func newEnrichCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fetch per-video detail pages to fill tags or comment counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindStageFlags(cmd)

			mode := crawl.ModeTags
			switch {
			case viper.GetBool(keys.UpdateTags):
				mode = crawl.ModeUpdateTags
			case viper.GetBool(keys.CommentsOnly):
				mode = crawl.ModeComments
			}

			return withStore(ctx, false, func(ctx context.Context, s contracts.Store) error {
				return crawl.RunEnrich(ctx, s, crawl.EnrichConfig{
					Mode:            mode,
					Concurrency:     viper.GetInt(keys.Concurrency),
					Timeout:         timeoutFromFlags(),
					MaxRetries:      viper.GetInt(keys.MaxRetries),
					HostDelay:       time.Duration(viper.GetInt(keys.HostDelayMS)) * time.Millisecond,
					Resume:          viper.GetBool(keys.Resume),
					PreferredScheme: "https",
				})
			})
		},
	}
	initEnrichFlags(cmd)
	return cmd
}

func newHealthCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe hosts and record their health status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindStageFlags(cmd)

			minAge := time.Duration(viper.GetInt(keys.MinAgeDays))*24*time.Hour +
				time.Duration(viper.GetInt(keys.MinAgeMin))*time.Minute +
				time.Duration(viper.GetInt(keys.MinAgeSec))*time.Second

			return withStore(ctx, false, func(ctx context.Context, s contracts.Store) error {
				return crawl.RunHealth(ctx, s, crawl.HealthConfig{
					Host:            viper.GetString(keys.SingleHost),
					Channels:        viper.GetBool(keys.ProbeChannels),
					ErrorsOnly:      viper.GetBool(keys.ErrorsOnly),
					MinAge:          minAge,
					Concurrency:     viper.GetInt(keys.Concurrency),
					Timeout:         timeoutFromFlags(),
					MaxRetries:      viper.GetInt(keys.MaxRetries),
					PreferredScheme: "https",
				})
			})
		},
	}
	initHealthFlags(cmd)
	return cmd
}
