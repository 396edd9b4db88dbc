// Package cfg provides configuration and command-line interface setup for
// Tubecrawl.
package cfg

import (
	"context"
	"strings"

	"tubecrawl/internal/domain/keys"
	"tubecrawl/internal/utils/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "tubecrawl",
	Short: "Tubecrawl walks a federated video network into a local database.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetLevel(viper.GetInt(keys.DebugLevel))
	},
}

// InitCommands initializes all commands and their flags.
func InitCommands(ctx context.Context) error {
	viper.SetEnvPrefix("TUBECRAWL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_")) // TUBECRAWL_DB_PATH sets db-path

	initGlobalFlags(rootCmd)

	rootCmd.AddCommand(newInstancesCmd(ctx))
	rootCmd.AddCommand(newChannelsCmd(ctx))
	rootCmd.AddCommand(newVideosCmd(ctx))
	rootCmd.AddCommand(newEnrichCmd(ctx))
	rootCmd.AddCommand(newHealthCmd(ctx))

	return nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}
