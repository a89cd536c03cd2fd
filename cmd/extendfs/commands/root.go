// Package commands implements the extendfs command line.
package commands

import (
	"github.com/spf13/cobra"

	"extendfs/internal/config"
	"extendfs/internal/logging"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string

	logger = logging.GetLogger()
)

var rootCmd = &cobra.Command{
	Use:   "extendfs",
	Short: "extendfs - passthrough FUSE filesystem with per-mount I/O policies",
	Long: `extendfs mirrors a source directory through FUSE and applies two
per-mount policies to it: delayed timestamp updates (delayupdatetime) and
per-file writeback throttling driven by the user.wbnice extended attribute
(wbnice). Both can be tuned at runtime through <mountpoint>/.extend.

Use "extendfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(parseOptionsCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// applyLogLevel sets the level from the configuration; verbose forces DEBUG.
func applyLogLevel(cfg *config.Config, verbose bool) {
	if verbose {
		logger.SetLevel(logging.LevelDebug)
		return
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warn("Ignoring log level: %v", err)
		return
	}
	logger.SetLevel(level)
}
