package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-occluder/internal/config"
	"github.com/kozaktomas/face-occluder/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "face-occluder",
	Short: "Hide every photo of one person in a web feed",
	Long: `Face Occluder watches the images of a feed page as they scroll into view,
asks a face embedding service for the faces in each one, and covers every
image showing the reference person with a substitute picture.

The face service, bundled assets and site selectors are configured through
environment variables or a .env file.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON; overrides LOG_FORMAT")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// newLogger builds the stderr logger from config and the persistent flags.
func newLogger(cmd *cobra.Command, cfg *config.Config) *logging.Logger {
	level := cfg.Log.Level
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		level = l
	}
	format := cfg.Log.Format
	if j, _ := cmd.Flags().GetBool("log-json"); j {
		format = "json"
	}
	return logging.New(os.Stderr, format, logging.ParseLevel(level))
}
