package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/tandem/internal/ui"
	"github.com/BioHazard786/tandem/internal/version"
)

var flagConfig string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Two-party WebRTC calls through a tiny signaling relay",
	Long: `tandem pairs two participants in a named room and relays their WebRTC
session descriptions and ICE candidates until they talk to each other
directly.

Run "tandem serve" for the relay and "tandem join <room>" on each side.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a TOML config file")
}
