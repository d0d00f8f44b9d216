package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bankgate",
	Short: "bankgate is a read-only banking gateway",
	Long: `A read-only gateway between a personal finance dashboard and a banking API.
It resolves the API key from a vault, converts amounts to EUR and serves
cached, categorized transactions behind an operator login.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
}
