package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marginbook",
	Short: "A margin order book with a liquidation engine",

	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, ".env files to load before environment overrides")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
