package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/peterzhu2118/gckit/cmd/gcstress/logger"
)

var (
	// Global flags
	verbose bool
	logFile bool
)

var rootCmd = &cobra.Command{
	Use:   "gcstress",
	Short: "Exercise and measure a gckit garbage-collection backend",
	Long: `gcstress drives a gckit backend with synthetic object graphs: linked
structures are allocated, mutated, and abandoned over a configurable number
of rounds, with full collection cycles between rounds. It reports allocation
and collection statistics and can expose them as Prometheus metrics while
running.

Every tunable can also be set through the environment with a GCSTRESS_
prefix, e.g. GCSTRESS_HEAP_SIZE=134217728.`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		return logger.Init(logger.Options{
			Enabled: verbose || logFile,
			ToFile:  logFile,
			Level:   level,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Log to a dated file under ~/.gcstress/logs")

	viper.SetEnvPrefix("GCSTRESS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
