package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "heapctl",
	Short: "Exercise the GPU allocators on a software device",
	Long: `heapctl drives the buffer, model and descriptor pools against a software
device that needs no GPU. It replays synthetic streaming workloads and prints
the resulting allocator statistics, which makes it useful for tuning heap and
page sizes and for spotting leaks.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every allocator call to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger returns the logger handed to the allocators. Allocator debug output is only enabled
// with --verbose.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// printStep prints one line of human readable progress, suppressed in JSON mode
func printStep(w io.Writer, format string, args ...interface{}) {
	if !jsonOut {
		fmt.Fprintf(w, format, args...)
	}
}
