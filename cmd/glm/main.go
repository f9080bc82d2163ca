package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "glm",
	Short: "Bosch GLM laser rangefinder link",
	Long: `Keeps a Bluetooth LE link to a Bosch GLM laser rangefinder and streams its measurements:

- Locate the rangefinder among nearby devices
- Stream measurements and link status to the terminal
- Serve a health endpoint, measurement history and a websocket event feed

The link is re-established automatically, with backoff, whenever it drops.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("glm %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(serveCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging, including raw frames")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
