package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/glmlink/internal/locator"
	"github.com/srg/glmlink/pkg/config"
)

// locateCmd represents the locate command
var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Find the rangefinder among nearby devices",
	Long: `Run one discovery scan and report the rangefinder it would connect to.

A device matches when its advertised name contains one of the configured name
hints (case-insensitive) or, when no name matches, its address starts with the
vendor prefix. On a miss, every device seen during the scan is listed.`,
	RunE: runLocate,
}

var (
	locateTimeout time.Duration
	locateFormat  string
)

func init() {
	locateCmd.Flags().DurationVarP(&locateTimeout, "timeout", "t", 0, "Scan window (default from config, 12s)")
	locateCmd.Flags().StringVarP(&locateFormat, "format", "f", config.OutputAuto, "Output format (auto, text, json)")
}

func validateFormat(format string) error {
	switch format {
	case config.OutputAuto, config.OutputText, config.OutputJSON:
		return nil
	}
	return fmt.Errorf("invalid format '%s': must be one of [auto text json]", format)
}

func runLocate(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(locateFormat); err != nil {
		return err
	}
	if locateTimeout < 0 {
		return fmt.Errorf("invalid timeout %s: must not be negative", locateTimeout)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if locateTimeout > 0 {
		cfg.ScanTimeout = locateTimeout
	}
	if cmd.Flags().Changed("format") {
		cfg.OutputFormat = locateFormat
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	scanner, _ := newRadio(logger)
	loc := locator.New(scanner, locator.Options{
		Timeout:       cfg.ScanTimeout,
		NameHints:     cfg.NameHints,
		AddressPrefix: cfg.AddressPrefix,
	}, logger)

	out := cmd.OutOrStdout()
	format := resolveFormat(cfg.OutputFormat, out)

	found, err := loc.Locate(ctx)
	var notFound *locator.NotFoundError
	if errors.As(err, &notFound) {
		if perr := printLocateResult(out, format, found, notFound); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		return err
	}
	return printLocateResult(out, format, found, nil)
}
