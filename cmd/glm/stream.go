package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/glmlink/internal/app"
	"github.com/srg/glmlink/internal/groutine"
	"github.com/srg/glmlink/pkg/config"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream measurements to the terminal",
	Long: `Connect to the rangefinder and print every measurement as it arrives.

The link is re-established automatically when it drops. On a terminal the
output is human-readable; when piped, every measurement and status event is
written as one JSON object per line.

Press Ctrl+C to stop.`,
	RunE: runStream,
}

var (
	streamFormat  string
	streamNoColor bool
)

func init() {
	streamCmd.Flags().StringVarP(&streamFormat, "format", "f", config.OutputAuto, "Output format (auto, text, json)")
	streamCmd.Flags().BoolVar(&streamNoColor, "no-color", false, "Disable colored output")
}

func runStream(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(streamFormat); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		cfg.OutputFormat = streamFormat
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	scanner, connector := newRadio(logger)
	a, err := app.New(cfg, scanner, connector, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	format := resolveFormat(cfg.OutputFormat, out)
	printer := newEventPrinter(out, format, !streamNoColor && !color.NoColor && isTerminal(out))

	return streamEvents(ctx, a, printer)
}

// streamEvents runs a and prints its events until ctx ends. The subscriber is
// registered before Run so the initial status is never missed.
func streamEvents(ctx context.Context, a *app.App, printer *eventPrinter) error {
	sub, unsubscribe := a.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	runDone := groutine.Start(ctx, "glm-stream-run", func(ctx context.Context) {
		runErr = a.Run(ctx)
	})

	for {
		select {
		case <-runDone:
			return runErr
		case e, ok := <-sub.C():
			if !ok {
				cancel()
				<-runDone
				return ErrOutputStalled
			}
			if err := printer.Print(e); err != nil {
				cancel()
				<-runDone
				return err
			}
		}
	}
}
