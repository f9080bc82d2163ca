package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/srg/glmlink/internal/app"
	"github.com/srg/glmlink/internal/groutine"
	"github.com/srg/glmlink/internal/httpapi"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream measurements over HTTP and websocket",
	Long: `Connect to the rangefinder and serve its measurements:

  GET /health         link status and latest measurement
  GET /api/measures   measurement history
  GET /ws             websocket feed of status and measure events

The link is re-established automatically when it drops; the server keeps
answering while the rangefinder is away.`,
	RunE: runServe,
}

var serveListen string

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (default from config, 127.0.0.1:8000)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.ListenAddr = serveListen
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	scanner, connector := newRadio(logger)
	a, err := app.New(cfg, scanner, connector, logger)
	if err != nil {
		return err
	}

	return serve(ctx, a, cfg.ListenAddr)
}

// serve runs the stream and the HTTP server side by side; whichever ends first
// stops the other.
func serve(ctx context.Context, a *app.App, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	runDone := groutine.Start(ctx, "glm-serve-stream", func(ctx context.Context) {
		runErr = a.Run(ctx)
	})

	err := httpapi.NewServer(a, a.Logger()).ListenAndServe(ctx, addr)
	cancel()
	<-runDone

	if err != nil {
		return err
	}
	return runErr
}
