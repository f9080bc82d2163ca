package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/glmlink/internal/device"
	goble "github.com/srg/glmlink/internal/device/go-ble"
	"github.com/srg/glmlink/pkg/config"
)

// newRadio returns the transport capabilities for the commands (can be overridden in tests)
var newRadio = func(logger *logrus.Logger) (device.Scanner, device.Connector) {
	adapter := goble.NewAdapter(logger)
	return adapter, adapter
}

// loadConfig reads --config and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
