// Package app wires the stream components into one explicitly constructed context
// object shared by the CLI and the HTTP layer.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/glmlink/internal/broadcast"
	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/groutine"
	"github.com/srg/glmlink/internal/locator"
	"github.com/srg/glmlink/internal/session"
	"github.com/srg/glmlink/internal/stream"
	"github.com/srg/glmlink/pkg/config"
)

// Snapshot is the synchronous view of link health used by status endpoints.
type Snapshot struct {
	Connected     bool
	DeviceName    string
	DeviceAddress string
	LastSeen      time.Time
	LatestValueM  *float64
}

// App owns the measurement history, the event broadcaster and the supervisor.
type App struct {
	cfg        *config.Config
	logger     *logrus.Logger
	history    *stream.History
	events     *broadcast.Broadcaster[stream.Event]
	supervisor *stream.Supervisor
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	clock    stream.Clock
	locator  stream.Locator
	sessions stream.SessionRunner
}

// WithClock replaces the wall clock used for timestamps and backoff.
func WithClock(c stream.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLocator replaces the scanner-backed locator.
func WithLocator(l stream.Locator) Option {
	return func(o *options) { o.locator = l }
}

// WithSessions replaces the connector-backed session runner.
func WithSessions(s stream.SessionRunner) Option {
	return func(o *options) { o.sessions = s }
}

// New builds the application context. scanner and connector may be nil only when
// the matching WithLocator / WithSessions option is given.
func New(cfg *config.Config, scanner device.Scanner, connector device.Connector, logger *logrus.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.locator == nil {
		if scanner == nil {
			return nil, errors.New("a device scanner is required")
		}
		o.locator = locator.New(scanner, locator.Options{
			Timeout:       cfg.ScanTimeout,
			NameHints:     cfg.NameHints,
			AddressPrefix: cfg.AddressPrefix,
		}, logger)
	}
	if o.sessions == nil {
		if connector == nil {
			return nil, errors.New("a device connector is required")
		}
		sessions, err := session.New(connector, session.Options{
			ConnectTimeout: cfg.ConnectTimeout,
			QueueSize:      cfg.NotifyBuffer,
		}, logger)
		if err != nil {
			return nil, err
		}
		o.sessions = sessions
	}

	history := stream.NewHistory(cfg.HistoryLimit)
	events := broadcast.New[stream.Event](logger)
	supervisor := stream.NewSupervisor(o.locator, o.sessions, history, events, stream.Options{
		BackoffFloor:   cfg.BackoffFloor,
		BackoffFactor:  cfg.BackoffFactor,
		BackoffCeiling: cfg.BackoffCeiling,
		Clock:          o.clock,
	}, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		history:    history,
		events:     events,
		supervisor: supervisor,
	}, nil
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Logger() *logrus.Logger { return a.logger }
func (a *App) History() *stream.History { return a.history }
func (a *App) Broadcaster() *broadcast.Broadcaster[stream.Event] { return a.events }
func (a *App) Supervisor() *stream.Supervisor { return a.supervisor }

// Snapshot returns the current status plus the latest measurement, if any.
func (a *App) Snapshot() Snapshot {
	st := a.supervisor.Status()
	snap := Snapshot{
		Connected:     st.Connected,
		DeviceName:    st.DeviceName,
		DeviceAddress: st.DeviceAddress,
		LastSeen:      st.LastSeen,
	}
	if m, ok := a.history.Latest(); ok {
		v := m.ValueMeters
		snap.LatestValueM = &v
	}
	return snap
}

// Subscribe registers a buffered channel subscriber sized by subscriber_buffer.
// The returned cancel function unregisters and closes it.
func (a *App) Subscribe() (*broadcast.ChannelSubscriber[stream.Event], func()) {
	sub := broadcast.NewChannelSubscriber[stream.Event](a.cfg.SubscriberBuffer)
	h := a.events.Register(sub)
	return sub, func() {
		a.events.Unregister(h)
		sub.Close()
	}
}

// Run streams until ctx is cancelled or Stop is called. While running, the current
// status is also re-published every status_interval.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var heartbeatDone <-chan struct{}
	if a.cfg.StatusInterval > 0 {
		heartbeatDone = groutine.Start(ctx, "glm-status-heartbeat", func(ctx context.Context) {
			ticker := time.NewTicker(a.cfg.StatusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.supervisor.PublishStatus()
				}
			}
		})
	}

	err := a.supervisor.Run(ctx)
	cancel()
	if heartbeatDone != nil {
		<-heartbeatDone
	}
	return err
}

func (a *App) Stop() {
	a.supervisor.Stop()
}
