// Package stream keeps a logical connection to the rangefinder alive across link
// drops and publishes measurements and link status to observers.
package stream

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/glmlink/internal/broadcast"
	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/locator"
	"github.com/srg/glmlink/internal/session"
)

// State of the reconnect loop.
type State int

const (
	StateIdle State = iota
	StateLocating
	StateConnecting
	StateStreaming
	StateBackoffWait
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocating:
		return "locating"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoffWait:
		return "backoff_wait"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Locator finds the device for one attempt.
type Locator interface {
	Locate(ctx context.Context) (device.Descriptor, error)
}

// SessionRunner runs one connection attempt; see session.Session.Run.
type SessionRunner interface {
	Run(ctx context.Context, target device.Descriptor, onMeasurement func(valueMeters float64), onSubscribed func()) error
}

var (
	ErrAlreadyRunning = errors.New("supervisor is already running")
	errSessionEnded   = errors.New("session ended without error")
)

// IsRetryable reports whether err is one of the failures the reconnect loop
// recovers from by itself.
func IsRetryable(err error) bool {
	var (
		notFound *locator.NotFoundError
		connErr  *session.ConnectError
		strErr   *session.StreamError
	)
	return errors.As(err, &notFound) || errors.As(err, &connErr) || errors.As(err, &strErr)
}

type Options struct {
	BackoffFloor   time.Duration
	BackoffFactor  float64
	BackoffCeiling time.Duration
	Clock          Clock
}

// Supervisor owns the retry loop and the connection status. Run is its only writer
// of status and history; Status and State may be read from any goroutine.
type Supervisor struct {
	locator  Locator
	sessions SessionRunner
	history  *History
	events   *broadcast.Broadcaster[Event]
	backoff  *Backoff
	clock    Clock
	logger   *logrus.Logger

	// emitMu makes reading a status and publishing it one step, so a published
	// status is never older than one published before it.
	emitMu sync.Mutex

	mu      sync.RWMutex
	status  Status
	state   State
	running bool
	stopped bool
	cancel  context.CancelFunc
}

func NewSupervisor(loc Locator, sessions SessionRunner, history *History, events *broadcast.Broadcaster[Event], opts Options, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if history == nil {
		history = NewHistory(0)
	}
	if events == nil {
		events = broadcast.New[Event](logger)
	}
	return &Supervisor{
		locator:  loc,
		sessions: sessions,
		history:  history,
		events:   events,
		backoff:  NewBackoff(opts.BackoffFloor, opts.BackoffFactor, opts.BackoffCeiling),
		clock:    opts.Clock,
		logger:   logger,
		state:    StateIdle,
	}
}

// Status returns a copy of the current connection status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stop ends Run: an in-flight backoff wait returns at once, an active session tears
// down at its next suspension point and no further attempt is made. Calling Stop
// before Run makes Run return immediately.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the reconnect loop until ctx is cancelled or Stop is called, and
// returns nil in both cases. Failures never end the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.stopped {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.status.Connected = false
		s.state = StateStopped
		s.running = false
		s.cancel = nil
		s.mu.Unlock()

		s.PublishStatus()
		s.logger.Info("Stream stopped")
	}()

	s.PublishStatus()

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.attempt(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errSessionEnded
		}

		wasConnected := s.setDisconnected()
		st := s.PublishStatus()
		if wasConnected {
			s.logger.WithFields(logrus.Fields{
				"device":  st.DeviceName,
				"address": st.DeviceAddress,
			}).Info("Rangefinder disconnected")
		}

		wait := s.backoff.Fail()
		s.setState(StateBackoffWait)
		s.logger.WithFields(logrus.Fields{
			"error":     err,
			"retryable": IsRetryable(err),
			"retry_in":  wait,
		}).Warn("Stream attempt failed")

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context) error {
	s.setState(StateLocating)
	target, err := s.locator.Locate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.status.DeviceName = target.Name
	s.status.DeviceAddress = target.Address
	s.state = StateConnecting
	s.mu.Unlock()

	return s.sessions.Run(ctx, target, s.acceptMeasurement, s.markConnected)
}

func (s *Supervisor) markConnected() {
	s.mu.Lock()
	s.status.Connected = true
	s.advanceLastSeen(s.clock.Now())
	s.state = StateStreaming
	s.mu.Unlock()

	s.backoff.Reset()
	st := s.PublishStatus()
	s.logger.WithFields(logrus.Fields{
		"device":  st.DeviceName,
		"address": st.DeviceAddress,
	}).Info("Rangefinder connected")
}

func (s *Supervisor) acceptMeasurement(valueMeters float64) {
	if math.IsNaN(valueMeters) || math.IsInf(valueMeters, 0) {
		s.logger.WithField("value_m", valueMeters).Debug("Non-finite measurement dropped")
		return
	}
	m := s.history.Push(valueMeters, s.clock.Now())

	s.mu.Lock()
	s.advanceLastSeen(m.Timestamp)
	s.mu.Unlock()

	s.logger.WithField("value_m", valueMeters).Debug("Measurement accepted")
	s.events.Publish(MeasureEvent(m))
	s.PublishStatus()
}

// PublishStatus publishes the current status and returns it. The app heartbeat uses
// it too, so a periodic status can never overtake a transition.
func (s *Supervisor) PublishStatus() Status {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	st := s.Status()
	s.events.Publish(StatusEvent(st))
	return st
}

// advanceLastSeen must be called with mu held.
func (s *Supervisor) advanceLastSeen(t time.Time) {
	if t.After(s.status.LastSeen) {
		s.status.LastSeen = t
	}
}

func (s *Supervisor) setDisconnected() (was bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	was = s.status.Connected
	s.status.Connected = false
	return was
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
