// Package session runs one connection attempt against the rangefinder: open the
// link, subscribe to measurement notifications, enable auto-send, then stream until
// stopped or the link fails. A session never retries.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/glm"
	"github.com/srg/glmlink/internal/groutine"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultQueueSize      = 128
)

// Options configures a Session.
type Options struct {
	ConnectTimeout time.Duration
	// QueueSize bounds the raw notification queue. When the decoder falls behind,
	// the oldest frames are overwritten.
	QueueSize uint32
	CharUUID  string
}

// Session opens links through a device.Connector. It holds no per-attempt state,
// so one Session value can serve every attempt made by a supervisor.
type Session struct {
	connector device.Connector
	opts      Options
	logger    *logrus.Logger
}

// New validates opts and returns a Session. An empty CharUUID selects the
// measurement characteristic.
func New(connector device.Connector, opts Options, logger *logrus.Logger) (*Session, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.CharUUID == "" {
		opts.CharUUID = glm.MeasurementCharUUID
	}
	if _, err := device.ValidateUUID(opts.CharUUID); err != nil {
		return nil, fmt.Errorf("invalid characteristic: %w", err)
	}
	return &Session{connector: connector, opts: opts, logger: logger}, nil
}

// Run performs one attempt against target and blocks until ctx is cancelled or the
// link fails.
//
// Opening the link, subscribing and the activation write share one ConnectTimeout
// budget. onSubscribed is called once the notification subscription is in place.
// Every decoded measurement is passed to onMeasurement, in arrival order, from a
// single goroutine, and only after onSubscribed has returned; frames that arrive
// earlier are held in the queue. Neither callback is invoked after Run returns.
//
// Run returns nil when ctx was cancelled, *ConnectError when the link could not be
// opened and *StreamError for any later failure. Teardown errors are logged and
// never returned.
func (s *Session) Run(ctx context.Context, target device.Descriptor, onMeasurement func(valueMeters float64), onSubscribed func()) error {
	log := s.logger.WithFields(logrus.Fields{
		"device":  target.Name,
		"address": target.Address,
	})

	connectCtx, cancelConnect := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancelConnect()

	link, err := s.connector.Dial(connectCtx, target.Address)
	if err != nil {
		return &ConnectError{Address: target.Address, Err: err}
	}
	if !link.IsConnected() {
		if dErr := link.Disconnect(); dErr != nil {
			log.WithError(dErr).Debug("Disconnect after spurious dial success failed")
		}
		return &ConnectError{Address: target.Address, Err: device.ErrNotConnected}
	}

	streamCtx, stopStream := context.WithCancel(ctx)
	queue := mpmc.NewOverlappedRingBuffer[[]byte](s.opts.QueueSize)
	wake := make(chan struct{}, 1)
	ready := make(chan struct{})

	decoderDone := groutine.Start(streamCtx, "glm-session-decoder", func(decCtx context.Context) {
		log := log.WithField("goroutine", groutine.GetName(decCtx))
		select {
		case <-decCtx.Done():
			return
		case <-ready:
		}
		for {
			for !queue.IsEmpty() {
				payload, qErr := queue.Dequeue()
				if qErr != nil {
					break
				}
				if decCtx.Err() != nil {
					return
				}
				s.handleFrame(log, payload, onMeasurement)
			}
			select {
			case <-decCtx.Done():
				return
			case <-wake:
			}
		}
	})

	subscribed := false
	defer func() {
		if subscribed {
			if uErr := link.Unsubscribe(s.opts.CharUUID); uErr != nil {
				log.WithError(uErr).Debug("Unsubscribe during teardown failed")
			}
		}
		stopStream()
		<-decoderDone
		if dErr := link.Disconnect(); dErr != nil {
			log.WithError(dErr).Debug("Disconnect during teardown failed")
		}
	}()

	// The transport may call this from its own goroutine; copy and hand off.
	onNotify := func(data []byte) {
		payload := make([]byte, len(data))
		copy(payload, data)
		if overwrites, qErr := queue.EnqueueM(payload); qErr != nil {
			log.WithError(qErr).Warn("Notification queue rejected frame")
			return
		} else if overwrites > 0 {
			log.WithField("dropped", overwrites).Warn("Notification queue full, oldest frames dropped")
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	err = s.bounded(connectCtx, "glm-session-subscribe", func() error {
		return link.Subscribe(s.opts.CharUUID, onNotify)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &StreamError{Op: "subscribe", Err: err}
	}
	subscribed = true
	log.WithField("char_uuid", device.ShortenUUID(device.NormalizeUUID(s.opts.CharUUID))).Debug("Subscribed to measurement notifications")
	if onSubscribed != nil {
		onSubscribed()
	}
	close(ready)

	err = s.bounded(connectCtx, "glm-session-activate", func() error {
		return link.Write(s.opts.CharUUID, glm.ActivationCommand, true)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &StreamError{Op: "activate", Err: err}
	}
	cancelConnect()
	log.Debug("Auto-send enabled")

	linkCtx := link.ConnectionContext()
	select {
	case <-ctx.Done():
		return nil
	case <-linkCtx.Done():
		// A stop request may race with the drop it causes.
		if ctx.Err() != nil {
			return nil
		}
		cause := context.Cause(linkCtx)
		if cause == nil || errors.Is(cause, context.Canceled) {
			cause = device.ErrNotConnected
		}
		return &StreamError{Op: "link", Err: cause}
	}
}

// bounded runs a link call that takes no context and gives up when ctx ends. A call
// that outlives ctx is abandoned; the teardown disconnect releases it.
func (s *Session) bounded(ctx context.Context, name string, call func() error) error {
	result := make(chan error, 1)
	groutine.Go(ctx, name, func(context.Context) {
		result <- call()
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: no response within %s", device.ErrTimeout, s.opts.ConnectTimeout)
		}
		return ctx.Err()
	}
}

func (s *Session) handleFrame(log *logrus.Entry, payload []byte, onMeasurement func(float64)) {
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		log.WithFields(logrus.Fields{
			"len": len(payload),
			"hex": spacedHex(payload),
		}).Debug("Frame received")
	}

	value, ok := glm.Decode(payload)
	if !ok {
		log.WithField("len", len(payload)).Debug("Frame ignored")
		return
	}
	if onMeasurement != nil {
		onMeasurement(value)
	}
}

func spacedHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s := hex.EncodeToString(b)
	out := make([]byte, 0, len(s)+len(b)-1)
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, s[i], s[i+1])
	}
	return string(out)
}
