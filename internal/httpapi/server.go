// Package httpapi exposes the stream over HTTP: a health snapshot, the measurement
// history and a websocket event feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/srg/glmlink/internal/app"
	"github.com/srg/glmlink/internal/stream"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	app    *app.App
	logger *logrus.Logger
}

func NewServer(a *app.App, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = a.Logger()
	}
	return &Server{app: a, logger: logger}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/measures", s.measuresHandler)
	mux.HandleFunc("/ws", s.wsHandler)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.ServeMux(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	BLEConnected  bool     `json:"ble_connected"`
	DeviceName    *string  `json:"device_name"`
	DeviceAddress *string  `json:"device_address"`
	LastSeenTS    *float64 `json:"last_seen_ts"`
	LastMeasureM  *float64 `json:"last_measure_m"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.app.Snapshot()
	resp := healthResponse{
		BLEConnected: snap.Connected,
		LastMeasureM: snap.LatestValueM,
	}
	if snap.DeviceName != "" {
		resp.DeviceName = &snap.DeviceName
	}
	if snap.DeviceAddress != "" {
		resp.DeviceAddress = &snap.DeviceAddress
	}
	if !snap.LastSeen.IsZero() {
		ts := stream.UnixSeconds(snap.LastSeen)
		resp.LastSeenTS = &ts
	}
	s.writeJSON(w, resp)
}

func (s *Server) measuresHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.app.History().Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("Failed to write JSON response")
	}
}

// wsHandler sends the current status and latest measurement, then every published
// event until the client goes away or falls too far behind.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	log := s.logger.WithField("remote", r.RemoteAddr)

	sub, unsubscribe := s.app.Subscribe()
	defer unsubscribe()

	// Client messages are ignored; CloseRead cancels ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())

	if err := s.write(ctx, conn, stream.StatusEvent(s.app.Supervisor().Status())); err != nil {
		log.WithError(err).Debug("Websocket initial status failed")
		return
	}
	if m, ok := s.app.History().Latest(); ok {
		if err := s.write(ctx, conn, stream.MeasureEvent(m)); err != nil {
			log.WithError(err).Debug("Websocket initial measurement failed")
			return
		}
	}
	log.Debug("Websocket client connected")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Websocket client disconnected")
			return
		case event, ok := <-sub.C():
			if !ok {
				log.WithError(sub.Err()).Warn("Websocket client dropped")
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := s.write(ctx, conn, event); err != nil {
				log.WithError(err).Debug("Websocket write failed")
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, event stream.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
