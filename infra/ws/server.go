// Package ws is the live-connection transport between technicians and the
// dispatch core. The read loop only routes messages into the presence
// registry and the dispatcher inbox; business logic never runs on transport
// goroutines.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldops/dispatchd/core/dispatch"
	"github.com/fieldops/dispatchd/core/model"
	"github.com/fieldops/dispatchd/core/presence"
	"github.com/fieldops/dispatchd/infra/logger"
)

// Config defines the WebSocket server settings.
type Config struct {
	Addr                string `json:"addr"`
	Path                string `json:"path"`
	SendBuffer          int    `json:"send_buffer"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	PingIntervalSeconds int    `json:"ping_interval_seconds"`
	ReadLimitBytes      int64  `json:"read_limit_bytes"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8081"
	}
	if c.Path == "" {
		c.Path = "/ws/technician"
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 32
	}
	if c.WriteTimeoutSeconds == 0 {
		c.WriteTimeoutSeconds = 10
	}
	if c.PingIntervalSeconds == 0 {
		c.PingIntervalSeconds = 30
	}
	if c.ReadLimitBytes == 0 {
		c.ReadLimitBytes = 1 << 16
	}
}

// ResponseRouter receives offer responses parsed from the wire.
type ResponseRouter interface {
	HandleResponse(dispatch.Response)
}

// Server upgrades technician connections and bridges them to the presence
// registry and the dispatcher.
type Server struct {
	cfg      Config
	registry *presence.Registry
	router   ResponseRouter
	log      logger.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server bound to the registry and router.
func NewServer(cfg Config, registry *presence.Registry, router ResponseRouter, log logger.Logger) *Server {
	cfg.SetDefaults()
	return &Server{
		cfg:      cfg,
		registry: registry,
		router:   router,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks belong to the fronting proxy; the dispatch
			// service itself is not internet-facing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler for the technician endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	return mux
}

// Run serves the technician endpoint until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infof("websocket server listening on %s%s", s.cfg.Addr, s.cfg.Path)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	technicianID := r.URL.Query().Get("technician_id")
	if technicianID == "" {
		http.Error(w, "technician_id is required", http.StatusBadRequest)
		return
	}
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade failed for %s: %v", technicianID, err)
		return
	}
	c := newConn(technicianID, wsConn,
		s.cfg.SendBuffer,
		time.Duration(s.cfg.WriteTimeoutSeconds)*time.Second,
		time.Duration(s.cfg.PingIntervalSeconds)*time.Second,
		s.log)
	wsConn.SetReadLimit(s.cfg.ReadLimitBytes)

	s.registry.Register(technicianID, c)
	go c.writePump()
	s.readLoop(technicianID, wsConn)
	s.registry.Unregister(technicianID)
	c.close()
}

// inbound is the envelope for every message a technician client may send.
type inbound struct {
	Type         string                   `json:"type"`
	JobRequestID string                   `json:"job_request_id"`
	TechnicianID string                   `json:"technician_id"`
	Decision     string                   `json:"decision"`
	Available    *bool                    `json:"available"`
	Profile      *model.TechnicianProfile `json:"profile"`
}

// readLoop parses inbound messages and routes them. It returns when the
// connection drops.
func (s *Server) readLoop(technicianID string, wsConn *websocket.Conn) {
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("read from %s failed: %v", technicianID, err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debugf("malformed message from %s discarded: %v", technicianID, err)
			continue
		}
		if err := s.route(technicianID, msg); err != nil {
			s.log.Debugf("message from %s discarded: %v", technicianID, err)
		}
	}
}

func (s *Server) route(technicianID string, msg inbound) error {
	switch msg.Type {
	case dispatch.MsgTypeOfferResponse:
		if msg.TechnicianID != "" && msg.TechnicianID != technicianID {
			return fmt.Errorf("technician id mismatch: %s", msg.TechnicianID)
		}
		if msg.JobRequestID == "" {
			return fmt.Errorf("job_request_id is required")
		}
		var accept bool
		switch msg.Decision {
		case "accept":
			accept = true
		case "reject":
			accept = false
		default:
			return fmt.Errorf("unknown decision %q", msg.Decision)
		}
		s.router.HandleResponse(dispatch.Response{
			JobRequestID: msg.JobRequestID,
			TechnicianID: technicianID,
			Accept:       accept,
		})
		return nil
	case "set_availability":
		if msg.Available == nil {
			return fmt.Errorf("available is required")
		}
		s.registry.SetAvailability(technicianID, *msg.Available)
		return nil
	case "profile_update":
		if msg.Profile == nil {
			return fmt.Errorf("profile is required")
		}
		p := *msg.Profile
		p.ID = technicianID
		return s.registry.UpsertProfile(p)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}
