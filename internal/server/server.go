package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/metrics"
	"github.com/BioHazard786/tandem/internal/signaling"
)

// Server is the relay process: an HTTP server in front of one hub.
type Server struct {
	cfg     *config.Server
	hub     *signaling.Hub
	metrics *metrics.Metrics
	srv     *http.Server
}

func New(cfg *config.Server) *Server {
	m := metrics.New()
	hub := signaling.NewHub(signaling.Options{
		SendQueueSize:  cfg.SendQueueSize,
		MaxMessageSize: cfg.MaxMessageSize,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
	}, m)

	return &Server{
		cfg:     cfg,
		hub:     hub,
		metrics: m,
		srv: &http.Server{
			Addr:    cfg.Listen,
			Handler: NewRouter(cfg, hub, m),
		},
	}
}

func (s *Server) Hub() *signaling.Hub        { return s.hub }
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("Starting signaling server")
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes every websocket.
// Hijacked websocket connections are not tracked by http.Server, so the hub
// closes them itself.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.hub.Close()
	return err
}
