// Package frontend wires the session table, the authority link and the admin
// HTTP surface into one runnable process.
package frontend

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/charlink/internal/link"
	"github.com/danmuck/charlink/internal/plugins"
	"github.com/danmuck/charlink/internal/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrInvalidHeartbeatInterval = errors.New("frontend: invalid heartbeat interval")

// Config is the whole process configuration.
type Config struct {
	Link              link.Config
	Admin             AdminConfig
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration

	// DiscardOpcodes are authority messages this deployment accepts and ignores.
	DiscardOpcodes []uint16
	Plugins        []plugins.Plugin
}

func DefaultConfig() Config {
	return Config{
		Link:              link.DefaultConfig(),
		Admin:             AdminConfig{QueryTimeout: 2 * time.Second},
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Service runs one front-end until its context ends or the authority refuses it.
type Service struct {
	cfg     Config
	table   *sessions.Table
	link    *link.Supervisor
	admin   *Admin
	plugins *plugins.Registry
	logger  zerolog.Logger
}

func NewService(cfg Config, opts ...link.Option) (*Service, error) {
	if cfg.HeartbeatInterval <= 0 {
		return nil, ErrInvalidHeartbeatInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	table := sessions.NewTable()
	sup, err := link.New(cfg.Link, table, opts...)
	if err != nil {
		return nil, err
	}
	node := sup.Config().Node
	s := &Service{
		cfg:     cfg,
		table:   table,
		link:    sup,
		plugins: plugins.NewRegistry(),
		logger:  log.Logger.With().Str("component", "frontend.Service").Str("node", node).Logger(),
	}
	if err := s.installPlugins(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Admin.ListenAddr) != "" {
		s.admin = NewAdmin(node, cfg.Admin, sup)
	}
	sup.OnFirstReady(func() {
		s.logger.Info().Msg("frontend.Service link ready for the first time")
	})
	sup.OnReady(func() {
		attached, online := table.Counts()
		s.logger.Info().Int("attached", attached).Int("online", online).Msg("frontend.Service link ready")
	})
	return s, nil
}

func (s *Service) installPlugins() error {
	if len(s.cfg.DiscardOpcodes) > 0 {
		if err := s.plugins.Register(plugins.Discard{Opcodes: s.cfg.DiscardOpcodes}); err != nil {
			return err
		}
	}
	for _, p := range s.cfg.Plugins {
		if err := s.plugins.Register(p); err != nil {
			return err
		}
	}
	n, err := s.plugins.Install(s.link)
	if err != nil {
		return err
	}
	if n > 0 {
		names := make([]string, 0, len(s.cfg.Plugins)+1)
		for _, p := range s.plugins.All() {
			names = append(names, p.Name())
		}
		s.logger.Info().Strs("plugins", names).Int("handlers", n).Msg("frontend.Service plugins installed")
	}
	return nil
}

func (s *Service) Plugins() *plugins.Registry {
	return s.plugins
}

func (s *Service) Link() *link.Supervisor {
	return s.link
}

func (s *Service) Sessions() *sessions.Table {
	return s.table
}

// Admin returns the admin surface, or nil when it is disabled.
func (s *Service) Admin() *Admin {
	return s.admin
}

// Run blocks until SIGINT/SIGTERM or a fatal link error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the link and the admin surface until ctx ends. A fatal link
// rejection is returned after the admin surface is shut down.
func (s *Service) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	linkErr := make(chan error, 1)
	go func() { linkErr <- s.link.Run(ctx) }()

	adminErr := make(chan error, 1)
	var srv *http.Server
	if s.admin != nil {
		srv = &http.Server{
			Addr:              s.cfg.Admin.ListenAddr,
			Handler:           s.admin.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.logger.Info().Str("addr", srv.Addr).Msg("frontend.Service admin listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
			}
		}()
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var result error
loop:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("frontend.Service.serve shutdown")
			break loop
		case err := <-linkErr:
			linkErr = nil
			if err != nil {
				s.logger.Error().Err(err).Msg("frontend.Service link stopped")
				result = err
			}
			break loop
		case err := <-adminErr:
			s.logger.Error().Err(err).Msg("frontend.Service admin failed")
			result = err
			break loop
		case <-ticker.C:
			st := s.link.Status()
			attached, online := s.table.Counts()
			s.logger.Info().
				Str("state", st.State).
				Int("attempt", st.Attempt).
				Uint32("authority_users", st.UserCount).
				Int("pending_auth", st.PendingAuth).
				Int("attached", attached).
				Int("online", online).
				Msg("frontend.Service.heartbeat")
		}
	}

	cancel()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("frontend.Service admin shutdown")
		}
		done()
	}
	if linkErr != nil {
		select {
		case err := <-linkErr:
			if result == nil {
				result = err
			}
		case <-time.After(s.cfg.ShutdownTimeout):
			s.logger.Warn().Msg("frontend.Service link did not stop in time")
		}
	}
	return result
}
