// Command msqlsrv-demo is a reference server built on package msqlsrv: it
// terminates the MySQL wire protocol against a tiny in-memory catalog,
// wiring in the ambient stack (YAML config with hot-reload, Prometheus
// metrics, an optional htpasswd credential check, and a structured logger)
// the way the teacher proxy wires its own.
package main

import (
	"crypto/tls"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dbbouncer/msqlsrv"
	"github.com/dbbouncer/msqlsrv/internal/admin"
	"github.com/dbbouncer/msqlsrv/internal/auth"
	"github.com/dbbouncer/msqlsrv/internal/config"
	"github.com/dbbouncer/msqlsrv/internal/metrics"
)

func main() {
	configPath := flag.String("config", "configs/msqlsrv-demo.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	logger.Info("msqlsrv-demo starting", "config", *configPath)

	m := metrics.New()

	var credChecker msqlsrv.CredentialChecker
	if cfg.Auth.RequireCredentialCheck {
		checker, err := auth.LoadHtpasswd(cfg.Auth.HtpasswdFile)
		if err != nil {
			logger.Error("failed to load htpasswd file", "err", err)
			os.Exit(1)
		}
		credChecker = checker
		logger.Info("credential check enabled", "file", cfg.Auth.HtpasswdFile)
	}

	var tlsConfig *tls.Config
	if cfg.Listen.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.Listen.TLSCert, cfg.Listen.TLSKey)
		if err != nil {
			logger.Error("failed to load TLS cert/key, TLS disabled", "err", err)
		} else {
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			logger.Info("TLS enabled", "cert", cfg.Listen.TLSCert)
		}
	}

	handler := newDemoHandler(tlsConfig)

	srv := newDemoServer(cfg, handler, m, credChecker, logger)
	if err := srv.ListenMySQL(); err != nil {
		logger.Error("failed to start MySQL listener", "err", err)
		os.Exit(1)
	}

	adminServer := admin.NewServer(m, cfg.Server.Version, logger)
	if err := adminServer.Start(cfg.Listen.AdminAddr); err != nil {
		logger.Error("failed to start admin server", "err", err)
		os.Exit(1)
	}

	watcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		logger.Info("configuration reloaded")
		srv.updateConfig(newCfg)
	})
	if err != nil {
		logger.Warn("config hot-reload not available", "err", err)
	}

	logger.Info("msqlsrv-demo ready", "mysql_addr", cfg.Listen.MySQLAddr, "admin_addr", cfg.Listen.AdminAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	if watcher != nil {
		watcher.Stop()
	}
	adminServer.Stop()
	srv.Stop()

	logger.Info("msqlsrv-demo stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

// demoServer owns the MySQL accept loop, mirroring the teacher proxy's
// Server: a listener, a WaitGroup tracking in-flight connections, and a
// mutex-guarded closing flag for graceful shutdown.
type demoServer struct {
	cfg         *config.Config
	handler     msqlsrv.Handler
	metrics     *metrics.Collector
	credChecker msqlsrv.CredentialChecker
	logger      *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closing  bool
}

func newDemoServer(cfg *config.Config, handler msqlsrv.Handler, m *metrics.Collector, cc msqlsrv.CredentialChecker, logger *slog.Logger) *demoServer {
	return &demoServer{cfg: cfg, handler: handler, metrics: m, credChecker: cc, logger: logger}
}

func (s *demoServer) ListenMySQL() error {
	ln, err := net.Listen("tcp", s.cfg.Listen.MySQLAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("MySQL listener up", "addr", s.cfg.Listen.MySQLAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

func (s *demoServer) acceptLoop(ln net.Listener) {
	id := s.cfg.Server.ConnectionID
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			s.logger.Error("accept error", "err", err)
			continue
		}

		connID := id
		id++
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()

			opts := []msqlsrv.Option{
				msqlsrv.WithServerVersion(s.cfg.Server.Version),
				msqlsrv.WithConnectionID(connID),
				msqlsrv.WithMetrics(s.metrics),
			}
			if s.credChecker != nil {
				opts = append(opts, msqlsrv.WithCredentialChecker(s.credChecker))
			}

			if err := msqlsrv.Serve(conn, s.handler, opts...); err != nil {
				s.logger.Warn("connection ended with error", "conn_id", connID, "err", err)
			}
		}()
	}
}

func (s *demoServer) updateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *demoServer) Stop() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}
