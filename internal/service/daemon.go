// Package service provides the core service lifecycle management.
package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/archlens/archlens/internal/config"
	"github.com/archlens/archlens/internal/logger"
)

// Daemon manages the service lifecycle: HTTP listener, PID file, and
// graceful shutdown on signal.
type Daemon struct {
	cfg       *config.Config
	server    *http.Server
	logger    arbor.ILogger
	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewDaemon creates a new daemon instance.
func NewDaemon(cfg *config.Config) *Daemon {
	return &Daemon{
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start starts the daemon with the given HTTP handler.
func (d *Daemon) Start(handler http.Handler) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.mu.Unlock()

	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	d.logger = logger.SetupLogger(d.cfg)

	if err := d.writePID(); err != nil {
		return fmt.Errorf("write PID: %w", err)
	}

	d.server = &http.Server{
		Addr:         d.cfg.Address(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		d.logger.Info().Str("address", d.cfg.Address()).Msg("starting server")
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("server error")
		}
	}()

	return nil
}

// Wait blocks until a termination signal arrives or Stop is called, then
// shuts the daemon down.
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case <-d.stopCh:
		d.logger.Info().Msg("stop requested, shutting down")
	}

	d.shutdown()
}

// Stop signals the daemon to stop and waits for shutdown to complete.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	d.mu.Unlock()

	<-d.stoppedCh
}

// shutdown performs graceful shutdown within the configured timeout.
func (d *Daemon) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	timeout := time.Duration(d.cfg.Service.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Error().Err(err).Msg("server shutdown error")
		}
	}

	d.removePID()
	logger.Stop()

	d.running = false
	close(d.stoppedCh)
}

// writePID writes the current process PID to a file.
func (d *Daemon) writePID() error {
	pidPath := d.cfg.PIDPath()
	if err := os.MkdirAll(filepath.Dir(pidPath), 0755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// removePID removes the PID file.
func (d *Daemon) removePID() {
	_ = os.Remove(d.cfg.PIDPath())
}

// IsRunning checks whether a daemon is already running per its PID file.
func IsRunning(cfg *config.Config) (bool, int) {
	pidPath := cfg.PIDPath()

	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		return false, 0
	}

	return true, pid
}

// StopRunning stops a running daemon identified by its PID file.
func StopRunning(cfg *config.Config) error {
	running, pid := IsRunning(cfg)
	if !running {
		return fmt.Errorf("daemon not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if running, _ := IsRunning(cfg); !running {
			return nil
		}
	}

	if err := process.Kill(); err != nil {
		return fmt.Errorf("kill process: %w", err)
	}

	_ = os.Remove(cfg.PIDPath())
	return nil
}

// Logger returns the daemon's logger.
func (d *Daemon) Logger() arbor.ILogger {
	return d.logger
}
