// Package pamsock implements the local control channel: a Unix domain
// socket accepting framed PAM requests from unprivileged client
// processes. Each accepted connection is served by its own goroutine
// so one slow directory round-trip never blocks unrelated clients.
package pamsock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/metrics"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/pam"
)

// Adapter owns the Unix socket listener and the per-connection
// goroutines.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (in-flight requests observe it)
//  4. Wait for active connections up to the shutdown timeout
//  5. Force-close whatever remains
//
// All methods are safe for concurrent use; shutdown is idempotent via
// sync.Once.
type Adapter struct {
	config  config.SocketConfig
	handler *pam.Handler

	// metrics is optional; nil disables collection.
	metrics metrics.PAMMetrics

	// shutdownTimeout bounds the graceful-shutdown wait.
	shutdownTimeout time.Duration

	listener      net.Listener
	listenerMu    sync.RWMutex
	listenerReady chan struct{}

	// activeConns tracks running connection goroutines for shutdown.
	activeConns sync.WaitGroup

	// activeConnections maps connection id to net.Conn for forced
	// closure after the shutdown timeout.
	activeConnections sync.Map

	connCount atomic.Int32

	// connSemaphore limits concurrent connections when
	// MaxConnections > 0; nil means unlimited.
	connSemaphore chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	shutdownCtx    context.Context
	cancelRequests context.CancelFunc
}

// New creates an Adapter in a stopped state; call Serve to start
// accepting connections.
func New(cfg config.SocketConfig, shutdownTimeout time.Duration, handler *pam.Handler, pamMetrics metrics.PAMMetrics) *Adapter {
	var connSemaphore chan struct{}
	if cfg.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, cfg.MaxConnections)
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Adapter{
		config:          cfg,
		handler:         handler,
		metrics:         pamMetrics,
		shutdownTimeout: shutdownTimeout,
		listenerReady:   make(chan struct{}),
		connSemaphore:   connSemaphore,
		shutdown:        make(chan struct{}),
		shutdownCtx:     shutdownCtx,
		cancelRequests:  cancelRequests,
	}
}

// Serve binds the socket and accepts connections until ctx is
// cancelled. It returns nil on graceful shutdown.
func (a *Adapter) Serve(ctx context.Context) error {
	listener, err := a.listen()
	if err != nil {
		return err
	}

	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()
	close(a.listenerReady)

	logger.Info("listening on control socket", "path", a.config.Path)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		a.initiateShutdown()
	}()

	for {
		if a.connSemaphore != nil {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		netConn, err := listener.Accept()
		if err != nil {
			if a.connSemaphore != nil {
				<-a.connSemaphore
			}
			select {
			case <-a.shutdown:
				return a.gracefulShutdown()
			default:
				logger.Debug("accept failed", logger.Err(err))
				continue
			}
		}

		conn, err := newConnection(a, netConn)
		if err != nil {
			// Without peer credentials no trust decision is possible.
			logger.Warn("rejecting connection without peer credentials", logger.Err(err))
			_ = netConn.Close()
			if a.connSemaphore != nil {
				<-a.connSemaphore
			}
			continue
		}

		a.activeConns.Add(1)
		count := a.connCount.Add(1)
		a.activeConnections.Store(conn.id, netConn)
		if a.metrics != nil {
			a.metrics.RecordConnectionAccepted()
			a.metrics.SetActiveConnections(count)
		}
		logger.Debug("connection accepted",
			logger.ConnectionID(conn.id), logger.CallerUID(conn.callerUID),
			"active", count)

		go func(conn *connection) {
			defer func() {
				a.activeConnections.Delete(conn.id)
				a.activeConns.Done()
				count := a.connCount.Add(-1)
				if a.connSemaphore != nil {
					<-a.connSemaphore
				}
				if a.metrics != nil {
					a.metrics.RecordConnectionClosed()
					a.metrics.SetActiveConnections(count)
				}
				logger.Debug("connection closed",
					logger.ConnectionID(conn.id), "active", count)
			}()
			conn.serve(a.shutdownCtx)
		}(conn)
	}
}

// listen binds the Unix socket, replacing a stale socket file from a
// previous run, and applies the configured file mode. A leftover path
// that is not a socket is an error, not something to delete.
func (a *Adapter) listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(a.config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if info, err := os.Stat(a.config.Path); err == nil {
		if info.Mode().Type() != fs.ModeSocket {
			return nil, fmt.Errorf("socket path %s exists and is not a socket", a.config.Path)
		}
		if err := os.Remove(a.config.Path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat socket path: %w", err)
	}

	listener, err := net.Listen("unix", a.config.Path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.config.Path, err)
	}
	if err := os.Chmod(a.config.Path, os.FileMode(a.config.SocketFileMode())); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return listener, nil
}

// initiateShutdown stops accepting connections and signals in-flight
// requests. Safe to call multiple times.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)

		a.listenerMu.Lock()
		if a.listener != nil {
			if err := a.listener.Close(); err != nil {
				logger.Debug("error closing listener", logger.Err(err))
			}
		}
		a.listenerMu.Unlock()

		a.interruptBlockingReads()
		a.cancelRequests()
	})
}

// interruptBlockingReads puts a short deadline on every active
// connection so reads blocked on an idle client return promptly
// instead of waiting out the idle timeout.
func (a *Adapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)
	a.activeConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("error setting shutdown deadline",
					logger.ConnectionID(key.(string)), logger.Err(err))
			}
		}
		return true
	})
}

// gracefulShutdown waits for active connections to drain, then
// force-closes whatever is left.
func (a *Adapter) gracefulShutdown() error {
	active := a.connCount.Load()
	logger.Info("waiting for active connections", "active", active,
		"timeout", a.shutdownTimeout)

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete")
		return nil
	case <-time.After(a.shutdownTimeout):
		remaining := a.connCount.Load()
		logger.Warn("shutdown timeout exceeded, forcing closure", "active", remaining)
		a.forceCloseConnections()
		return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}

func (a *Adapter) forceCloseConnections() {
	a.activeConnections.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("error force-closing connection",
				logger.ConnectionID(key.(string)), logger.Err(err))
		}
		return true
	})
}

// Stop initiates shutdown and waits for connections to drain or ctx
// to expire. Safe to call concurrently with Serve.
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()
	if ctx == nil {
		return a.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.forceCloseConnections()
		return ctx.Err()
	}
}

// ActiveConnections returns the number of connections currently being
// served.
func (a *Adapter) ActiveConnections() int32 {
	return a.connCount.Load()
}

// SocketPath blocks until the listener is bound and returns its
// address; used by tests to synchronize with startup.
func (a *Adapter) SocketPath() string {
	<-a.listenerReady
	a.listenerMu.RLock()
	defer a.listenerMu.RUnlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}
