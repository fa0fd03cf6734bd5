package pamsock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/internal/protocol/nslcd"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/pam"
)

// unavailableOpener fails every session open. Session operations never
// contact the directory, so it is enough for lifecycle tests.
type unavailableOpener struct{}

func (unavailableOpener) Open(_ context.Context, _ directory.Credentials) (directory.Session, error) {
	return nil, &directory.Error{Op: "open", Status: directory.StatusUnavailable, Err: errors.New("no server")}
}

func testSocketConfig(t *testing.T) config.SocketConfig {
	t.Helper()
	return config.SocketConfig{
		Path:         filepath.Join(t.TempDir(), "socket"),
		Mode:         "0666",
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		IdleTimeout:  2 * time.Second,
	}
}

func startAdapter(t *testing.T, cfg config.SocketConfig) *Adapter {
	t.Helper()

	fullCfg := &config.Config{Socket: cfg}
	handler := pam.NewHandler(fullCfg, unavailableOpener{})
	adapter := New(cfg, time.Second, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- adapter.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-serveErr:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("adapter did not shut down")
		}
	})

	require.Equal(t, cfg.Path, adapter.SocketPath())
	return adapter
}

func writeSessionOpen(t *testing.T, w *nslcd.Writer, username string) {
	t.Helper()
	require.NoError(t, w.WriteInt32(nslcd.Version))
	require.NoError(t, w.WriteInt32(nslcd.ActionPAMSessionOpen))
	require.NoError(t, w.WriteString(username, nslcd.MaxUsernameLen))
	require.NoError(t, w.WriteString("", nslcd.MaxUserDNLen))
	require.NoError(t, w.WriteString("login", nslcd.MaxServiceLen))
	require.NoError(t, w.WriteString("tty1", nslcd.MaxTTYLen))
	require.NoError(t, w.WriteString("", nslcd.MaxHostLen))
	require.NoError(t, w.WriteString("", nslcd.MaxRUserLen))
}

func readSessionOpenResponse(t *testing.T, r *nslcd.Reader) {
	t.Helper()
	for _, want := range []int32{nslcd.Version, nslcd.ActionPAMSessionOpen, nslcd.ResultBegin, nslcd.SessionOpenID, nslcd.ResultEnd} {
		got, err := r.ReadInt32()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestAdapterServesRequests(t *testing.T) {
	cfg := testSocketConfig(t)
	startAdapter(t, cfg)

	conn, err := net.Dial("unix", cfg.Path)
	require.NoError(t, err)
	defer conn.Close()

	w := nslcd.NewWriter(conn)
	r := nslcd.NewReader(conn)

	// Two requests on the same connection exercise the request loop.
	for i := 0; i < 2; i++ {
		writeSessionOpen(t, w, "alice")
		readSessionOpenResponse(t, r)
	}
}

func TestAdapterConcurrentConnections(t *testing.T) {
	cfg := testSocketConfig(t)
	startAdapter(t, cfg)

	const clients = 8
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		go func(i int) {
			conn, err := net.Dial("unix", cfg.Path)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			w := nslcd.NewWriter(conn)
			r := nslcd.NewReader(conn)
			if err := w.WriteInt32(nslcd.Version); err != nil {
				errs <- err
				return
			}
			if err := w.WriteInt32(nslcd.ActionPAMSessionClose); err != nil {
				errs <- err
				return
			}
			for _, s := range []string{fmt.Sprintf("user%d", i), "", "sshd", "", "", ""} {
				if err := w.WriteString(s, nslcd.MaxUsernameLen); err != nil {
					errs <- err
					return
				}
			}
			if err := w.WriteInt32(nslcd.SessionOpenID); err != nil {
				errs <- err
				return
			}
			for _, want := range []int32{nslcd.Version, nslcd.ActionPAMSessionClose, nslcd.ResultBegin, nslcd.SessionCloseID, nslcd.ResultEnd} {
				got, err := r.ReadInt32()
				if err != nil {
					errs <- err
					return
				}
				if got != want {
					errs <- fmt.Errorf("unexpected response word: got %d want %d", got, want)
					return
				}
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < clients; i++ {
		require.NoError(t, <-errs)
	}
}

// syncBuffer makes a bytes.Buffer safe for the connection goroutine
// to write while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRequestLogsCarryConnectionFields(t *testing.T) {
	buf := &syncBuffer{}
	logger.InitWithWriter(buf, "DEBUG", "text")
	t.Cleanup(func() { logger.InitWithWriter(io.Discard, "INFO", "text") })

	cfg := testSocketConfig(t)
	startAdapter(t, cfg)

	conn, err := net.Dial("unix", cfg.Path)
	require.NoError(t, err)
	defer conn.Close()

	w := nslcd.NewWriter(conn)
	r := nslcd.NewReader(conn)
	writeSessionOpen(t, w, "alice")
	readSessionOpenResponse(t, r)

	// The completion line is written after the response is flushed.
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "request served")
	}, 2*time.Second, 10*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, "connection_id=")
	assert.Contains(t, out, "operation=sess_o")
	assert.Contains(t, out, fmt.Sprintf("caller_uid=%d", os.Getuid()))
	assert.Contains(t, out, "username=alice")
}

func TestAdapterDropsVersionMismatch(t *testing.T) {
	cfg := testSocketConfig(t)
	startAdapter(t, cfg)

	conn, err := net.Dial("unix", cfg.Path)
	require.NoError(t, err)
	defer conn.Close()

	w := nslcd.NewWriter(conn)
	require.NoError(t, w.WriteInt32(nslcd.Version+1))
	require.NoError(t, w.WriteInt32(nslcd.ActionPAMSessionOpen))

	// The server closes without writing anything.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestAdapterDropsUnknownAction(t *testing.T) {
	cfg := testSocketConfig(t)
	startAdapter(t, cfg)

	conn, err := net.Dial("unix", cfg.Path)
	require.NoError(t, err)
	defer conn.Close()

	w := nslcd.NewWriter(conn)
	require.NoError(t, w.WriteInt32(nslcd.Version))
	require.NoError(t, w.WriteInt32(0x7f000000))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestAdapterRefusesNonSocketPath(t *testing.T) {
	cfg := testSocketConfig(t)
	require.NoError(t, os.WriteFile(cfg.Path, []byte("not a socket"), 0o600))

	fullCfg := &config.Config{Socket: cfg}
	adapter := New(cfg, time.Second, pam.NewHandler(fullCfg, unavailableOpener{}), nil)

	err := adapter.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a socket")
}

func TestAdapterReplacesStaleSocket(t *testing.T) {
	cfg := testSocketConfig(t)

	// A leftover socket from a crashed run must not block startup.
	stale, err := net.Listen("unix", cfg.Path)
	require.NoError(t, err)
	require.NoError(t, stale.Close())

	startAdapter(t, cfg)

	conn, err := net.Dial("unix", cfg.Path)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestAdapterSocketMode(t *testing.T) {
	cfg := testSocketConfig(t)
	cfg.Mode = "0660"
	startAdapter(t, cfg)

	info, err := os.Stat(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o660), info.Mode().Perm())
}

func TestAdapterStop(t *testing.T) {
	cfg := testSocketConfig(t)

	fullCfg := &config.Config{Socket: cfg}
	adapter := New(cfg, time.Second, pam.NewHandler(fullCfg, unavailableOpener{}), nil)

	serveErr := make(chan error, 1)
	go func() { serveErr <- adapter.Serve(context.Background()) }()
	require.Equal(t, cfg.Path, adapter.SocketPath())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, adapter.Stop(ctx))

	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	assert.Equal(t, int32(0), adapter.ActiveConnections())

	// New connections are refused after shutdown.
	_, err := net.Dial("unix", cfg.Path)
	require.Error(t, err)
}
