package pamsock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/internal/protocol/nslcd"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/metrics"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/pam"
)

// connection serves one client over the control socket. The caller's
// kernel-reported UID is captured once at accept time and attached to
// every request; it is the only identity the trust checks rely on.
type connection struct {
	adapter   *Adapter
	conn      net.Conn
	id        string
	callerUID uint32
}

func newConnection(a *Adapter, netConn net.Conn) (*connection, error) {
	uid, err := peerUID(netConn)
	if err != nil {
		return nil, err
	}
	return &connection{
		adapter:   a,
		conn:      netConn,
		id:        uuid.New().String(),
		callerUID: uid,
	}, nil
}

// peerUID extracts the connecting process's UID via SO_PEERCRED. The
// kernel fills this in for Unix sockets; it cannot be forged by the
// client.
func peerUID(netConn net.Conn) (uint32, error) {
	unixConn, ok := netConn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("not a unix socket connection: %T", netConn)
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("raw connection: %w", err)
	}
	var (
		cred    *unix.Ucred
		sockErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, fmt.Errorf("socket control: %w", err)
	}
	if sockErr != nil {
		return 0, fmt.Errorf("get peer credentials: %w", sockErr)
	}
	return cred.Uid, nil
}

// serve runs the request loop until the client disconnects, a request
// fails mid-exchange, or shutdown is signalled. A request that fails
// after the response header has started cannot be recovered on the
// same stream, so any handler error drops the connection.
func (c *connection) serve(ctx context.Context) {
	defer func() {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("error closing connection",
				logger.ConnectionID(c.id), logger.Err(err))
		}
	}()

	bufWriter := bufio.NewWriter(c.conn)
	reader := nslcd.NewReader(bufio.NewReader(c.conn))
	writer := nslcd.NewWriter(bufWriter)

	for {
		if ctx.Err() != nil {
			return
		}

		// Wait for the next request header under the idle timeout.
		if err := c.conn.SetReadDeadline(time.Now().Add(c.adapter.config.IdleTimeout)); err != nil {
			return
		}
		version, err := reader.ReadInt32()
		if err != nil {
			if !errors.Is(err, io.EOF) && !isExpectedClose(err) {
				logger.Debug("error reading request version",
					logger.ConnectionID(c.id), logger.Err(err))
			}
			return
		}
		if version != nslcd.Version {
			logger.Warn("protocol version mismatch",
				logger.ConnectionID(c.id), logger.CallerUID(c.callerUID),
				"got", version, "want", nslcd.Version)
			return
		}

		// The rest of the request frame runs under the read timeout.
		if err := c.conn.SetReadDeadline(time.Now().Add(c.adapter.config.ReadTimeout)); err != nil {
			return
		}
		action, err := reader.ReadInt32()
		if err != nil {
			logger.Debug("error reading request action",
				logger.ConnectionID(c.id), logger.Err(err))
			return
		}

		if !c.handleRequest(ctx, action, reader, writer, bufWriter) {
			return
		}
	}
}

// handleRequest dispatches one request and flushes the response.
// Returns false when the connection must be dropped.
func (c *connection) handleRequest(ctx context.Context, action int32, reader *nslcd.Reader, writer *nslcd.Writer, bufWriter *bufio.Writer) bool {
	operation := pam.OperationName(action)
	start := time.Now()

	// Every log line of this request carries the same correlation
	// fields; handlers add the username once they have read it.
	ctx = logger.WithRequest(ctx, &logger.RequestContext{
		ConnectionID: c.id,
		Operation:    operation,
		CallerUID:    c.callerUID,
	})

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.adapter.config.WriteTimeout)); err != nil {
		return false
	}

	err := c.adapter.handler.Handle(ctx, action, reader, writer, c.callerUID)
	if err == nil {
		err = bufWriter.Flush()
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveRequest(c.adapter.metrics, operation, outcome, time.Since(start))

	if err != nil {
		logger.WarnCtx(ctx, "request failed, dropping connection", logger.Err(err))
		return false
	}

	logger.DebugCtx(ctx, "request served", "duration", time.Since(start))
	return true
}

// isExpectedClose reports whether err is the normal result of the
// peer going away or shutdown interrupting a blocked read.
func isExpectedClose(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, os.ErrDeadlineExceeded)
}
