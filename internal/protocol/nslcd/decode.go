package nslcd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// Framing errors. Handlers distinguish a malformed frame (client bug,
// connection is dropped) from a field overflow (a configured value
// that cannot fit a protocol field, request-fatal only).
var (
	ErrInvalidLength   = errors.New("invalid length on stream")
	ErrFieldOverflow   = errors.New("value does not fit protocol field")
	ErrBadAddress      = errors.New("invalid address family")
	ErrVersionMismatch = errors.New("protocol version mismatch")
)

// Reader decodes protocol primitives from a stream.
//
// The reader never trusts a declared length: it fails before consuming
// payload bytes when the length is negative or exceeds the
// caller-supplied capacity, so a malicious or corrupt frame cannot
// force oversized allocations or leave the stream position ambiguous.
type Reader struct {
	r io.Reader
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadInt32 reads a single signed 32-bit integer.
func (d *Reader) ReadInt32() (int32, error) {
	var v int32
	if err := binary.Read(d.r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("read int32: %w", err)
	}
	return v, nil
}

// ReadString reads a length-prefixed string of at most max bytes.
// A zero length yields the empty string; several request fields
// (userdn, tty, rhost) are legitimately empty.
func (d *Reader) ReadString(max int) (string, error) {
	n, err := d.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > max {
		return "", fmt.Errorf("%w: declared string length %d (limit %d)", ErrInvalidLength, n, max)
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return string(buf), nil
}

// ReadAddress reads an address encoded as (family, length, raw bytes).
// The family must be FamilyInet or FamilyInet6 and the declared length
// must be positive and no larger than the family's address size; in
// particular the (FamilyInvalid, 0) blank written for unparseable
// addresses is a decode error here, never silently skipped.
func (d *Reader) ReadAddress() (net.IP, error) {
	family, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	var capacity int
	switch family {
	case FamilyInet:
		capacity = net.IPv4len
	case FamilyInet6:
		capacity = net.IPv6len
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadAddress, family)
	}
	n, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n <= 0 || int(n) > capacity {
		return nil, fmt.Errorf("%w: declared address length %d (family %d)", ErrInvalidLength, n, family)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, fmt.Errorf("read address: %w", err)
	}
	return net.IP(buf), nil
}
