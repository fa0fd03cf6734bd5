package nslcd

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Writer encodes protocol primitives onto a stream.
//
// All integers are written as big-endian signed 32-bit values. Strings
// are written as a length prefix followed by the raw bytes, with no
// terminator. The zero Writer is not usable; construct with NewWriter.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer encoding onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteInt32 writes a single signed 32-bit integer.
func (e *Writer) WriteInt32(v int32) error {
	if err := binary.Write(e.w, binary.BigEndian, v); err != nil {
		return fmt.Errorf("write int32: %w", err)
	}
	return nil
}

// WriteString writes a length-prefixed string. The caller-supplied max
// bounds the value; a longer string is a field overflow, not a
// truncation (truncating would silently change the value's meaning).
func (e *Writer) WriteString(s string, max int) error {
	if len(s) > max {
		return fmt.Errorf("%w: %d bytes exceeds field limit %d", ErrFieldOverflow, len(s), max)
	}
	if err := e.WriteInt32(int32(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	if _, err := io.WriteString(e.w, s); err != nil {
		return fmt.Errorf("write string: %w", err)
	}
	return nil
}

// WriteAddress writes a network address as (family, length, raw bytes
// in network order). The address is tried as IPv4 first, then IPv6.
// An unparseable address is encoded as (FamilyInvalid, 0) rather than
// failing the record, so a list of addresses survives one bad entry
// without corrupting the stream.
func (e *Writer) WriteAddress(addr string) error {
	ip := net.ParseIP(addr)
	if ip4 := ip.To4(); ip4 != nil {
		if err := e.WriteInt32(FamilyInet); err != nil {
			return err
		}
		if err := e.WriteInt32(int32(net.IPv4len)); err != nil {
			return err
		}
		if _, err := e.w.Write(ip4); err != nil {
			return fmt.Errorf("write address: %w", err)
		}
		return nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		if err := e.WriteInt32(FamilyInet6); err != nil {
			return err
		}
		if err := e.WriteInt32(int32(net.IPv6len)); err != nil {
			return err
		}
		if _, err := e.w.Write(ip16); err != nil {
			return fmt.Errorf("write address: %w", err)
		}
		return nil
	}
	// Keep the stream well-formed with an intentionally blank entry.
	if err := e.WriteInt32(FamilyInvalid); err != nil {
		return err
	}
	return e.WriteInt32(0)
}
