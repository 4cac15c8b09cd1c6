package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Stream transports (TCP, serial) delimit PK frames with a two byte
// big endian length prefix.

const maxFrameSize = 1<<16 - 1

// WriteFrame writes one length prefixed frame to w.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) > maxFrameSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds framing limit", len(frame))
	}
	header := make([]byte, 2, 2+len(frame))
	binary.BigEndian.PutUint16(header, uint16(len(frame)))
	_, err := w.Write(append(header, frame...))
	return err
}

// ReadFrame reads one length prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	frame := make([]byte, binary.BigEndian.Uint16(header))
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
