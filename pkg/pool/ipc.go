package pool

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single IPC frame; a corrupt or malicious length
// prefix can't force an unbounded allocation.
const maxFrameBytes = 256 << 20 // 256 MiB

// Request is one unit of work sent to a process worker: the registered task
// name plus the gob-encoded item.
type Request struct {
	Task string
	Item []byte
}

// Response is one unit of work's result: either Output or Err is set.
type Response struct {
	Output []byte
	Err    string
}

// writeFrame writes a length-prefixed payload: a 4-byte big-endian length
// followed by the payload bytes.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("pool: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("pool: write frame payload: %w", err)
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

type flusher interface{ Flush() error }

// readFrame reads one length-prefixed payload written by writeFrame.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("pool: read frame payload: %w", err)
	}
	return payload, nil
}
