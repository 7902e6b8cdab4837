package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// deathValue is the processed count that marks a worker as terminated.
const deathValue int32 = -1

// fieldSize is the encoded size of one int32 field.
const fieldSize = 4

// FrameSize is the encoded size of one progress frame.
const FrameSize = 2 * fieldSize

// ErrShortRead reports that the channel ended before a full field arrived.
var ErrShortRead = errors.New("protocol: short read")

// Frame is one progress report from a worker.
type Frame struct {
	// Processed is the number of iterations completed since the previous
	// frame, or -1 when the worker has failed.
	Processed int32
	// Errors is the number of miscomputed elements observed since the
	// previous frame.
	Errors int32
}

// Death is the sentinel frame a failing worker sends before exiting.
var Death = Frame{Processed: deathValue, Errors: deathValue}

// Dead reports whether f signals worker termination.
func (f Frame) Dead() bool {
	return f.Processed == deathValue
}

// MarshalBinary encodes f in wire order.
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameSize)
	binary.NativeEndian.PutUint32(buf[:fieldSize], uint32(f.Processed))
	binary.NativeEndian.PutUint32(buf[fieldSize:], uint32(f.Errors))
	return buf, nil
}

// WriteFrame writes f to w as one unit.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Processed < 0 && !f.Dead() {
		return fmt.Errorf("protocol: negative processed count %d", f.Processed)
	}
	buf, _ := f.MarshalBinary()
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// WriteDeath writes the death sentinel to w.
func WriteDeath(w io.Writer) error {
	return WriteFrame(w, Death)
}

// WriteDeviceCount writes the bootstrap handshake value to w.
func WriteDeviceCount(w io.Writer, n int) error {
	var buf [fieldSize]byte
	binary.NativeEndian.PutUint32(buf[:], uint32(int32(n)))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("protocol: write device count: %w", err)
	}
	return nil
}

// ReadDeviceCount reads the bootstrap handshake value from r.
func ReadDeviceCount(r io.Reader) (int, error) {
	v, err := readField(r)
	if err != nil {
		return 0, fmt.Errorf("protocol: read device count: %w", err)
	}
	if v < 0 {
		return 0, fmt.Errorf("protocol: invalid device count %d", v)
	}
	return int(v), nil
}

// Reader decodes progress frames from one worker channel.
// It is not safe for concurrent use.
type Reader struct {
	r    io.Reader
	dead bool
}

// NewReader returns a Reader that decodes frames from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next frame.
//
// A death sentinel, or a short/failed read of the first field, returns a
// frame with Dead() == true. The accompanying error is nil for an explicit
// sentinel and describes the read failure otherwise. Once a dead frame has
// been returned every later call returns Death with io.EOF.
func (r *Reader) Next() (Frame, error) {
	if r.dead {
		return Death, io.EOF
	}

	processed, err := readField(r.r)
	if err != nil {
		r.dead = true
		return Death, err
	}

	errs, err := readField(r.r)
	if err != nil {
		// The first field arrived but the pair was cut: the worker died
		// mid-write. Report the progress as lost.
		r.dead = true
		return Death, err
	}

	f := Frame{Processed: processed, Errors: errs}
	if f.Dead() {
		r.dead = true
		return Death, nil
	}
	if f.Processed < 0 || f.Errors < 0 {
		r.dead = true
		return Death, fmt.Errorf("protocol: malformed frame (%d, %d)", f.Processed, f.Errors)
	}
	return f, nil
}

// readField reads one int32, mapping any truncation to ErrShortRead.
func readField(r io.Reader) (int32, error) {
	var buf [fieldSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%w: end of stream", ErrShortRead)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, n, fieldSize)
		}
		return 0, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	return int32(binary.NativeEndian.Uint32(buf[:])), nil
}
