package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTripStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Processed: 12, Errors: 0}))
	require.NoError(t, WriteFrame(&buf, Frame{Processed: 12, Errors: 3}))
	require.NoError(t, WriteDeath(&buf))
	assert.Equal(t, 3*FrameSize, buf.Len())

	r := NewReader(&buf)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Frame{Processed: 12}, f)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, Frame{Processed: 12, Errors: 3}, f)

	f, err = r.Next()
	require.NoError(t, err, "explicit sentinel is not a read error")
	assert.True(t, f.Dead())
}

func TestReader_EndOfStreamIsDeath(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	f, err := r.Next()
	assert.True(t, f.Dead())
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReader_ShortFirstFieldIsDeath(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x01, 0x02}))
	f, err := r.Next()
	assert.True(t, f.Dead())
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReader_TruncatedPairIsDeath(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Processed: 4, Errors: 0}))
	r := NewReader(bytes.NewReader(buf.Bytes()[:6]))
	f, err := r.Next()
	assert.True(t, f.Dead())
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReader_StaysDeadAfterSentinel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDeath(&buf))
	// Bytes that arrive after the sentinel must never be decoded.
	require.NoError(t, WriteFrame(&buf, Frame{Processed: 99, Errors: 99}))

	r := NewReader(&buf)
	f, _ := r.Next()
	require.True(t, f.Dead())

	f, err := r.Next()
	assert.True(t, f.Dead())
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_MalformedFrameIsDeath(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Processed: 5, Errors: -7}
	raw, _ := f.MarshalBinary()
	buf.Write(raw)

	got, err := NewReader(&buf).Next()
	assert.True(t, got.Dead())
	assert.Error(t, err)
}

func TestReader_PipeErrorIsDeath(t *testing.T) {
	pr, pw := io.Pipe()
	pw.CloseWithError(errors.New("worker vanished"))
	f, err := NewReader(pr).Next()
	assert.True(t, f.Dead())
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestWriteFrame_RejectsNegativeProgress(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteFrame(&buf, Frame{Processed: -3}))
	assert.Zero(t, buf.Len())
}

func TestWriteFrame_SingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WriteFrame(w, Frame{Processed: 1, Errors: 2}))
	assert.Equal(t, 1, w.writes, "a frame must be written as one unit")
	assert.Equal(t, FrameSize, w.bytes)
}

func TestDeviceCount_Handshake(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDeviceCount(&buf, 8))
	require.NoError(t, WriteFrame(&buf, Frame{Processed: 3}))

	n, err := ReadDeviceCount(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	f, err := NewReader(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.Processed)
}

func TestReadDeviceCount_Errors(t *testing.T) {
	_, err := ReadDeviceCount(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrShortRead)

	var buf bytes.Buffer
	require.NoError(t, WriteDeviceCount(&buf, -2))
	_, err = ReadDeviceCount(&buf)
	assert.Error(t, err)
}

type countingWriter struct {
	writes, bytes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	w.bytes += len(p)
	return len(p), nil
}
