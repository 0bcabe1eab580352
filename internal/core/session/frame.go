package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// HeaderSize is the fixed prefix of every frame: sequence number then payload
// length, both uint32 little-endian.
const HeaderSize = 8

// NullSequence marks server pushes that answer no particular request.
const NullSequence uint32 = 0

// Frame is one undecoded message on the wire.
type Frame struct {
	Seq     uint32
	Payload []byte
}

// AppendFrame encodes a frame onto buf.
func AppendFrame(buf []byte, seq uint32, payload []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, seq)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}

// WriteFrame writes a whole frame with a single Write call.
func WriteFrame(w io.Writer, seq uint32, payload []byte) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(payload)), seq, payload))
	return err
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader, maxSize uint32) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	seq := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	if maxSize > 0 && length > maxSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Seq: seq, Payload: payload}, nil
}

// frameReader reassembles frames from a stream. It is owned by the I/O
// goroutine; nothing else may touch it.
type frameReader struct {
	stream       Stream
	buf          []byte
	chunk        []byte
	pollInterval time.Duration
	readTimeout  time.Duration
	maxSize      uint32
}

func newFrameReader(stream Stream, config Config) *frameReader {
	return &frameReader{
		stream:       stream,
		chunk:        make([]byte, config.BufferSize),
		pollInterval: config.PollInterval,
		readTimeout:  config.ReadTimeout,
		maxSize:      config.MaxFrameSize,
	}
}

// poll returns the next frame if one has started arriving. An idle stream is
// not an error: ok is false and err is nil.
func (r *frameReader) poll() (frame Frame, ok bool, err error) {
	if len(r.buf) == 0 {
		n, err := r.fill(r.pollInterval)
		if err != nil && !isTimeout(err) {
			if n == 0 {
				return Frame{}, false, r.wrap(err)
			}
		}
		if len(r.buf) == 0 {
			return Frame{}, false, nil
		}
	}

	frame, err = r.next()
	if err != nil {
		return Frame{}, false, err
	}
	return frame, true, nil
}

// next blocks until one full frame is buffered. Each read is bounded by the
// read timeout; running out of time mid-frame is fatal.
func (r *frameReader) next() (Frame, error) {
	if err := r.need(HeaderSize); err != nil {
		return Frame{}, err
	}

	seq := binary.LittleEndian.Uint32(r.buf[0:4])
	length := binary.LittleEndian.Uint32(r.buf[4:8])
	if r.maxSize > 0 && length > r.maxSize {
		return Frame{}, NewError(ErrorCodeFrameTooLarge, fmt.Sprintf("frame of %d bytes", length), nil)
	}

	total := HeaderSize + int(length)
	if err := r.need(total); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, length)
	copy(payload, r.buf[HeaderSize:total])
	r.buf = append(r.buf[:0], r.buf[total:]...)

	return Frame{Seq: seq, Payload: payload}, nil
}

func (r *frameReader) need(n int) error {
	for len(r.buf) < n {
		if _, err := r.fill(r.readTimeout); err != nil && len(r.buf) < n {
			return r.wrap(err)
		}
	}
	return nil
}

func (r *frameReader) fill(timeout time.Duration) (int, error) {
	if err := r.stream.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := r.stream.Read(r.chunk)
	r.buf = append(r.buf, r.chunk[:n]...)
	return n, err
}

func (r *frameReader) wrap(err error) error {
	switch {
	case isTimeout(err):
		return NewError(ErrorCodeReadTimeout, "read", err)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return NewError(ErrorCodeConnectionClosed, "read", err)
	default:
		return NewError(ErrorCodeConnectionClosed, "read failed", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
