// Package session implements the framed request/response channel to the
// engine's editor server.
//
// Frames are a little-endian uint32 sequence number, a little-endian uint32
// payload length and a UTF-8 JSON object. A background goroutine owns the
// socket; the foreground drives everything else through Cycle.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/pkg/generic"
	"github.com/singed/scenelink/pkg/sequence"
)

// maxPooledFrame is the largest buffer capacity frameBuffers keeps.
const maxPooledFrame = 1 << 20

var frameBuffers = generic.NewPool(
	func() *[]byte {
		buf := make([]byte, 0, 4096)
		return &buf
	},
	func(buf *[]byte) bool { return cap(*buf) <= maxPooledFrame },
)

// QueryHandler contributes the value for its key to the outbound payload of
// sequence seq. Returning nil leaves the key out.
type QueryHandler func(seq uint32, priority Priority) any

// ResponseHandler consumes the value for its key from an inbound payload.
// seq is NullSequence for server pushes.
type ResponseHandler func(seq uint32, payload json.RawMessage) error

// Registrar is the part of a session that components plug their handlers into.
type Registrar interface {
	AddQueryHandler(key string, handler QueryHandler)
	AddResponseHandler(key string, handler ResponseHandler)
}

var _ Registrar = (*Session)(nil)

// Stats is a point-in-time copy of the session counters.
type Stats struct {
	FramesSent       uint64
	FramesReceived   uint64
	BytesSent        uint64
	BytesReceived    uint64
	DroppedResponses uint64
}

// Session is a single connection to the editor server. Handlers must be
// registered and Cycle must be called from one goroutine.
type Session struct {
	id     string
	config Config
	dialer Dialer
	logger log.Log

	queryKeys        []string
	queryHandlers    map[string]QueryHandler
	responseHandlers map[string]ResponseHandler
	nextSeq          uint32

	stream   Stream
	inbound  *sequence.Queue[Message]
	outbound *sequence.Queue[Frame]
	group    *errgroup.Group

	connected atomic.Bool
	stopping  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	failMx  sync.Mutex
	failure error

	framesSent       atomic.Uint64
	framesReceived   atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	droppedResponses atomic.Uint64
}

// New creates an unconnected session. A nil dialer selects one from
// config.Transport when Connect is called.
func New(config Config, dialer Dialer, logger log.Log) *Session {
	id := uuid.NewString()
	return &Session{
		id:               id,
		config:           config,
		dialer:           dialer,
		logger:           logger.With(log.String("component", "session"), log.String("session_id", id)),
		queryHandlers:    make(map[string]QueryHandler),
		responseHandlers: make(map[string]ResponseHandler),
		nextSeq:          1,
		inbound:          sequence.NewQueue[Message](),
		outbound:         sequence.NewQueue[Frame](),
	}
}

func (s *Session) ID() string {
	return s.id
}

// AddQueryHandler registers handler for key. Keys appear in outbound payloads
// in registration order; registering a key twice replaces the handler but
// keeps its original position.
func (s *Session) AddQueryHandler(key string, handler QueryHandler) {
	if _, exists := s.queryHandlers[key]; !exists {
		s.queryKeys = append(s.queryKeys, key)
	}
	s.queryHandlers[key] = handler
}

// AddResponseHandler registers handler for inbound key.
func (s *Session) AddResponseHandler(key string, handler ResponseHandler) {
	s.responseHandlers[key] = handler
}

// Connect dials host:port and starts the I/O goroutine.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.connected.Load() {
		return ErrAlreadyConnected
	}

	if s.dialer == nil {
		dialer, err := NewDialer(s.config)
		if err != nil {
			return err
		}
		s.dialer = dialer
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	stream, err := s.dialer.Dial(dialCtx, addr)
	if err != nil {
		s.logger.Warn("Failed to connect", log.String("addr", addr), log.Error(err))
		return NewError(ErrorCodeConnectFailed, "connect "+addr, err)
	}

	s.stream = stream
	s.connected.Store(true)
	s.group = &errgroup.Group{}
	s.group.Go(s.run)

	s.logger.Info("Connected", log.String("addr", addr))
	return nil
}

// Cycle performs one round of the exchange. It dispatches at most one inbound
// message to the response handlers, then asks every query handler for its
// contribution and enqueues the combined payload if any handler produced one.
// The sequence number advances only when something is enqueued.
func (s *Session) Cycle(priority Priority) error {
	if err := s.Err(); err != nil {
		return err
	}
	if !s.connected.Load() {
		return ErrNotConnected
	}

	var handleErr error
	if msg, ok := s.inbound.Pop(); ok {
		handleErr = s.handleResponse(msg)
	}

	seq := s.nextSeq
	payload, err := s.createQuery(seq, priority)
	if err != nil {
		return errors.Join(handleErr, err)
	}
	if payload != nil {
		s.outbound.Push(Frame{Seq: seq, Payload: payload})
		s.nextSeq++
	}

	return handleErr
}

// Err returns the error that stopped the I/O goroutine, if any.
func (s *Session) Err() error {
	s.failMx.Lock()
	defer s.failMx.Unlock()
	return s.failure
}

// Pending reports how many frames are waiting in each direction.
func (s *Session) Pending() (inbound, outbound int) {
	return s.inbound.Len(), s.outbound.Len()
}

func (s *Session) Stats() Stats {
	return Stats{
		FramesSent:       s.framesSent.Load(),
		FramesReceived:   s.framesReceived.Load(),
		BytesSent:        s.bytesSent.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		DroppedResponses: s.droppedResponses.Load(),
	}
}

// Close stops the I/O goroutine and closes the stream. Frames still queued
// are dropped.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if !s.connected.Load() {
			return
		}

		s.stopping.Store(true)
		loopErr := s.group.Wait()
		err = s.stream.Close()
		s.connected.Store(false)

		stats := s.Stats()
		s.logger.Info("Session closed",
			log.Uint64("frames_sent", stats.FramesSent),
			log.Uint64("frames_received", stats.FramesReceived),
			log.Uint64("dropped_responses", stats.DroppedResponses),
		)
		if loopErr != nil {
			s.logger.Debug("I/O loop ended with error", log.Error(loopErr))
		}
	})
	return err
}

func (s *Session) handleResponse(msg Message) error {
	var errs []error
	for _, entry := range msg.Entries {
		handler, ok := s.responseHandlers[entry.Key]
		if !ok {
			s.droppedResponses.Add(1)
			s.logger.Warn("Unregistered handler for response", log.String("key", entry.Key), log.Uint32("seq", msg.Seq))
			continue
		}
		if err := handler(msg.Seq, entry.Value); err != nil {
			errs = append(errs, fmt.Errorf("handle %q (seq %d): %w", entry.Key, msg.Seq, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) createQuery(seq uint32, priority Priority) ([]byte, error) {
	var entries []Entry
	for _, key := range s.queryKeys {
		result := s.queryHandlers[key](seq, priority)
		if result == nil {
			continue
		}

		raw, err := json.Marshal(result)
		if err != nil {
			return nil, NewError(ErrorCodeEncodeFailed, "encode "+key, err)
		}
		entries = append(entries, Entry{Key: key, Value: raw})
	}

	if len(entries) == 0 {
		return nil, nil
	}
	return EncodePayload(entries), nil
}

// run is the I/O goroutine. Each pass probes for an inbound frame, then
// writes at most one outbound frame.
func (s *Session) run() error {
	reader := newFrameReader(s.stream, s.config)

	for !s.stopping.Load() {
		frame, ok, err := reader.poll()
		if err != nil {
			return s.fail(err)
		}
		if ok {
			entries, err := DecodePayload(frame.Payload)
			if err != nil {
				return s.fail(NewError(ErrorCodeInvalidPayload, fmt.Sprintf("frame %d", frame.Seq), err))
			}
			s.framesReceived.Add(1)
			s.bytesReceived.Add(uint64(HeaderSize + len(frame.Payload)))
			s.inbound.Push(Message{Seq: frame.Seq, Entries: entries})
		}

		if out, ok := s.outbound.Pop(); ok {
			if err := s.write(out); err != nil {
				return s.fail(err)
			}
		}
	}
	return nil
}

func (s *Session) write(frame Frame) error {
	if err := s.stream.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return NewError(ErrorCodeWriteFailed, "set write deadline", err)
	}
	buf := frameBuffers.Get()
	*buf = AppendFrame((*buf)[:0], frame.Seq, frame.Payload)
	_, err := s.stream.Write(*buf)
	frameBuffers.Put(buf)
	if err != nil {
		return NewError(ErrorCodeWriteFailed, fmt.Sprintf("write frame %d", frame.Seq), err)
	}
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(HeaderSize + len(frame.Payload)))
	return nil
}

func (s *Session) fail(err error) error {
	s.failMx.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.failMx.Unlock()

	if !s.stopping.Load() {
		s.logger.Error("Session I/O failed", log.Error(err))
	}
	return err
}
