package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singed/scenelink/internal/core/observability/log"
)

type fakeServer struct {
	conn   net.Conn
	frames chan Frame
}

func (f *fakeServer) send(t *testing.T, seq uint32, payload string) {
	t.Helper()
	require.NoError(t, WriteFrame(f.conn, seq, []byte(payload)))
}

func (f *fakeServer) recv(t *testing.T) Frame {
	t.Helper()
	select {
	case frame, ok := <-f.frames:
		require.True(t, ok, "server stream closed")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func (f *fakeServer) expectNone(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.frames:
		t.Fatalf("unexpected frame %d: %s", frame.Seq, frame.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.WriteTimeout = time.Second
	return cfg
}

func newPipeSession(t *testing.T, cfg Config) (*Session, *fakeServer) {
	t.Helper()

	client, server := net.Pipe()
	dialer := DialerFunc(func(ctx context.Context, addr string) (Stream, error) {
		assert.Equal(t, "localhost:1995", addr)
		return client, nil
	})

	s := New(cfg, dialer, log.NewNop())
	require.NoError(t, s.Connect(context.Background(), "localhost", 1995))

	fs := &fakeServer{conn: server, frames: make(chan Frame, 16)}
	go func() {
		defer close(fs.frames)
		for {
			frame, err := ReadFrame(server, 0)
			if err != nil {
				return
			}
			fs.frames <- frame
		}
	}()

	t.Cleanup(func() {
		_ = s.Close()
		_ = server.Close()
	})
	return s, fs
}

// cycleUntil drives the session until cond holds or a second passes.
func cycleUntil(t *testing.T, s *Session, priority Priority, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not reached")
		require.NoError(t, s.Cycle(priority))
		time.Sleep(time.Millisecond)
	}
}

func TestFrame_Layout(t *testing.T) {
	buf := AppendFrame(nil, 7, []byte(`{"a":1}`))

	require.Len(t, buf, HeaderSize+7)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, `{"a":1}`, string(buf[8:]))
}

func TestReadFrame_TooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() { _ = WriteFrame(server, 1, make([]byte, 32)) }()

	_, err := ReadFrame(client, 16)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodePayload_KeepsDocumentOrder(t *testing.T) {
	entries, err := DecodePayload([]byte(`{"z": 1, "a": {"x": [1, 2]}, "m": null}`))
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, "z", entries[0].Key)
	assert.Equal(t, "a", entries[1].Key)
	assert.Equal(t, "m", entries[2].Key)
	assert.JSONEq(t, `{"x": [1, 2]}`, string(entries[1].Value))
}

func TestDecodePayload_Invalid(t *testing.T) {
	for _, payload := range []string{``, `[]`, `{"a":`, `{"a": 1} {}`, `null`} {
		_, err := DecodePayload([]byte(payload))
		assert.ErrorIs(t, err, ErrInvalidPayload, payload)
	}
}

func TestPriority_Admits(t *testing.T) {
	assert.True(t, PriorityAny.Admits(PriorityAny))
	assert.True(t, PriorityAny.Admits(PriorityHigh))
	assert.True(t, PriorityHigh.Admits(PriorityHigh))
	assert.False(t, PriorityHigh.Admits(PriorityAny))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Port = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Transport = "carrier-pigeon"
	assert.ErrorIs(t, cfg.Validate(), ErrTransportNotFound)
}

func TestSession_CycleBeforeConnect(t *testing.T) {
	s := New(testConfig(), nil, log.NewNop())
	assert.ErrorIs(t, s.Cycle(PriorityAny), ErrNotConnected)
	assert.NoError(t, s.Close())
}

func TestSession_ConnectFailure(t *testing.T) {
	dialer := DialerFunc(func(ctx context.Context, addr string) (Stream, error) {
		return nil, errors.New("refused")
	})
	s := New(testConfig(), dialer, log.NewNop())

	err := s.Connect(context.Background(), "localhost", 1995)
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Equal(t, ErrorCodeConnectFailed, GetErrorCode(err))
}

func TestSession_QueryOrderAndSequence(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	sendFlag := true
	s.AddQueryHandler("b", func(seq uint32, _ Priority) any {
		return map[string]uint32{"seq": seq}
	})
	s.AddQueryHandler("a", func(uint32, Priority) any {
		if sendFlag {
			sendFlag = false
			return true
		}
		return nil
	})

	require.NoError(t, s.Cycle(PriorityAny))
	first := server.recv(t)
	assert.Equal(t, uint32(1), first.Seq)
	assert.Equal(t, `{"b":{"seq":1},"a":true}`, string(first.Payload))

	require.NoError(t, s.Cycle(PriorityAny))
	second := server.recv(t)
	assert.Equal(t, uint32(2), second.Seq)
	assert.Equal(t, `{"b":{"seq":2}}`, string(second.Payload))
}

func TestSession_EmptyQueryDoesNotAdvanceSequence(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	ready := false
	s.AddQueryHandler("ping", func(uint32, Priority) any {
		if !ready {
			return nil
		}
		return true
	})

	require.NoError(t, s.Cycle(PriorityAny))
	require.NoError(t, s.Cycle(PriorityAny))
	server.expectNone(t)

	ready = true
	require.NoError(t, s.Cycle(PriorityAny))
	assert.Equal(t, uint32(1), server.recv(t).Seq)
}

func TestSession_PriorityReachesHandlers(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	s.AddQueryHandler("bulk", func(_ uint32, p Priority) any {
		if !p.Admits(PriorityAny) {
			return nil
		}
		return 1
	})

	require.NoError(t, s.Cycle(PriorityHigh))
	server.expectNone(t)

	require.NoError(t, s.Cycle(PriorityAny))
	assert.Equal(t, `{"bulk":1}`, string(server.recv(t).Payload))
}

func TestSession_ResponseDispatchOrder(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	var order []string
	var seqs []uint32
	record := func(key string) ResponseHandler {
		return func(seq uint32, payload json.RawMessage) error {
			order = append(order, key+"="+string(payload))
			seqs = append(seqs, seq)
			return nil
		}
	}
	s.AddResponseHandler("z", record("z"))
	s.AddResponseHandler("a", record("a"))

	server.send(t, 0, `{"z": 1, "unknown": 2, "a": 3}`)
	cycleUntil(t, s, PriorityHigh, func() bool { return len(order) == 2 })

	assert.Equal(t, []string{"z=1", "a=3"}, order)
	assert.Equal(t, []uint32{NullSequence, NullSequence}, seqs)
	assert.Equal(t, uint64(1), s.Stats().DroppedResponses)
}

func TestSession_OneInboundMessagePerCycle(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	var got []uint32
	s.AddResponseHandler("k", func(seq uint32, _ json.RawMessage) error {
		got = append(got, seq)
		return nil
	})

	server.send(t, 4, `{"k": 1}`)
	server.send(t, 5, `{"k": 2}`)
	require.Eventually(t, func() bool {
		in, _ := s.Pending()
		return in == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Cycle(PriorityHigh))
	assert.Equal(t, []uint32{4}, got)

	require.NoError(t, s.Cycle(PriorityHigh))
	assert.Equal(t, []uint32{4, 5}, got)
}

func TestSession_ReassemblesSplitFrames(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	var got string
	s.AddResponseHandler("name", func(_ uint32, payload json.RawMessage) error {
		got = string(payload)
		return nil
	})

	frame := AppendFrame(nil, 9, []byte(`{"name": "camera"}`))
	go func() {
		for _, part := range [][]byte{frame[:3], frame[3:11], frame[11:]} {
			_, _ = server.conn.Write(part)
			time.Sleep(5 * time.Millisecond)
		}
	}()

	cycleUntil(t, s, PriorityHigh, func() bool { return got != "" })
	assert.Equal(t, `"camera"`, got)
}

func TestSession_HandlerErrorSurfaces(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	boom := errors.New("boom")
	s.AddResponseHandler("k", func(uint32, json.RawMessage) error { return boom })

	server.send(t, 0, `{"k": 1}`)
	require.Eventually(t, func() bool {
		in, _ := s.Pending()
		return in == 1
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Cycle(PriorityHigh), boom)
	assert.NoError(t, s.Err(), "handler errors do not stop the session")
}

func TestSession_TruncatedFrameIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 30 * time.Millisecond
	s, server := newPipeSession(t, cfg)

	header := binary.LittleEndian.AppendUint32(nil, 1)
	header = binary.LittleEndian.AppendUint32(header, 10)
	_, err := server.conn.Write(header)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, time.Millisecond)
	err = s.Cycle(PriorityAny)
	assert.ErrorIs(t, err, ErrReadTimeout)

	var sessionErr *Error
	require.ErrorAs(t, err, &sessionErr)
	assert.True(t, sessionErr.IsFatal())
}

func TestSession_PeerCloseIsFatal(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	require.NoError(t, server.conn.Close())

	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Cycle(PriorityAny), ErrConnectionClosed)
}

func TestSession_InvalidPayloadIsFatal(t *testing.T) {
	s, server := newPipeSession(t, testConfig())

	server.send(t, 0, `not json`)

	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Cycle(PriorityAny), ErrInvalidPayload)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, _ := newPipeSession(t, testConfig())

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.ErrorIs(t, s.Connect(context.Background(), "localhost", 1995), ErrSessionClosed)
}
