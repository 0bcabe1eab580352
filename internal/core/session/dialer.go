package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN protocol negotiated on QUIC connections.
const ALPN = "scenelink"

// Stream is a bidirectional byte stream with deadlines. net.Conn satisfies it.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer opens the stream a session runs on.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Stream, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Stream, error) {
	return f(ctx, addr)
}

// NewDialer picks the dialer for config.Transport.
func NewDialer(config Config) (Dialer, error) {
	switch config.Transport {
	case "", TransportTCP:
		return &TCPDialer{KeepAlive: 30 * time.Second}, nil
	case TransportQUIC:
		return &QUICDialer{
			TLSConfig: &tls.Config{
				ServerName:         config.ServerName,
				InsecureSkipVerify: config.InsecureSkipVerify,
				NextProtos:         []string{ALPN},
				MinVersion:         tls.VersionTLS13,
			},
			QUICConfig: &quic.Config{
				MaxIdleTimeout:  30 * time.Second,
				KeepAlivePeriod: 10 * time.Second,
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrTransportNotFound, config.Transport)
	}
}

// TCPDialer connects over plain TCP, which is what the engine's editor
// server listens on.
type TCPDialer struct {
	KeepAlive time.Duration
}

func (d *TCPDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	dialer := net.Dialer{KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// QUICDialer opens a single bidirectional stream on a new QUIC connection.
type QUICDialer struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

func (d *QUICDialer) Dial(ctx context.Context, addr string) (Stream, error) {
	tlsConfig := d.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{NextProtos: []string{ALPN}, MinVersion: tls.VersionTLS13}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, d.QUICConfig)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "failed to open stream")
		return nil, err
	}

	return &quicStream{Stream: stream, conn: conn}, nil
}

// quicStream closes the owning connection along with the stream.
type quicStream struct {
	*quic.Stream
	conn *quic.Conn
}

func (s *quicStream) Close() error {
	err := s.Stream.Close()
	return errors.Join(err, s.conn.CloseWithError(0, "session closed"))
}
