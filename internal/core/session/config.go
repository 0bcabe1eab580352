package session

import (
	"fmt"
	"time"
)

const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

// Config holds transport configuration
type Config struct {
	// Network settings
	Host      string `yaml:"host" env:"HOST"`
	Port      int    `yaml:"port" env:"PORT"`
	Transport string `yaml:"transport" env:"TRANSPORT"`

	// ConnectTimeout bounds dialing; ReadTimeout bounds every blocking read
	// inside a partially received frame.
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	// PollInterval is how long the I/O goroutine waits for the first byte of
	// a frame before servicing the outbound queue.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`

	BufferSize   int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
	MaxFrameSize uint32 `yaml:"max_frame_size" env:"MAX_FRAME_SIZE"`

	// QUIC only
	ServerName         string `yaml:"server_name" env:"SERVER_NAME"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// DefaultConfig matches the engine's editor server defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           1995,
		Transport:      TransportTCP,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
		PollInterval:   time.Millisecond,
		BufferSize:     1 << 14,
		MaxFrameSize:   64 << 20,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: empty host", ErrInvalidConfig)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.Transport != TransportTCP && c.Transport != TransportQUIC:
		return fmt.Errorf("%w: %q", ErrTransportNotFound, c.Transport)
	case c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer size must be positive", ErrInvalidConfig)
	case c.MaxFrameSize == 0:
		return fmt.Errorf("%w: max frame size must be positive", ErrInvalidConfig)
	}
	return nil
}
