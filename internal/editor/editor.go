// Package editor drives a session from the host's frame loop and connects the
// type database and scene manager to it.
package editor

import (
	"context"
	"errors"
	"time"

	"github.com/singed/scenelink/internal/config"
	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/scene"
	"github.com/singed/scenelink/internal/core/session"
	"github.com/singed/scenelink/internal/core/typedb"
)

// Conn is the part of a session the editor drives.
type Conn interface {
	session.Registrar
	Connect(ctx context.Context, host string, port int) error
	Cycle(priority session.Priority) error
	Err() error
	Pending() (inbound, outbound int)
	Close() error
}

type Editor struct {
	Session Conn
	Types   *typedb.DB
	Scene   *scene.Manager

	host   string
	port   int
	config config.EditorConfig
	logger log.Log

	lastRealtime time.Time
}

// NewScene creates the scene manager.
func NewScene(logger log.Log) *scene.Manager {
	return scene.NewManager(logger)
}

// NewTypeDB creates a type database seeded with the engine primitives. Every
// constructed component type gets a matching scene component type.
func NewTypeDB(m *scene.Manager, logger log.Log) *typedb.DB {
	db := typedb.New(nil, func(_ *typedb.DB, name string, _ any) error {
		m.ComponentType(name)
		return nil
	}, logger)
	typedb.InsertPrimitives(db)
	return db
}

// NewSession creates an unconnected session for cfg.Session.
func NewSession(cfg config.Config, logger log.Log) *session.Session {
	return session.New(cfg.Session, nil, logger)
}

// New registers the handlers of types and m on conn.
func New(cfg config.Config, conn Conn, types *typedb.DB, m *scene.Manager, logger log.Log) *Editor {
	types.Register(conn)
	m.Register(conn)

	return &Editor{
		Session: conn,
		Types:   types,
		Scene:   m,
		host:    cfg.Session.Host,
		port:    cfg.Session.Port,
		config:  cfg.Editor,
		logger:  logger.With(log.String("component", "editor")),
	}
}

func (e *Editor) Connect(ctx context.Context) error {
	return e.Session.Connect(ctx, e.host, e.port)
}

// Tick runs one session cycle. Low-priority traffic such as transform drags
// is let through at most once per RealtimeUpdateDelay.
func (e *Editor) Tick(now time.Time) error {
	priority := session.PriorityHigh
	if now.Sub(e.lastRealtime) >= e.config.RealtimeUpdateDelay {
		priority = session.PriorityAny
		e.lastRealtime = now
	}
	return e.Session.Cycle(priority)
}

// Run ticks every TickInterval until ctx is done or the connection fails.
// Errors raised by handlers are logged and do not stop the loop.
func (e *Editor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := e.Tick(now); err != nil {
				if fatal := e.Session.Err(); fatal != nil {
					return fatal
				}
				if errors.Is(err, session.ErrNotConnected) {
					return err
				}
				e.logger.Warn("Cycle failed", log.Error(err))
			}
		}
	}
}

// Flush cycles until every pending request has been answered or ctx is done.
// done reports when the caller's work is complete.
func (e *Editor) Flush(ctx context.Context, done func() bool) error {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for !done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := e.Tick(now); err != nil {
				if fatal := e.Session.Err(); fatal != nil {
					return fatal
				}
				e.logger.Warn("Cycle failed", log.Error(err))
			}
		}
	}
	return nil
}

func (e *Editor) Close() error {
	return e.Session.Close()
}
