package injector

import (
	"github.com/google/wire"

	"github.com/singed/scenelink/internal/config"
	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/session"
	"github.com/singed/scenelink/internal/editor"
)

// EditorSet builds an editor connected to nothing yet.
var EditorSet = wire.NewSet(
	ProvideLogger,
	editor.NewScene,
	editor.NewTypeDB,
	editor.NewSession,
	wire.Bind(new(editor.Conn), new(*session.Session)),
	editor.New,
)

func ProvideLogger(cfg config.Config) log.Log {
	return cfg.Logger()
}
