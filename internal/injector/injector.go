//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/singed/scenelink/internal/config"
	"github.com/singed/scenelink/internal/editor"
)

func InitializeEditor(cfg config.Config) *editor.Editor {
	wire.Build(EditorSet)
	return nil
}
