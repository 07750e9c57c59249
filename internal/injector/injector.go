//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"io"

	"github.com/google/wire"

	"github.com/zeusync/relpose/internal/config"
)

func InitializeApp(cfg config.Config, w io.Writer) (*App, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
