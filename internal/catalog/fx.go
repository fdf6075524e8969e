package catalog

import (
	"github.com/tiendita/tiendita/internal/catalog/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog",
	fx.Provide(repository.Provide),
)
