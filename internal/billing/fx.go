package billing

import (
	"github.com/tiendita/tiendita/internal/billing/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.store",
	fx.Provide(repository.Provide),
)
