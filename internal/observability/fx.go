package observability

import (
	"github.com/tiendita/tiendita/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(metrics.New),
)
