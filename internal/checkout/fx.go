package checkout

import (
	"go.uber.org/fx"

	"github.com/vidaalinhada/alinhada/internal/checkout/repository"
	"github.com/vidaalinhada/alinhada/internal/checkout/service"
)

var Module = fx.Module("checkout",
	fx.Provide(
		repository.Provide,
		service.Provide,
	),
)
