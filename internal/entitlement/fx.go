package entitlement

import (
	"go.uber.org/fx"

	"github.com/vidaalinhada/alinhada/internal/entitlement/repository"
	"github.com/vidaalinhada/alinhada/internal/entitlement/service"
)

var Module = fx.Module("entitlement",
	fx.Provide(
		repository.Provide,
		service.Provide,
	),
)
