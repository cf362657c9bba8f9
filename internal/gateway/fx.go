package gateway

import (
	"github.com/vidaalinhada/alinhada/internal/config"
	gatewaydomain "github.com/vidaalinhada/alinhada/internal/gateway/domain"
	"github.com/vidaalinhada/alinhada/internal/gateway/mercadopago"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config, log *zap.Logger) gatewaydomain.Client {
		return mercadopago.New(cfg, log)
	}),
)
