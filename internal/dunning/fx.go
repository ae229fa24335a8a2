package dunning

import (
	"github.com/wirebill/wirebill/internal/dunning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dunning",
	fx.Provide(service.NewService),
)
