package prepaid

import (
	"github.com/wirebill/wirebill/internal/prepaid/service"
	"go.uber.org/fx"
)

var Module = fx.Module("prepaid",
	fx.Provide(service.NewService),
)
