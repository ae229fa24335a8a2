package event

import (
	"github.com/wirebill/wirebill/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event.emitter",
	fx.Provide(service.NewEmitter),
)
