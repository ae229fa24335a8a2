package notification

import (
	"github.com/wirebill/wirebill/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.outbox",
	fx.Provide(service.NewOutbox),
)
