package policy

import (
	"github.com/wirebill/wirebill/internal/policy/service"
	"go.uber.org/fx"
)

var Module = fx.Module("policy.resolver",
	fx.Provide(service.NewResolver),
)
