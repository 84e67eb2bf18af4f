package idempotency

import "go.uber.org/fx"

// Module exposes the idempotency guard via Fx.
var Module = fx.Options(
	fx.Provide(NewGuard),
)
