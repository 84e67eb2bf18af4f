package normalizer

import "go.uber.org/fx"

// Module exposes the normalizer service via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
