package lifecycle

import "go.uber.org/fx"

// Module exposes the lifecycle engine via Fx. The engine is also bound to
// the Sink interface consumed by webhook handlers and the scheduler.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Provide(func(e *Engine) Sink { return e }),
)
