package membership

import (
	"context"

	"go.uber.org/fx"
)

// Module exposes the synchronizer, its worker pool, and the reconciler via
// Fx, with the background loops tied to the application lifecycle.
var Module = fx.Options(
	fx.Provide(NewSynchronizer),
	fx.Provide(NewWorker),
	fx.Provide(NewReconciler),
	fx.Invoke(runWorker),
	fx.Invoke(runReconciler),
)

func runWorker(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return w.Stop(ctx)
		},
	})
}

func runReconciler(lc fx.Lifecycle, r *Reconciler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return r.Stop(ctx)
		},
	})
}
