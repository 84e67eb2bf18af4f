package notifier

import (
	"go.uber.org/fx"

	"github.com/channelgate/channelgate/internal/app/service/lifecycle"
)

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(func(s *Service) lifecycle.Notifier { return s }),
)
