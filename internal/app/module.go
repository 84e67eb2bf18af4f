package app

import (
	"time"

	"github.com/channelgate/channelgate/internal/app/api/server"
	"github.com/channelgate/channelgate/internal/app/service/idempotency"
	"github.com/channelgate/channelgate/internal/app/service/lifecycle"
	"github.com/channelgate/channelgate/internal/app/service/membership"
	"github.com/channelgate/channelgate/internal/app/service/normalizer"
	"github.com/channelgate/channelgate/internal/app/service/notifier"
	"github.com/channelgate/channelgate/internal/app/service/scheduler"
	"github.com/channelgate/channelgate/internal/app/service/subscription"
	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/platform/db"
	"github.com/channelgate/channelgate/internal/platform/telegram"
	"github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	clock.Module,
	db.Module,
	telegram.Module,
	server.Module,
	normalizer.Module,
	idempotency.Module,
	lifecycle.Module,
	membership.Module,
	scheduler.Module,
	notifier.Module,
	subscription.Module,
)
