package eventcache

import (
	"github.com/andora/tokenledger/internal/eventcache/service"
	"go.uber.org/fx"
)

var Module = fx.Module("eventcache.service",
	fx.Provide(service.NewService),
)
