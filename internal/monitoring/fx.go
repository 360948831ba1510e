package monitoring

import (
	"github.com/andora/tokenledger/internal/monitoring/domain"
	"github.com/andora/tokenledger/internal/monitoring/service"
	usagedomain "github.com/andora/tokenledger/internal/usage/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("monitoring.engine",
	fx.Provide(
		service.NewEngine,
		func(e *service.Engine) domain.Service { return e },
		func(e *service.Engine) usagedomain.DeductionObserver { return e },
	),
)
