package agentconfig

import (
	"github.com/andora/tokenledger/internal/agentconfig/repository"
	"github.com/andora/tokenledger/internal/agentconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("agentconfig",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
