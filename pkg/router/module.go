package router

import (
	"go.uber.org/fx"

	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
)

type routerParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"another_log"`
	Registry      *registry.Registry
	Logs          *inferlog.Store
	Counters      RequestCounter `optional:"true"`
}

// Module provides the CostBenefitRouter.
var Module = fx.Provide(
	func(params routerParams) *CostBenefitRouter {
		return NewRouter(params.Registry, params.Logs, params.Counters, params.AnotherLogger)
	})
