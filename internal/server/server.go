package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/questforge-ai/modelplane/pkg/deployment"
	"github.com/questforge-ai/modelplane/pkg/finetune"
	"github.com/questforge-ai/modelplane/pkg/guardrails"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/logging/ginlog"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/respcache"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Generator serves inference requests. Implemented by the LLM client.
type Generator interface {
	Generate(ctx context.Context, req *types.GenerateRequest) *types.GenerateResponse
}

// ModelRegistry is the registry surface the API exposes.
type ModelRegistry interface {
	Register(ctx context.Context, params registry.RegisterParams) (string, error)
	GetCurrent(ctx context.Context, useCase string) (*registry.Model, error)
	ListCandidates(ctx context.Context, useCase string) ([]registry.Model, error)
	UseCasesWithCurrent(ctx context.Context) ([]string, error)
}

// BetterChecker is the router's candidate comparison.
type BetterChecker interface {
	CheckForBetter(ctx context.Context, useCase, currentModelID string) (bool, string, error)
}

// Deployer runs rollouts.
type Deployer interface {
	Deploy(ctx context.Context, newModelID, currentModelID string, strategy types.DeploymentStrategy) (*deployment.Outcome, error)
}

// RollbackInvoker restores a model from a snapshot.
type RollbackInvoker interface {
	RollbackWithReason(ctx context.Context, modelID, snapshotID, reason string) error
}

// FineTuner runs the fine-tune pipeline.
type FineTuner interface {
	FineTune(ctx context.Context, params finetune.Params) (*finetune.Job, error)
}

// OutputMonitor runs guardrails over submitted outputs.
type OutputMonitor interface {
	Monitor(ctx context.Context, modelID string, outputs []string) *guardrails.Result
}

// ClientStatus exposes the LLM client's operational state.
type ClientStatus interface {
	BreakerStates() map[string]string
	RequestCounts() map[string]int64
}

// CacheStatus exposes response cache counters.
type CacheStatus interface {
	Metrics() respcache.Metrics
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// Server is the control plane's HTTP surface.
type Server struct {
	config    *Config
	generator Generator
	models    ModelRegistry
	checker   BetterChecker
	deployer  Deployer
	rollback  RollbackInvoker
	finetuner FineTuner
	monitor   OutputMonitor
	client    ClientStatus
	cache     CacheStatus
	health    map[string]HealthCheck
	logger    logging.Interface
	zap       *zap.Logger
}

// Deps carries the server's collaborators. Cache and Client may be nil; their
// status sections are omitted. Health holds named dependency pings.
type Deps struct {
	Generator Generator
	Models    ModelRegistry
	Checker   BetterChecker
	Deployer  Deployer
	Rollback  RollbackInvoker
	FineTuner FineTuner
	Monitor   OutputMonitor
	Client    ClientStatus
	Cache     CacheStatus
	Health    map[string]HealthCheck
	Logger    logging.Interface
	Zap       *zap.Logger
}

func NewServer(config *Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		config:    config,
		generator: deps.Generator,
		models:    deps.Models,
		checker:   deps.Checker,
		deployer:  deps.Deployer,
		rollback:  deps.Rollback,
		finetuner: deps.FineTuner,
		monitor:   deps.Monitor,
		client:    deps.Client,
		cache:     deps.Cache,
		health:    deps.Health,
		logger:    logger,
		zap:       deps.Zap,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if s.zap != nil {
		router.Use(ginlog.RequestLogger(s.zap,
			ginlog.WithRequestLoggerLevelByPath(map[string]zapcore.Level{
				"/healthz": zapcore.DebugLevel,
			})))
	}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/generate", s.handleGenerate)
		v1.GET("/models/current", s.handleGetCurrent)
		v1.GET("/models/candidates", s.handleListCandidates)
		v1.GET("/models/check-better", s.handleCheckForBetter)
		v1.POST("/monitor", s.handleMonitor)
		v1.GET("/status", s.handleStatus)

		admin := v1.Group("", s.adminAuth())
		{
			admin.POST("/models", s.handleRegister)
			admin.POST("/deployments", s.handleDeploy)
			admin.POST("/rollback", s.handleRollback)
			admin.POST("/finetune", s.handleFineTune)
		}
	}
	return router
}
