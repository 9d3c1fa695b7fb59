package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/finetune"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

const healthCheckTimeout = 2 * time.Second

// errorEnvelope is the uniform error body for every failed request.
type errorEnvelope struct {
	Code    apierror.Code `json:"code"`
	Message string        `json:"message"`
}

func respondError(c *gin.Context, err error) {
	apiErr := apierror.FromError(err)
	c.JSON(apiErr.HTTPStatus(), errorEnvelope{Code: apiErr.Code, Message: apiErr.Message})
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req types.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.InvalidArgument("malformed generate request: %v", err))
		return
	}
	if req.Layer == "" || req.Prompt == "" {
		respondError(c, apierror.InvalidArgument("layer and prompt are required"))
		return
	}

	// Generate never fails outward; fallbacks surface inside the response.
	c.JSON(http.StatusOK, s.generator.Generate(c.Request.Context(), &req))
}

func (s *Server) handleRegister(c *gin.Context) {
	var params registry.RegisterParams
	if err := c.ShouldBindJSON(&params); err != nil {
		respondError(c, apierror.InvalidArgument("malformed model registration: %v", err))
		return
	}

	modelID, err := s.models.Register(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"model_id": modelID})
}

func (s *Server) handleGetCurrent(c *gin.Context) {
	useCase := c.Query("use_case")
	if useCase == "" {
		respondError(c, apierror.InvalidArgument("use_case query parameter is required"))
		return
	}

	model, err := s.models.GetCurrent(c.Request.Context(), useCase)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

func (s *Server) handleListCandidates(c *gin.Context) {
	useCase := c.Query("use_case")
	if useCase == "" {
		respondError(c, apierror.InvalidArgument("use_case query parameter is required"))
		return
	}

	candidates, err := s.models.ListCandidates(c.Request.Context(), useCase)
	if err != nil {
		respondError(c, err)
		return
	}
	if candidates == nil {
		candidates = []registry.Model{}
	}
	c.JSON(http.StatusOK, gin.H{"use_case": useCase, "candidates": candidates})
}

func (s *Server) handleCheckForBetter(c *gin.Context) {
	useCase := c.Query("use_case")
	if useCase == "" {
		respondError(c, apierror.InvalidArgument("use_case query parameter is required"))
		return
	}

	current, err := s.models.GetCurrent(c.Request.Context(), useCase)
	if err != nil {
		respondError(c, err)
		return
	}

	better, candidateID, err := s.checker.CheckForBetter(c.Request.Context(), useCase, current.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"use_case":         useCase,
		"current_model_id": current.ID,
		"better_available": better,
		"candidate_id":     candidateID,
	})
}

type deployRequest struct {
	NewModelID     string `json:"new_model_id"`
	CurrentModelID string `json:"current_model_id"`
	Strategy       string `json:"strategy"`
}

func (s *Server) handleDeploy(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.InvalidArgument("malformed deployment request: %v", err))
		return
	}
	if req.NewModelID == "" {
		respondError(c, apierror.InvalidArgument("new_model_id is required"))
		return
	}

	strategy := types.DeploymentStrategy(req.Strategy)
	if req.Strategy == "" {
		strategy = types.StrategyCanary
	}

	outcome, err := s.deployer.Deploy(c.Request.Context(), req.NewModelID, req.CurrentModelID, strategy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

type rollbackRequest struct {
	ModelID    string `json:"model_id"`
	SnapshotID string `json:"snapshot_id"`
	Reason     string `json:"reason"`
}

func (s *Server) handleRollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.InvalidArgument("malformed rollback request: %v", err))
		return
	}
	if req.ModelID == "" {
		respondError(c, apierror.InvalidArgument("model_id is required"))
		return
	}

	if err := s.rollback.RollbackWithReason(c.Request.Context(), req.ModelID, req.SnapshotID, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model_id": req.ModelID, "restored": true})
}

func (s *Server) handleFineTune(c *gin.Context) {
	var params finetune.Params
	if err := c.ShouldBindJSON(&params); err != nil {
		respondError(c, apierror.InvalidArgument("malformed fine-tune request: %v", err))
		return
	}

	job, err := s.finetuner.FineTune(c.Request.Context(), params)
	if err != nil {
		// A failed pipeline still produced a job record worth returning.
		if job != nil {
			apiErr := apierror.FromError(err)
			c.JSON(apiErr.HTTPStatus(), gin.H{
				"job":     job,
				"code":    apiErr.Code,
				"message": apiErr.Message,
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type monitorRequest struct {
	ModelID string   `json:"model_id"`
	Outputs []string `json:"outputs"`
}

func (s *Server) handleMonitor(c *gin.Context) {
	var req monitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierror.InvalidArgument("malformed monitor request: %v", err))
		return
	}
	if req.ModelID == "" || len(req.Outputs) == 0 {
		respondError(c, apierror.InvalidArgument("model_id and outputs are required"))
		return
	}

	c.JSON(http.StatusOK, s.monitor.Monitor(c.Request.Context(), req.ModelID, req.Outputs))
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	status := gin.H{"time": time.Now().UTC().Format(time.RFC3339)}

	if useCases, err := s.models.UseCasesWithCurrent(ctx); err == nil {
		status["use_cases"] = useCases
	}
	if s.client != nil {
		status["circuit_breakers"] = s.client.BreakerStates()
		status["request_counts"] = s.client.RequestCounts()
	}
	if s.cache != nil {
		status["cache"] = s.cache.Metrics()
	}

	deps := gin.H{}
	for name, check := range s.health {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		if err := check(checkCtx); err != nil {
			deps[name] = err.Error()
		} else {
			deps[name] = "ok"
		}
		cancel()
	}
	if len(deps) > 0 {
		status["dependencies"] = deps
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
