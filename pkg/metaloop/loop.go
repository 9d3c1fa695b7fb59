package metaloop

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/questforge-ai/modelplane/pkg/deployment"
	"github.com/questforge-ai/modelplane/pkg/discovery"
	"github.com/questforge-ai/modelplane/pkg/guardrails"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

const (
	defaultCheckInterval = time.Hour
	recoveryInterval     = 60 * time.Second
	outputSampleSize     = 20
)

// Decision types produced by a cycle.
const (
	DecisionRollback         = "rollback"
	DecisionAdjustParameters = "adjust_parameters"
	DecisionDeployModel      = "deploy_model"
)

// Decision priorities; higher runs first. Guardrails outrank deployments.
const (
	priorityCritical = 100
	priorityHigh     = 75
	priorityMedium   = 50
	priorityAdjust   = 40
	priorityLow      = 25
	priorityDeploy   = 10
)

// Config key capping sampling temperature when a model degrades.
const configKeyTemperatureCap = "temperature_cap"

// Decision is one action the loop derived from observed state.
type Decision struct {
	Type        string `json:"type"`
	UseCase     string `json:"use_case"`
	ModelID     string `json:"model_id"`
	CandidateID string `json:"candidate_id,omitempty"`
	Priority    int    `json:"priority"`
	Reason      string `json:"reason"`
	// Implemented is set once the decision's action ran (or was already
	// applied at detection time, as guardrails interventions are).
	Implemented bool   `json:"implemented"`
	Error       string `json:"error,omitempty"`
}

// CycleReport summarizes one loop iteration.
type CycleReport struct {
	UseCases   int        `json:"use_cases"`
	Registered int        `json:"registered_candidates"`
	Decisions  []Decision `json:"decisions"`
}

// ModelSource is the slice of the registry the loop reads and mutates.
type ModelSource interface {
	UseCasesWithCurrent(ctx context.Context) ([]string, error)
	GetCurrent(ctx context.Context, useCase string) (*registry.Model, error)
	ListCandidates(ctx context.Context, useCase string) ([]registry.Model, error)
	Register(ctx context.Context, params registry.RegisterParams) (string, error)
	UpdatePerformance(ctx context.Context, modelID string, metrics types.Document) error
	UpdateConfig(ctx context.Context, modelID string, patch types.Document) error
}

// MetricsSource supplies aggregated health and recent outputs.
type MetricsSource interface {
	Aggregate(ctx context.Context, modelID string, window time.Duration) (*inferlog.AggregateMetrics, error)
	Query(ctx context.Context, params inferlog.QueryParams) ([]inferlog.InferenceLog, error)
}

// OutputMonitor runs guardrails over sampled outputs. The monitor applies its
// own interventions at detection time.
type OutputMonitor interface {
	Monitor(ctx context.Context, modelID string, outputs []string) *guardrails.Result
}

// BetterChecker is the router's candidate comparison.
type BetterChecker interface {
	CheckForBetter(ctx context.Context, useCase, currentModelID string) (bool, string, error)
}

// Deployer rolls a candidate out.
type Deployer interface {
	Deploy(ctx context.Context, newModelID, currentModelID string, strategy types.DeploymentStrategy) (*deployment.Outcome, error)
}

// Loop is the meta-management cycle: discover, measure, monitor, decide,
// implement. It runs until its context is cancelled; decisions are derived
// from observed state each cycle, so missed cycles are tolerated.
type Loop struct {
	models   ModelSource
	metrics  MetricsSource
	monitor  OutputMonitor
	checker  BetterChecker
	deployer Deployer
	scanners []discovery.Scanner
	logger   logging.Interface

	checkInterval time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewLoop(models ModelSource, metrics MetricsSource, monitor OutputMonitor,
	checker BetterChecker, deployer Deployer, scanners []discovery.Scanner,
	checkInterval time.Duration, logger logging.Interface) *Loop {
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loop{
		models:        models,
		metrics:       metrics,
		monitor:       monitor,
		checker:       checker,
		deployer:      deployer,
		scanners:      scanners,
		logger:        logger,
		checkInterval: checkInterval,
		sleep:         sleepCtx,
	}
}

// Run executes cycles until ctx is cancelled. A failed cycle sleeps a short
// recovery interval instead of the full period.
func (l *Loop) Run(ctx context.Context) error {
	for {
		report, err := l.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.WithError(err).Warn("Meta-loop cycle failed, backing off")
			if err := l.sleep(ctx, recoveryInterval); err != nil {
				return err
			}
			continue
		}

		l.logger.WithField("use_cases", report.UseCases).
			WithField("registered", report.Registered).
			WithField("decisions", len(report.Decisions)).
			Info("Meta-loop cycle complete")

		if err := l.sleep(ctx, l.checkInterval); err != nil {
			return err
		}
	}
}

// RunCycle performs one full iteration and reports what it did.
func (l *Loop) RunCycle(ctx context.Context) (*CycleReport, error) {
	useCases, err := l.models.UseCasesWithCurrent(ctx)
	if err != nil {
		return nil, err
	}

	report := &CycleReport{UseCases: len(useCases)}
	var decisions []Decision
	// Use cases where guardrails already forced a rollback this cycle; no
	// deployment may land on them until the next observation.
	frozen := map[string]bool{}

	for _, useCase := range useCases {
		current, err := l.models.GetCurrent(ctx, useCase)
		if err != nil {
			l.logger.WithError(err).WithField("use_case", useCase).
				Warn("Skipping use case, current model unreadable")
			continue
		}

		report.Registered += l.discover(ctx, useCase, current)
		l.refreshPerformance(ctx, current)

		if d := l.checkGuardrails(ctx, useCase, current); d != nil {
			decisions = append(decisions, *d)
			if d.Priority >= priorityHigh {
				frozen[useCase] = true
			}
		}
		if d := l.checkHealth(ctx, useCase, current); d != nil {
			decisions = append(decisions, *d)
		}
		if d := l.checkBetter(ctx, useCase, current); d != nil {
			decisions = append(decisions, *d)
		}
	}

	sort.SliceStable(decisions, func(i, j int) bool {
		return decisions[i].Priority > decisions[j].Priority
	})
	for i := range decisions {
		l.implement(ctx, &decisions[i], frozen)
	}

	report.Decisions = decisions
	return report, nil
}

// discover runs every scanner for the use case and registers unseen models
// as candidates.
func (l *Loop) discover(ctx context.Context, useCase string, current *registry.Model) int {
	if len(l.scanners) == 0 {
		return 0
	}

	known := map[string]bool{modelKey(current.Name, current.Version): true}
	if candidates, err := l.models.ListCandidates(ctx, useCase); err == nil {
		for _, c := range candidates {
			known[modelKey(c.Name, c.Version)] = true
		}
	}

	registered := 0
	for _, scanner := range l.scanners {
		found, err := scanner.Scan(ctx, useCase)
		if err != nil {
			l.logger.WithError(err).WithField("scanner", scanner.Name()).
				WithField("use_case", useCase).Warn("Discovery scan failed")
			continue
		}

		for _, candidate := range found {
			key := modelKey(candidate.Name, candidate.Version)
			if known[key] {
				continue
			}
			_, err := l.models.Register(ctx, registry.RegisterParams{
				Name:     candidate.Name,
				Kind:     candidate.Kind,
				Provider: candidate.Provider,
				UseCase:  useCase,
				Version:  orUnknown(candidate.Version),
				Config:   candidate.Config,
				Metrics:  candidate.Metrics,
			})
			if err != nil {
				l.logger.WithError(err).WithField("name", candidate.Name).
					Warn("Failed to register discovered candidate")
				continue
			}
			known[key] = true
			registered++
		}
	}
	return registered
}

// refreshPerformance folds the recent aggregate into the model's metrics so
// routing decisions see measured reality.
func (l *Loop) refreshPerformance(ctx context.Context, current *registry.Model) {
	agg, err := l.metrics.Aggregate(ctx, current.ID, deployment.HealthWindow)
	if err != nil {
		l.logger.WithError(err).WithField("model_id", current.ID).
			Warn("Failed to aggregate recent metrics")
		return
	}
	if agg.Total == 0 {
		return
	}

	err = l.models.UpdatePerformance(ctx, current.ID, types.Document{
		"sample_count":   agg.Total,
		"error_rate":     agg.ErrorRate(),
		"avg_latency_ms": agg.AvgLatencyMS,
		"p50_latency_ms": agg.P50LatencyMS,
		"p95_latency_ms": agg.P95LatencyMS,
		"avg_quality":    agg.AvgQuality,
		"measured_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		l.logger.WithError(err).WithField("model_id", current.ID).
			Warn("Failed to record performance metrics")
	}
}

// checkGuardrails samples recent outputs and runs the monitor. The monitor's
// policy intervenes on its own; the decision records what happened at a
// severity-mapped priority.
func (l *Loop) checkGuardrails(ctx context.Context, useCase string, current *registry.Model) *Decision {
	logs, err := l.metrics.Query(ctx, inferlog.QueryParams{
		ModelID: current.ID,
		UseCase: useCase,
		Limit:   outputSampleSize,
	})
	if err != nil {
		l.logger.WithError(err).WithField("model_id", current.ID).
			Warn("Failed to sample outputs for guardrails")
		return nil
	}

	outputs := make([]string, 0, len(logs))
	for _, log := range logs {
		if log.Output != "" {
			outputs = append(outputs, log.Output)
		}
	}
	if len(outputs) == 0 {
		return nil
	}

	result := l.monitor.Monitor(ctx, current.ID, outputs)
	if result.Compliant || len(result.Violations) == 0 {
		return nil
	}

	severity := types.SeverityLow
	for _, v := range result.Violations {
		severity = types.MaxSeverity(severity, v.Severity)
	}
	return &Decision{
		Type:        DecisionRollback,
		UseCase:     useCase,
		ModelID:     current.ID,
		Priority:    severityPriority(severity),
		Reason:      fmt.Sprintf("guardrails: %d violation(s), max severity %s", len(result.Violations), severity),
		Implemented: true, // the monitor's intervention policy already acted
	}
}

// checkHealth applies the deployment health gate to the current model.
func (l *Loop) checkHealth(ctx context.Context, useCase string, current *registry.Model) *Decision {
	agg, err := l.metrics.Aggregate(ctx, current.ID, deployment.HealthWindow)
	if err != nil || agg.Total == 0 {
		return nil
	}

	var reason string
	switch {
	case agg.ErrorRate() > deployment.MaxErrorRate:
		reason = fmt.Sprintf("error rate %.1f%% over threshold", agg.ErrorRate()*100)
	case agg.AvgLatencyMS > deployment.MaxAvgLatencyMS:
		reason = fmt.Sprintf("avg latency %.0fms over threshold", agg.AvgLatencyMS)
	default:
		return nil
	}

	return &Decision{
		Type:     DecisionAdjustParameters,
		UseCase:  useCase,
		ModelID:  current.ID,
		Priority: priorityAdjust,
		Reason:   reason,
	}
}

// checkBetter asks the router whether a candidate outranks the current model.
func (l *Loop) checkBetter(ctx context.Context, useCase string, current *registry.Model) *Decision {
	better, betterID, err := l.checker.CheckForBetter(ctx, useCase, current.ID)
	if err != nil {
		l.logger.WithError(err).WithField("use_case", useCase).
			Warn("Candidate comparison failed")
		return nil
	}
	if !better {
		return nil
	}
	return &Decision{
		Type:        DecisionDeployModel,
		UseCase:     useCase,
		ModelID:     current.ID,
		CandidateID: betterID,
		Priority:    priorityDeploy,
		Reason:      fmt.Sprintf("candidate %s scores higher than current", betterID),
	}
}

// implement executes one decision. Guardrails decisions were applied at
// detection time; deployments respect the per-use-case freeze.
func (l *Loop) implement(ctx context.Context, d *Decision, frozen map[string]bool) {
	switch d.Type {
	case DecisionRollback:
		// Already applied by the guardrails intervention policy.

	case DecisionAdjustParameters:
		err := l.models.UpdateConfig(ctx, d.ModelID, types.Document{
			configKeyTemperatureCap: 0.7,
		})
		if err != nil {
			d.Error = err.Error()
			l.logger.WithError(err).WithField("model_id", d.ModelID).
				Warn("Failed to adjust model parameters")
			return
		}
		d.Implemented = true

	case DecisionDeployModel:
		if frozen[d.UseCase] {
			d.Error = "skipped: guardrails intervention this cycle"
			return
		}
		outcome, err := l.deployer.Deploy(ctx, d.CandidateID, d.ModelID, types.StrategyCanary)
		if err != nil {
			d.Error = err.Error()
			l.logger.WithError(err).WithField("candidate_id", d.CandidateID).
				Warn("Deployment of better candidate failed")
			return
		}
		d.Implemented = true
		if !outcome.Success {
			d.Error = outcome.Reason
		}
	}
}

func severityPriority(severity types.Severity) int {
	switch severity {
	case types.SeverityCritical:
		return priorityCritical
	case types.SeverityHigh:
		return priorityHigh
	case types.SeverityMedium:
		return priorityMedium
	default:
		return priorityLow
	}
}

func modelKey(name, version string) string {
	return name + "@" + version
}

func orUnknown(version string) string {
	if version == "" {
		return "unknown"
	}
	return version
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
