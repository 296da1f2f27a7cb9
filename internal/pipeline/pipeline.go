// Package pipeline wires the loader, derivation engine, summarizer, model
// catalog, comparison, and diagnostics into a single batch run.
package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/willtack/nba-longitudinal-efficiency/internal/dataset"
	"github.com/willtack/nba-longitudinal-efficiency/internal/derive"
	"github.com/willtack/nba-longitudinal-efficiency/internal/descriptive"
	"github.com/willtack/nba-longitudinal-efficiency/internal/lmm"
	"github.com/willtack/nba-longitudinal-efficiency/pkg/config"
	"github.com/willtack/nba-longitudinal-efficiency/pkg/logger"
)

// anovaPairs declares the nested comparisons to attempt, smaller model
// first. Pairs that fail the nesting or response-scale guards are
// reported as rejections, not computed.
var anovaPairs = [][2]string{
	{"baseline_linear", "quadratic_anthro"},
	{"baseline_linear", "spline_anthro"},
	{"baseline_linear", "season_factor"},
	// Cross-scale pair kept deliberately: the guard must reject it.
	{"baseline_linear", "logit_response"},
}

// Result carries every numeric artifact the renderers consume.
type Result struct {
	RunID string

	Records      []derive.Record
	FilterReport derive.FilterReport
	Summary      *descriptive.Summary

	Models    []*lmm.FittedModel
	FitErrors map[string]error

	AICRows         []lmm.AICRow
	Anovas          []*lmm.AnovaResult
	AnovaRejections []string

	// Diagnostics for the AIC-best model.
	BestModel     *lmm.FittedModel
	Residuals     *lmm.ResidualDiagnostics
	RandomEffects *lmm.RandomEffectDiagnostics
	VIFs          []lmm.VIFResult
}

// Model returns the fitted model with the given catalog name, or nil.
func (r *Result) Model(name string) *lmm.FittedModel {
	for _, m := range r.Models {
		if m.Spec.Name == name {
			return m
		}
	}
	return nil
}

// Run executes the full analysis over the configured input file.
// Schema-level load failures abort; per-variant fit failures are collected
// and the remaining variants still run.
func Run(cfg *config.Config) (*Result, error) {
	runID := uuid.New().String()
	log := logger.WithRunContext(runID)

	res := &Result{RunID: runID, FitErrors: make(map[string]error)}

	records, err := dataset.LoadFile(cfg.InputFile)
	if err != nil {
		return nil, err
	}

	deriveCfg := derive.DefaultConfig()
	deriveCfg.MinGpPct = cfg.MinGpPct
	res.Records, res.FilterReport, err = derive.Derive(records, deriveCfg)
	if err != nil {
		return nil, fmt.Errorf("derivation failed: %w", err)
	}

	res.Summary = descriptive.Summarize(res.Records)

	skip := make(map[string]bool, len(cfg.SkipModels))
	for _, name := range cfg.SkipModels {
		skip[name] = true
	}

	fitOpts := lmm.FitOptions{MaxIterations: cfg.MaxFitIterations}
	for _, spec := range lmm.DefaultCatalog() {
		if skip[spec.Name] {
			log.WithField("model", spec.Name).Info("Skipping model by configuration")
			continue
		}

		m, err := fitOne(res.Records, spec, fitOpts)
		if err != nil {
			res.FitErrors[spec.Name] = err
			logger.WithModelContext(runID, spec.Name).WithError(err).
				Warn("Model variant failed; continuing with remaining variants")
			continue
		}
		res.Models = append(res.Models, m)
	}

	if len(res.Models) == 0 {
		return nil, fmt.Errorf("no model variant converged (%d failures)", len(res.FitErrors))
	}

	res.AICRows = lmm.AICTable(res.Models)
	res.BestModel = res.Model(res.AICRows[0].Model)

	for _, pair := range anovaPairs {
		small, big := res.Model(pair[0]), res.Model(pair[1])
		if small == nil || big == nil {
			continue
		}
		a, err := lmm.Anova(small, big)
		if err != nil {
			res.AnovaRejections = append(res.AnovaRejections, err.Error())
			continue
		}
		res.Anovas = append(res.Anovas, a)
	}

	res.Residuals = lmm.ResidualAnalysis(res.BestModel, 30)
	res.RandomEffects = lmm.RandomEffectAnalysis(res.BestModel, 10)
	res.VIFs = lmm.VIF(res.BestModel, cfg.VIFThreshold)

	log.WithFields(logrus.Fields{
		"models_fit":    len(res.Models),
		"models_failed": len(res.FitErrors),
		"best_model":    res.BestModel.Spec.Name,
		"best_aic":      res.BestModel.AIC,
	}).Info("Analysis run complete")

	return res, nil
}

func fitOne(records []derive.Record, spec lmm.ModelSpec, opts lmm.FitOptions) (*lmm.FittedModel, error) {
	design, err := lmm.BuildDesign(records, spec)
	if err != nil {
		return nil, err
	}
	return lmm.Fit(design, opts)
}
