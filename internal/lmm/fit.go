package lmm

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/willtack/nba-longitudinal-efficiency/pkg/logger"
)

// FitOptions controls the optimizer.
type FitOptions struct {
	MaxIterations int
}

// DefaultFitOptions returns optimizer settings suitable for the full table.
func DefaultFitOptions() FitOptions {
	return FitOptions{MaxIterations: 1000}
}

// FittedModel is the result of fitting one ModelSpec: fixed-effect
// estimates with standard errors and p-values, variance components,
// per-observation residuals and fitted values, and likelihood summaries.
type FittedModel struct {
	Spec ModelSpec

	CoefNames []string
	Coef      []float64
	SE        []float64
	Z         []float64
	P         []float64

	// Variance components. Theta is the ratio InterceptVar/ResidualVar
	// profiled during optimization.
	Theta        float64
	ResidualVar  float64
	InterceptVar float64

	LogLik   float64
	Deviance float64
	AIC      float64

	NObs    int
	NGroups int
	NParams int // fixed effects + two variance components

	// Conditional on the estimated random intercepts.
	Fitted    []float64
	Residuals []float64

	RandomIntercepts map[string]float64

	design *Design
}

// sufficient statistics that make each likelihood evaluation cheap: with a
// single random intercept, V = sigma^2 (I + theta Z Z^T) is block diagonal
// by player and each block inverts in closed form.
type glsWorkspace struct {
	n, p int

	xtx *mat.SymDense // X^T X
	xty *mat.VecDense // X^T y
	yty float64

	groupRows [][]int
	colSums   []*mat.VecDense // per group: X_g^T 1
	ySums     []float64       // per group: 1^T y_g
}

type glsSolution struct {
	beta     *mat.VecDense
	chol     mat.Cholesky // factorization of X^T V*^-1 X
	rss      float64
	sigma2   float64
	logDet   float64
	deviance float64
}

// Fit estimates the mixed model for a prepared design by maximum
// likelihood, profiling the fixed effects and residual variance and
// optimizing the variance ratio. Non-convergence and rank deficiency are
// surfaced as ModelFitError; there are no fallback retries.
func Fit(d *Design, opts FitOptions) (*FittedModel, error) {
	ws, err := newWorkspace(d)
	if err != nil {
		return nil, err
	}

	if err := checkRank(d); err != nil {
		return nil, err
	}

	// Profiled -2 log likelihood over x = ln(theta).
	objective := func(x []float64) float64 {
		theta := math.Exp(x[0])
		sol, err := ws.solve(theta)
		if err != nil {
			return math.Inf(1)
		}
		if math.IsNaN(sol.deviance) {
			return math.Inf(1)
		}
		return sol.deviance
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, []float64{0}, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, &ModelFitError{Model: d.Spec.Name, Reason: "optimizer did not converge", Err: err}
	}
	if result.Status != optimize.Success && result.Status != optimize.FunctionConvergence {
		return nil, &ModelFitError{
			Model:  d.Spec.Name,
			Reason: fmt.Sprintf("optimizer stopped with status %v", result.Status),
		}
	}
	if math.IsInf(result.F, 0) || math.IsNaN(result.F) {
		return nil, &ModelFitError{Model: d.Spec.Name, Reason: "likelihood is not finite at the optimum"}
	}

	theta := math.Exp(result.X[0])
	sol, err := ws.solve(theta)
	if err != nil {
		return nil, &ModelFitError{Model: d.Spec.Name, Reason: "design became singular at the optimum", Err: err}
	}

	m := &FittedModel{
		Spec:         d.Spec,
		CoefNames:    append([]string(nil), d.ColNames...),
		Theta:        theta,
		ResidualVar:  sol.sigma2,
		InterceptVar: theta * sol.sigma2,
		Deviance:     sol.deviance,
		LogLik:       -0.5 * sol.deviance,
		NObs:         ws.n,
		NGroups:      len(ws.groupRows),
		NParams:      ws.p + 2,
		design:       d,
	}
	m.AIC = m.Deviance + 2*float64(m.NParams)

	m.Coef = make([]float64, ws.p)
	for j := 0; j < ws.p; j++ {
		m.Coef[j] = sol.beta.AtVec(j)
	}

	// Var(beta) = sigma^2 (X^T V*^-1 X)^-1.
	var cov mat.SymDense
	if err := sol.chol.InverseTo(&cov); err != nil {
		return nil, &ModelFitError{Model: d.Spec.Name, Reason: "cannot invert information matrix", Err: err}
	}
	stdNormal := distuv.Normal{Mu: 0, Sigma: 1}
	m.SE = make([]float64, ws.p)
	m.Z = make([]float64, ws.p)
	m.P = make([]float64, ws.p)
	for j := 0; j < ws.p; j++ {
		m.SE[j] = math.Sqrt(sol.sigma2 * cov.At(j, j))
		m.Z[j] = m.Coef[j] / m.SE[j]
		m.P[j] = 2 * stdNormal.Survival(math.Abs(m.Z[j]))
	}

	m.computeEffects(d, ws, sol, theta)

	logger.GetLogger().WithFields(logrus.Fields{
		"model":         d.Spec.Name,
		"n_obs":         m.NObs,
		"n_players":     m.NGroups,
		"log_lik":       m.LogLik,
		"aic":           m.AIC,
		"intercept_var": m.InterceptVar,
		"residual_var":  m.ResidualVar,
	}).Info("Fitted mixed model")

	return m, nil
}

func newWorkspace(d *Design) (*glsWorkspace, error) {
	n, p := d.X.Dims()
	if n <= p {
		return nil, &ModelFitError{
			Model:  d.Spec.Name,
			Reason: fmt.Sprintf("not enough observations (%d) for %d fixed effects", n, p),
		}
	}

	ws := &glsWorkspace{n: n, p: p}

	ws.xtx = &mat.SymDense{}
	ws.xtx.SymOuterK(1, d.X.T())

	ws.xty = mat.NewVecDense(p, nil)
	y := mat.NewVecDense(n, d.Y)
	ws.xty.MulVec(d.X.T(), y)
	ws.yty = mat.Dot(y, y)

	nGroups := len(d.Players)
	ws.groupRows = make([][]int, nGroups)
	for i, g := range d.GroupIndex {
		ws.groupRows[g] = append(ws.groupRows[g], i)
	}
	ws.colSums = make([]*mat.VecDense, nGroups)
	ws.ySums = make([]float64, nGroups)
	for g, rows := range ws.groupRows {
		s := mat.NewVecDense(p, nil)
		for _, i := range rows {
			for j := 0; j < p; j++ {
				s.SetVec(j, s.AtVec(j)+d.X.At(i, j))
			}
			ws.ySums[g] += d.Y[i]
		}
		ws.colSums[g] = s
	}

	return ws, nil
}

// solve computes the GLS fixed effects, profiled residual variance, and
// -2 log likelihood for a given variance ratio.
func (ws *glsWorkspace) solve(theta float64) (*glsSolution, error) {
	sol := &glsSolution{}

	a := mat.NewSymDense(ws.p, nil)
	a.CopySym(ws.xtx)
	b := mat.NewVecDense(ws.p, nil)
	b.CopyVec(ws.xty)
	yy := ws.yty

	for g, rows := range ws.groupRows {
		ng := float64(len(rows))
		w := theta / (1 + ng*theta)
		sol.logDet += math.Log(1 + ng*theta)

		a.SymRankOne(a, -w, ws.colSums[g])
		b.AddScaledVec(b, -w*ws.ySums[g], ws.colSums[g])
		yy -= w * ws.ySums[g] * ws.ySums[g]
	}

	if ok := sol.chol.Factorize(a); !ok {
		return nil, fmt.Errorf("X^T V^-1 X is not positive definite")
	}

	sol.beta = mat.NewVecDense(ws.p, nil)
	if err := sol.chol.SolveVecTo(sol.beta, b); err != nil {
		return nil, err
	}

	sol.rss = yy - mat.Dot(sol.beta, b)
	if sol.rss <= 0 {
		return nil, fmt.Errorf("non-positive residual sum of squares")
	}
	sol.sigma2 = sol.rss / float64(ws.n)
	sol.deviance = float64(ws.n)*(math.Log(2*math.Pi*sol.sigma2)+1) + sol.logDet

	return sol, nil
}

// computeEffects fills in BLUPs, conditional fitted values, and residuals.
func (m *FittedModel) computeEffects(d *Design, ws *glsWorkspace, sol *glsSolution, theta float64) {
	n := ws.n

	// Marginal residuals y - X beta.
	marginal := make([]float64, n)
	xb := mat.NewVecDense(n, nil)
	xb.MulVec(d.X, sol.beta)
	for i := 0; i < n; i++ {
		marginal[i] = d.Y[i] - xb.AtVec(i)
	}

	// BLUP per player: theta * sum(resid_g) / (1 + n_g theta).
	blups := make([]float64, len(ws.groupRows))
	m.RandomIntercepts = make(map[string]float64, len(ws.groupRows))
	for g, rows := range ws.groupRows {
		sum := 0.0
		for _, i := range rows {
			sum += marginal[i]
		}
		blups[g] = theta * sum / (1 + float64(len(rows))*theta)
		m.RandomIntercepts[d.Players[g]] = blups[g]
	}

	m.Fitted = make([]float64, n)
	m.Residuals = make([]float64, n)
	for i := 0; i < n; i++ {
		m.Fitted[i] = xb.AtVec(i) + blups[d.GroupIndex[i]]
		m.Residuals[i] = d.Y[i] - m.Fitted[i]
	}
}

// checkRank rejects rank-deficient fixed-effect designs up front so the
// failure mode is explicit rather than an optimizer artifact.
func checkRank(d *Design) error {
	var svd mat.SVD
	if ok := svd.Factorize(d.X, mat.SVDNone); !ok {
		return &ModelFitError{Model: d.Spec.Name, Reason: "SVD of design matrix failed"}
	}
	sv := svd.Values(nil)
	n, p := d.X.Dims()
	dim := n
	if p > dim {
		dim = p
	}
	tol := float64(dim) * sv[0] * 1e-12
	rank := 0
	for _, s := range sv {
		if s > tol {
			rank++
		}
	}
	if rank < p {
		return &ModelFitError{
			Model:  d.Spec.Name,
			Reason: fmt.Sprintf("rank-deficient design matrix (rank %d of %d columns)", rank, p),
		}
	}
	return nil
}
