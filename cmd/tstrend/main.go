package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"github.com/willtack/nba-longitudinal-efficiency/internal/descriptive"
	"github.com/willtack/nba-longitudinal-efficiency/internal/lmm"
	"github.com/willtack/nba-longitudinal-efficiency/internal/pipeline"
	"github.com/willtack/nba-longitudinal-efficiency/pkg/config"
	"github.com/willtack/nba-longitudinal-efficiency/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())

	// Positional argument overrides INPUT_FILE.
	if len(os.Args) > 1 {
		cfg.InputFile = os.Args[1]
	}

	result, err := pipeline.Run(cfg)
	if err != nil {
		logrus.Fatalf("Analysis failed: %v", err)
	}

	printFilterReport(result)
	printSummary(result, cfg.SummaryDecimals)
	printCoefficients(result.BestModel)
	printAIC(result)
	printAnovas(result)
	printVIF(result)
	printRandomEffects(result)
}

func printFilterReport(res *pipeline.Result) {
	fmt.Println("\nRow filtering:")
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"Step", "Rows dropped"})
	r := res.FilterReport
	t.Append([]string{"input rows", strconv.Itoa(r.InputRows)})
	t.Append([]string{"invalid draft round", strconv.Itoa(r.DroppedInvalidDraft)})
	t.Append([]string{"gp_pct <= threshold", strconv.Itoa(r.DroppedStrictGpPct)})
	t.Append([]string{"malformed season", strconv.Itoa(r.DroppedMalformedSeason)})
	t.Append([]string{"gp_pct < threshold (2nd pass)", strconv.Itoa(r.DroppedNonStrictGpPct)})
	t.Append([]string{"analytic rows", strconv.Itoa(r.OutputRows)})
	t.Render()
}

func printSummary(res *pipeline.Result, decimals int) {
	fmt.Println("\nDescriptive statistics, mean (SD) by draft round:")
	t := tablewriter.NewWriter(os.Stdout)

	header := []string{"Variable"}
	for _, g := range res.Summary.Groups {
		header = append(header, fmt.Sprintf("%s (n=%d)", g.Group, g.N))
	}
	t.SetHeader(header)

	for _, v := range descriptive.Variables {
		row := []string{v}
		for _, g := range res.Summary.Groups {
			row = append(row, g.Stats[v].FormatMeanSD(decimals))
		}
		t.Append(row)
	}
	t.Render()
}

func printCoefficients(m *lmm.FittedModel) {
	fmt.Printf("\nFixed effects, model %q (logLik %.1f):\n", m.Spec.Name, m.LogLik)
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"Term", "Estimate", "Std. Error", "z", "p"})
	for j, name := range m.CoefNames {
		t.Append([]string{
			name,
			fmt.Sprintf("%.5f", m.Coef[j]),
			fmt.Sprintf("%.5f", m.SE[j]),
			fmt.Sprintf("%.3f", m.Z[j]),
			formatP(m.P[j]),
		})
	}
	t.Render()
	fmt.Printf("Random intercept variance (player): %.6f  Residual variance: %.6f\n",
		m.InterceptVar, m.ResidualVar)
}

func printAIC(res *pipeline.Result) {
	fmt.Println("\nModel comparison (AIC, lower is better):")
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"Model", "Params", "logLik", "AIC"})
	for _, row := range res.AICRows {
		t.Append([]string{
			row.Model,
			strconv.Itoa(row.NParams),
			fmt.Sprintf("%.1f", row.LogLik),
			fmt.Sprintf("%.1f", row.AIC),
		})
	}
	t.Render()

	for name, err := range res.FitErrors {
		fmt.Printf("  (not fit: %s — %v)\n", name, err)
	}
}

func printAnovas(res *pipeline.Result) {
	if len(res.Anovas) > 0 {
		fmt.Println("\nLikelihood-ratio tests (nested models):")
		t := tablewriter.NewWriter(os.Stdout)
		t.SetHeader([]string{"Comparison", "Df", "Chisq", "p"})
		for _, a := range res.Anovas {
			t.Append([]string{
				fmt.Sprintf("%s vs %s", a.Smaller, a.Larger),
				strconv.Itoa(a.DfDiff),
				fmt.Sprintf("%.3f", a.ChiSq),
				formatP(a.PValue),
			})
		}
		t.Render()
	}
	for _, msg := range res.AnovaRejections {
		fmt.Printf("  (comparison rejected: %s)\n", msg)
	}
}

func printVIF(res *pipeline.Result) {
	fmt.Println("\nMulticollinearity (VIF):")
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"Term", "VIF", "Flag"})
	for _, v := range res.VIFs {
		flag := ""
		if v.Flagged {
			flag = "review"
		}
		t.Append([]string{v.Term, fmt.Sprintf("%.2f", v.VIF), flag})
	}
	t.Render()
}

func printRandomEffects(res *pipeline.Result) {
	re := res.RandomEffects
	fmt.Printf("\nRandom intercepts: %d players, mean %.5f, SD %.5f, range [%.5f, %.5f]\n",
		re.N, re.Mean, re.SD, re.Min, re.Max)

	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"Highest intercepts", "", "Lowest intercepts", ""})
	for i := range re.Top {
		row := []string{re.Top[i].Player, fmt.Sprintf("%.5f", re.Top[i].Intercept), "", ""}
		if i < len(re.Bottom) {
			row[2] = re.Bottom[i].Player
			row[3] = fmt.Sprintf("%.5f", re.Bottom[i].Intercept)
		}
		t.Append(row)
	}
	t.Render()
}

func formatP(p float64) string {
	if p < 0.001 {
		return "<0.001"
	}
	return fmt.Sprintf("%.3f", p)
}
