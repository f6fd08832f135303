package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/driftwatch/internal/aggregate"
	"github.com/good-yellow-bee/driftwatch/internal/detect"
	"github.com/good-yellow-bee/driftwatch/internal/evaluate"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/notify"
	"github.com/good-yellow-bee/driftwatch/internal/suppress"
	"github.com/good-yellow-bee/driftwatch/internal/webhook"
)

var (
	pipelineTenant string
	pipelineMetric string
	pipelineStart  string
	pipelineEnd    string
	pipelineAsOf   string
	pipelineLimit  int
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Roll raw claim records into daily window sums",
	RunE:  runAggregate,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Compare recent windows against the baseline and emit signals",
	RunE:  runDetect,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate enabled alert rules against unevaluated signals",
	RunE:  runEvaluate,
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver pending alert events through notification channels",
	RunE:  runDispatch,
}

func init() {
	for _, c := range []*cobra.Command{aggregateCmd, detectCmd, evaluateCmd, dispatchCmd} {
		c.Flags().StringVarP(&pipelineTenant, "tenant", "t", "", "tenant identifier (required)")
		c.MarkFlagRequired("tenant")
		rootCmd.AddCommand(c)
	}
	aggregateCmd.Flags().StringVarP(&pipelineMetric, "metric", "m", "denial_rate", "metric name (denial_rate, payment_delay)")
	aggregateCmd.Flags().StringVar(&pipelineStart, "start", "", "first day to aggregate, YYYY-MM-DD (required)")
	aggregateCmd.Flags().StringVar(&pipelineEnd, "end", "", "last day to aggregate, YYYY-MM-DD (required)")
	aggregateCmd.MarkFlagRequired("start")
	aggregateCmd.MarkFlagRequired("end")
	detectCmd.Flags().StringVarP(&pipelineMetric, "metric", "m", "denial_rate", "metric name (denial_rate, payment_delay)")
	detectCmd.Flags().StringVar(&pipelineAsOf, "as-of", "", "detection reference day, YYYY-MM-DD (default: today)")
	evaluateCmd.Flags().IntVar(&pipelineLimit, "limit", 100, "maximum signals to evaluate")
}

func parseDayFlag(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: expected YYYY-MM-DD", value)
	}
	return day, nil
}

// printResult writes a command result honoring the --output flag.
func printResult(v interface{}, table func()) error {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	table()
	return nil
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	start, err := parseDayFlag(pipelineStart, time.Time{})
	if err != nil {
		return err
	}
	end, err := parseDayFlag(pipelineEnd, time.Time{})
	if err != nil {
		return err
	}

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	days, err := aggregate.New(store).Run(context.Background(), pipelineTenant, models.ParseMetric(pipelineMetric), start, end)
	if err != nil {
		return err
	}
	return printResult(map[string]interface{}{"tenant": pipelineTenant, "metric": pipelineMetric, "days": days}, func() {
		fmt.Printf("Aggregated %d day(s) of %s for tenant %s\n", days, pipelineMetric, pipelineTenant)
	})
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	asOf, err := parseDayFlag(pipelineAsOf, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return err
	}

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	signals, err := detect.New(store, cfg.Detection).Run(context.Background(), pipelineTenant, models.ParseMetric(pipelineMetric), asOf)
	if err != nil {
		return err
	}
	return printResult(signals, func() {
		fmt.Printf("Detected %d signal(s) for tenant %s\n", len(signals), pipelineTenant)
		for _, s := range signals {
			fmt.Printf("  %-22s %-18s %-24s delta=%+.4f severity=%.2f\n",
				s.ID[:8], s.Type(), s.EntityKey, s.Delta, s.Severity)
		}
	})
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := evaluate.New(store).EvaluateTenant(context.Background(), pipelineTenant, pipelineLimit)
	if err != nil {
		return err
	}
	var created, deduped int
	for _, r := range results {
		created += r.Created
		deduped += r.Deduped
	}
	return printResult(results, func() {
		fmt.Printf("Evaluated %d signal(s): %d event(s) created, %d deduplicated\n",
			len(results), created, deduped)
	})
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cacheless := suppress.New(store, nil, cfg.Suppression)
	webhooks := webhook.NewService(store, cfg.Webhook)
	dispatcher, err := notify.NewDispatcher(store, cacheless, cfg.Notify, notify.NoArtifacts{}, webhooks)
	if err != nil {
		return err
	}

	batch, err := dispatcher.DispatchPending(context.Background(), pipelineTenant)
	if err != nil {
		return err
	}
	return printResult(batch, func() {
		fmt.Printf("Dispatched %d event(s): %d sent, %d suppressed, %d failed\n",
			batch.Processed, batch.Sent, batch.Suppressed, batch.Failed)
	})
}
