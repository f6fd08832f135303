package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/driftwatch/internal/webhook"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one webhook retry sweep",
	Long: `Select webhook deliveries that are due for another attempt and
retry them once. The serve command runs this continuously; the
standalone form is useful for cron-style setups and debugging.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := webhook.NewService(store, cfg.Webhook).Sweep(context.Background())
	if err != nil {
		return err
	}
	return printResult(result, func() {
		fmt.Printf("Swept %d deliver(ies): %d succeeded, %d retrying, %d failed\n",
			result.Selected, result.Succeeded, result.Retrying, result.Failed)
	})
}
