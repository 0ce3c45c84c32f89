package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidehook/tidehook/internal/config"
	"github.com/tidehook/tidehook/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation sweep",
	Long: `Scan for deliveries due a retry and attempt them now. Prints the
number of attempts made. If another process holds the sweep lock the run
is skipped and reports zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		cfg := config.FromEnv()
		s := sweep.New(st, newDispatcher(st))
		s.BatchSize = cfg.Engine.SweepBatchSize
		s.Concurrency = cfg.Engine.WorkerConcurrency

		attempted, err := s.Run(ctx)
		if err != nil {
			return err
		}
		if outputJSON {
			printOutput(map[string]int{"attempted": attempted})
			return nil
		}
		fmt.Printf("Sweep attempted %d deliveries\n", attempted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
