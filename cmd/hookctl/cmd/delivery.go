package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidehook/tidehook/internal/intake"
)

var deliveriesLimit int

var retryCmd = &cobra.Command{
	Use:   "retry <delivery-id>",
	Short: "Trigger one immediate attempt for a delivery",
	Long: `Trigger one out-of-band attempt, bypassing the backoff schedule.
Already-delivered records are rejected. Exhausted records are eligible;
the manual attempt is in addition to the automatic schedule.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		dispatcher := newDispatcher(st)
		svc := intake.New(st, dispatcher, nil)
		del, err := svc.Retry(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			printOutput(del)
			return nil
		}
		fmt.Printf("Delivery %s: %s after attempt %d\n",
			del.ID, deliveryStatus(del, dispatcher.Policy().MaxAttempts), del.Attempts)
		return nil
	},
}

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries <endpoint-id>",
	Short: "List delivery history for an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		dels, err := st.ListDeliveries(ctx, args[0], deliveriesLimit)
		if err != nil {
			return err
		}
		if outputJSON {
			printOutput(dels)
			return nil
		}
		maxAttempts := newDispatcher(st).Policy().MaxAttempts
		for _, d := range dels {
			status := deliveryStatus(d, maxAttempts)
			code := "-"
			if d.ResponseStatus != nil {
				code = fmt.Sprintf("%d", *d.ResponseStatus)
			}
			fmt.Printf("%s  %-10s  attempts=%d  status=%s  event=%s\n",
				d.ID, status, d.Attempts, code, d.EventType)
		}
		return nil
	},
}

func init() {
	deliveriesCmd.Flags().IntVar(&deliveriesLimit, "limit", 50, "maximum records to list")
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(deliveriesCmd)
}
