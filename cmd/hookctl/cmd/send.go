package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidehook/tidehook/internal/config"
	"github.com/tidehook/tidehook/internal/intake"
	"github.com/tidehook/tidehook/internal/queue"
)

var (
	sendEventType string
	sendData      string
	sendAsync     bool
)

var sendCmd = &cobra.Command{
	Use:   "send <endpoint-id>",
	Short: "Send an event to an endpoint",
	Long: `Send an event through the intake path. By default the first delivery
attempt runs synchronously and its outcome is printed. With --async the
task is published to NSQ and picked up by a worker.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := json.RawMessage(sendData)
		if !json.Valid(payload) {
			return fmt.Errorf("--data is not valid JSON")
		}

		ctx, cancel := cmdContext()
		defer cancel()
		pool, st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		dispatcher := newDispatcher(st)

		if sendAsync {
			cfg := config.FromEnv()
			q, err := queue.NewNSQ(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DeliveriesTopic)
			if err != nil {
				return fmt.Errorf("connect to nsqd: %w", err)
			}
			defer q.Stop()

			svc := intake.New(st, dispatcher, q)
			del, err := svc.DispatchAsync(ctx, args[0], sendEventType, payload)
			if err != nil {
				return err
			}
			if outputJSON {
				printOutput(del)
				return nil
			}
			fmt.Printf("Delivery %s queued\n", del.ID)
			return nil
		}

		svc := intake.New(st, dispatcher, nil)
		del, err := svc.Dispatch(ctx, args[0], sendEventType, payload)
		if err != nil {
			return err
		}
		if outputJSON {
			printOutput(del)
			return nil
		}
		status := deliveryStatus(del, dispatcher.Policy().MaxAttempts)
		fmt.Printf("Delivery %s: %s after attempt %d\n", del.ID, status, del.Attempts)
		if del.ResponseStatus != nil {
			fmt.Printf("Response status: %d\n", *del.ResponseStatus)
		}
		if status == "scheduled" {
			fmt.Printf("Next retry at: %s\n", del.NextRetryAt)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendEventType, "event", "test.ping", "event type")
	sendCmd.Flags().StringVar(&sendData, "data", "{}", "event payload as JSON")
	sendCmd.Flags().BoolVar(&sendAsync, "async", false, "publish to NSQ instead of attempting synchronously")
	rootCmd.AddCommand(sendCmd)
}
