package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tidehook/tidehook/internal/config"
	"github.com/tidehook/tidehook/internal/db"
	"github.com/tidehook/tidehook/internal/delivery"
	"github.com/tidehook/tidehook/internal/model"
	"github.com/tidehook/tidehook/internal/store"
)

var (
	cfgFile    string
	dsn        string
	timeout    time.Duration
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hookctl",
	Short: "Tidehook CLI - operate the webhook delivery engine",
	Long: `Tidehook CLI (hookctl) is a command line tool for operating the
Tidehook webhook delivery engine.

You can use it to manage endpoints and their signing secrets, send test
events, retry deliveries, inspect delivery history, and run a
reconciliation sweep.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hookctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DB_* environment)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "command timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hookctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("dsn") {
		if s := viper.GetString("dsn"); s != "" {
			dsn = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// cmdContext returns the per-command context with the configured timeout.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// openStore connects to Postgres. The pool must be closed by the caller.
func openStore(ctx context.Context) (*pgxpool.Pool, store.Store, error) {
	d := dsn
	if d == "" {
		d = config.FromEnv().DSN()
	}
	pool, err := db.Connect(ctx, d)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, store.NewPostgres(pool), nil
}

// newDispatcher builds a dispatcher with the environment's backoff policy.
func newDispatcher(st store.Store) *delivery.Dispatcher {
	cfg := config.FromEnv()
	return delivery.NewDispatcher(st, delivery.Policy{
		Schedule:    cfg.Engine.BackoffSchedule,
		MaxAttempts: cfg.Engine.MaxAttempts,
	})
}

// printOutput renders v as indented JSON on stdout.
func printOutput(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error formatting output:", err)
		return
	}
	fmt.Println(string(b))
}

// deliveryStatus derives the human-readable lifecycle state of a record.
func deliveryStatus(d *model.Delivery, maxAttempts int) string {
	switch {
	case d.Delivered():
		return "delivered"
	case d.Exhausted(maxAttempts):
		return "exhausted"
	case d.NextRetryAt != nil:
		return "scheduled"
	default:
		return "pending"
	}
}
