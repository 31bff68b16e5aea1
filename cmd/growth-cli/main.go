package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"growth-assessor/internal/app"
	"growth-assessor/internal/config"
	"growth-assessor/internal/logger"
)

// openApp builds the application for a command run. Tests replace it.
var openApp = func(ctx context.Context, logMode string) (*app.App, error) {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, err
	}
	if logMode == "" {
		logMode = cfg.LogMode
	}
	l, err := logger.New(logMode)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, l, app.WithServiceName("growth-cli"))
}

// cli carries state shared by every subcommand of one invocation.
type cli struct {
	session string
	timeout time.Duration
	verbose bool
	app     *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "growth-cli",
		Short: "Child growth assessment from the command line",
		Long: `Record a child's measurements, classify growth and build a nutrition plan.

State is kept in the configured result store, so each command picks up
where the previous one left off:

  growth-cli intake --name Ana --age "2 years, 3 months" --gender F --height 80 --weight 10
  growth-cli assess
  growth-cli nutrition`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			mode := "prod"
			if c.verbose {
				mode = "dev"
			}
			a, err := openApp(cmd.Context(), mode)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close(context.Background())
		},
	}

	root.PersistentFlags().StringVarP(&c.session, "session", "s", "", "Session name, to keep several children apart")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "Operation timeout")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable development logging")

	root.AddCommand(
		c.intakeCmd(),
		c.assessCmd(),
		c.nutritionCmd(),
		c.statusCmd(),
		c.metricsCmd(),
		c.metricsCleanupCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
