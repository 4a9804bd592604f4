package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleOnce bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the delivery scheduler",
	Long: "Runs the delivery scheduler on its configured interval. With --once a single pass is made " +
		"and the run report is logged.",
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleOnce, "once", false, "run a single scheduler pass and exit")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cfg, logger, appOptions{withEvents: true})
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	if scheduleOnce {
		report, err := app.scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("scheduler pass finished",
			zap.String("day", report.Day),
			zap.Bool("locked", report.Locked),
			zap.Int("candidates", report.Candidates),
			zap.Int("sent", report.Sent),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
		)
		return nil
	}

	logger.Info("delivery scheduler started", zap.Duration("interval", cfg.SchedulerInterval()))
	if err := app.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("delivery scheduler stopped")
	return nil
}
