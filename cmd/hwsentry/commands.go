package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/pid"
	"codeberg.org/mutker/hwsentry/internal/store"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	timeLayout           = "2006-01-02 15:04:05"
	summaryWindow        = 24 * time.Hour
	defaultAnomalyWindow = 30
)

// noSource backs the pipeline for commands that never collect.
type noSource struct{}

func (noSource) Sample(context.Context) (*telemetry.MetricSample, error) {
	return nil, errors.New().WithMessage(telemetry.ErrTotalAcquisitionFailure, "sensors are not opened by this command")
}

// serve collects until ctx is cancelled, retraining and exporting metrics
// alongside when configured.
func (a *app) serve(ctx context.Context) error {
	if err := pid.Write(a.cfg.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(a.cfg.PIDFile); err != nil {
			a.log.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pipeline.Run(ctx, a.cfg.IntervalDuration())
	})

	if a.cfg.Training.OnStart {
		g.Go(func() error {
			a.trainAndLog(ctx)
			return nil
		})
	}

	if a.cfg.Training.Interval > 0 {
		g.Go(func() error {
			return a.pipeline.RetrainEvery(ctx, a.cfg.Training.IntervalDuration())
		})
	}

	if a.cfg.MetricsAddress != "" {
		g.Go(func() error {
			return a.metrics.Serve(ctx, a.cfg.MetricsAddress, a.log)
		})
	}

	err := g.Wait()
	a.log.Info().Msg("Exiting...")
	return err
}

func (a *app) trainAndLog(ctx context.Context) {
	record, err := a.pipeline.Retrain(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("Training on start failed")
		return
	}
	a.log.Info().Int("samples", record.TrainingSamples).Msg("Trained on start")
}

// train fits and records a model from this process. A running daemon installs
// it before its next tick.
func (a *app) train(ctx context.Context) error {
	record, err := a.pipeline.Retrain(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Trained model on %d samples (contamination %.2f)\n", record.TrainingSamples, record.Contamination)
	fmt.Printf("Model:  %s\n", record.ModelRef)
	fmt.Printf("Scaler: %s\n", record.ScalerRef)
	if record.PerformanceScore.Valid {
		fmt.Printf("Validation score: %.3f\n", record.PerformanceScore.Float64)
	} else {
		fmt.Println("Validation score: not measured")
	}

	return nil
}

// issues lists issues. Args: [open|resolved|all] [type].
func (a *app) issues(ctx context.Context, args []string) error {
	errFactory := errors.New()

	filter := store.IssueFilter{Resolved: sql.NullBool{Valid: true}}
	if len(args) > 0 {
		switch args[0] {
		case "open":
		case "resolved":
			filter.Resolved.Bool = true
		case "all":
			filter.Resolved = sql.NullBool{}
		default:
			return errFactory.WithData(errors.ErrInvalidArgument, args[0])
		}
	}
	if len(args) > 1 {
		filter.Type = telemetry.IssueType(args[1])
		if !filter.Type.IsValid() {
			return errFactory.WithData(errors.ErrInvalidArgument, args[1])
		}
	}

	list, err := a.repo.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tTYPE\tSTATUS\tDESCRIPTION")
	for _, issue := range list {
		status := "open"
		if issue.IsResolved {
			status = "resolved " + issue.ResolvedAt.Time.Local().Format(timeLayout)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			issue.ID, issue.Timestamp.Local().Format(timeLayout), issue.Type, status, issue.Description)
	}

	return w.Flush()
}

func (a *app) resolve(ctx context.Context, args []string) error {
	errFactory := errors.New()

	if len(args) == 0 {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "resolve needs at least one issue id")
	}

	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
		ids = append(ids, id)
	}

	n, err := a.repo.BulkResolve(ctx, ids)
	if err != nil {
		return err
	}

	fmt.Printf("Resolved %d of %d issues\n", n, len(ids))
	return nil
}

func (a *app) summary(ctx context.Context) error {
	sum, err := a.pipeline.Summary(ctx)
	if err != nil {
		return err
	}

	since := time.Now().Add(-summaryWindow)
	stats, err := a.repo.Statistics(ctx, since)
	if err != nil {
		return err
	}
	issueSum, err := a.repo.IssueSummary(ctx, since)
	if err != nil {
		return err
	}

	fmt.Printf("Samples recorded: %d\n", sum.Samples)
	if s := sum.Latest; s != nil {
		fmt.Printf("Latest sample:    %s  cpu %.1f%%  memory %.1f%%  disk %.1f%%  cpu temp %s  fan %s\n",
			s.Timestamp.Local().Format(timeLayout), s.CPUPercent, s.MemoryPercent, s.DiskUsagePercent,
			formatTemp(s.CPUTemp), formatFan(s))
	}

	switch {
	case !sum.ModelTrained:
		fmt.Println("Model:            untrained")
	case sum.LastTraining == nil:
		fmt.Println("Model:            loaded from default location")
	default:
		fmt.Printf("Model:            trained %s on %d samples\n",
			sum.LastTraining.TrainedAt.Local().Format(timeLayout), sum.LastTraining.TrainingSamples)
	}

	fmt.Printf("\nLast 24 hours: %d samples, %d anomalous\n", stats.Samples, stats.Anomalies)
	if stats.Samples > 0 {
		fmt.Printf("  cpu     avg %.1f%%  max %.1f%%\n", stats.CPU.Avg, stats.CPU.Max)
		fmt.Printf("  memory  avg %.1f%%  max %.1f%%\n", stats.Memory.Avg, stats.Memory.Max)
		fmt.Printf("  disk    avg %.1f%%  max %.1f%%\n", stats.Disk.Avg, stats.Disk.Max)
	}
	fmt.Printf("  issues  %d (%d resolved, %d open)\n", issueSum.Total, issueSum.Resolved, issueSum.Unresolved)

	if len(sum.Unresolved) > 0 {
		fmt.Println("\nOpen issues:")
		for _, issue := range sum.Unresolved {
			fmt.Printf("  #%d [%s] %s\n      %s\n", issue.ID, issue.Type, issue.Description, issue.Recommendation)
		}
	}

	return nil
}

func (a *app) cleanup(ctx context.Context) error {
	n, err := a.repo.Cleanup(ctx, a.cfg.RetentionDays)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d samples older than %d days\n", n, a.cfg.RetentionDays)
	return nil
}

// anomalies lists anomalous samples. Args: [days], default 30.
func (a *app) anomalies(ctx context.Context, args []string) error {
	errFactory := errors.New()

	days := defaultAnomalyWindow
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return errFactory.WithData(errors.ErrInvalidArgument, args[0])
		}
		days = n
	}

	list, err := a.repo.ListAnomalies(ctx, time.Now().AddDate(0, 0, -days), 0)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tSCORE\tCPU\tMEMORY\tDISK\tCPU TEMP\tFAN\tFAN ANOMALY")
	for i := range list {
		s := &list[i]
		score := "n/a"
		if s.Scored() {
			score = strconv.FormatFloat(s.AnomalyScore.Float64, 'f', 4, 64)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f%%\t%.1f%%\t%.1f%%\t%s\t%s\t%t\n",
			s.ID, s.Timestamp.Local().Format(timeLayout), score,
			s.CPUPercent, s.MemoryPercent, s.DiskUsagePercent,
			formatTemp(s.CPUTemp), formatFan(s), s.FanAnomaly)
	}

	return w.Flush()
}

// history lists model trainings, newest first.
func (a *app) history(ctx context.Context) error {
	records, err := a.repo.ListTrainingRecords(ctx, 0)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTRAINED\tSAMPLES\tCONTAMINATION\tSCORE\tMODEL")
	for _, r := range records {
		score := "n/a"
		if r.PerformanceScore.Valid {
			score = strconv.FormatFloat(r.PerformanceScore.Float64, 'f', 3, 64)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%s\t%s\n",
			r.ID, r.TrainedAt.Local().Format(timeLayout), r.TrainingSamples,
			r.Contamination, score, r.ModelRef)
	}

	return w.Flush()
}

func formatTemp(t sql.NullFloat64) string {
	if !t.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(t.Float64, 'f', 1, 64) + "°C"
}

func formatFan(s *telemetry.MetricSample) string {
	if !s.FanSpeed.Valid {
		return "n/a"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d rpm", s.FanSpeed.Int64)
	if s.FanSimulated {
		b.WriteString(" (simulated)")
	}
	return b.String()
}
