package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"dropiq-ml/internal/cfg"
	"dropiq-ml/internal/metrics"
	"dropiq-ml/internal/ml"

	"github.com/alexflint/go-arg"
	"github.com/cheggaaa/pb/v3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type args struct {
	Rows        int    `arg:"-n,--rows" help:"number of synthetic rows (overrides config)"`
	Seed        *int64 `arg:"-s,--seed" help:"random seed (overrides config)"`
	Trees       int    `arg:"--trees" help:"random forest size (overrides config)"`
	Rounds      int    `arg:"--rounds" help:"boosting rounds (overrides config)"`
	Parallelism int    `arg:"-j,--parallelism" help:"concurrent tree fits (overrides config)"`
	ModelPath   string `arg:"--model" help:"model artifact path (overrides config)"`
	ReportPath  string `arg:"--report" help:"training report path (overrides config)"`
	DumpDataset string `arg:"--dump-dataset" help:"also write the generated rows as CSV"`
	MetricsFile string `arg:"--metrics-file" help:"write training metrics in Prometheus text format"`
	NoProgress  bool   `arg:"--no-progress" help:"disable the progress bar"`
}

func (args) Description() string {
	return "Trains the DropIQ churn candidates and commits the selected model"
}

func main() {
	var a args
	arg.MustParse(&a)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Config load failed")
	}
	applyArgs(&c, a)

	closer, err := cfg.SetupLogging(c, true)
	if err != nil {
		log.Fatal().Err(err).Msg("Logging setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := train(ctx, c, a)
	stop()
	closer.Close()
	os.Exit(code)
}

func applyArgs(c *cfg.Settings, a args) {
	if a.Rows != 0 {
		c.TrainRows = a.Rows
	}
	if a.Seed != nil {
		c.TrainSeed = *a.Seed
	}
	if a.Trees != 0 {
		c.Forest.Trees = a.Trees
	}
	if a.Rounds != 0 {
		c.Boosting.Rounds = a.Rounds
	}
	if a.Parallelism != 0 {
		c.TrainParallelism = a.Parallelism
	}
	if a.ModelPath != "" {
		c.ModelPath = a.ModelPath
	}
	if a.ReportPath != "" {
		c.ReportPath = a.ReportPath
	}
}

func train(ctx context.Context, c cfg.Settings, a args) int {
	registry := prometheus.NewRegistry()
	j := &job{
		settings:    c,
		datasetPath: a.DumpDataset,
		metrics:     metrics.NewWithRegistry(registry),
	}

	var bar *pb.ProgressBar
	if !a.NoProgress {
		bar = pb.New(c.Forest.Trees + c.Boosting.Rounds).SetWriter(os.Stderr).Start()
		j.progress = func(ml.Kind) { bar.Increment() }
	}

	result, err := j.run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		if errors.Is(err, ml.ErrTrainingFailure) {
			log.Error().Err(err).Msg("Training failed, existing artifact left untouched")
		} else {
			log.Error().Err(err).Msg("Training run aborted")
		}
		return 1
	}

	fmt.Print(ml.NewTrainingReport(result).String())
	log.Info().
		Str("model", c.ModelPath).
		Str("report", c.ReportPath).
		Str("selected", string(result.Selected.Kind)).
		Msg("Model committed")

	if a.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(a.MetricsFile, registry); err != nil {
			log.Error().Err(err).Str("path", a.MetricsFile).Msg("Failed to write metrics file")
			return 1
		}
	}
	return 0
}
