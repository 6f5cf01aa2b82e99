package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dropiq-ml/internal/client"
	"dropiq-ml/internal/common"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
)

type predictCmd struct {
	Features string `arg:"-f,--features,required" help:"comma-separated tenure_months,mrr,logins_7d,tickets_30d,nps (use --features=-1,... for a leading negative)"`
	Customer string `arg:"-c,--customer" help:"customer id; the server records the score and alerts on high risk"`
}

type scoresCmd struct {
	Customer string `arg:"positional,required" help:"customer id"`
	Limit    int    `arg:"-l,--limit" default:"10" help:"maximum number of scores"`
}

type args struct {
	Health  *struct{}   `arg:"subcommand:health" help:"check server liveness"`
	Predict *predictCmd `arg:"subcommand:predict" help:"score one feature vector"`
	Info    *struct{}   `arg:"subcommand:info" help:"show the model being served"`
	Scores  *scoresCmd  `arg:"subcommand:scores" help:"list stored scores of a customer"`
	Watch   *struct{}   `arg:"subcommand:watch" help:"print high-risk alerts as they happen"`

	URL     string        `arg:"--url,env:ML_SERVICE_URL" help:"prediction server base URL"`
	Timeout time.Duration `arg:"--timeout" default:"5s" help:"request timeout"`
}

func (args) Description() string {
	return "Command-line client for the DropIQ prediction server"
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}
	if a.URL == "" {
		a.URL = common.DefaultServiceURL
	}

	c := client.New(a.URL, a.Timeout)
	if a.Watch != nil {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := watch(ctx, c, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout+time.Second)
	defer cancel()

	if err := run(ctx, c, a, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.ClientError() {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, a args, out io.Writer) error {
	var (
		result any
		err    error
	)
	switch {
	case a.Health != nil:
		result, err = c.Health(ctx)
	case a.Predict != nil:
		features, perr := parseFeatures(a.Predict.Features)
		if perr != nil {
			return perr
		}
		result, err = c.Predict(ctx, client.PredictRequest{Features: features, CustomerID: a.Predict.Customer})
	case a.Info != nil:
		result, err = c.ModelInfo(ctx)
	case a.Scores != nil:
		result, err = c.Scores(ctx, a.Scores.Customer, a.Scores.Limit)
	default:
		return errors.New("missing subcommand")
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// watch prints one JSON line per alert until ctx is done.
func watch(ctx context.Context, c *client.Client, out io.Writer) error {
	alerts := make(chan client.Alert, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Alerts().Stream(ctx, alerts) }()

	enc := json.NewEncoder(out)
	for {
		select {
		case a := <-alerts:
			if err := enc.Encode(a); err != nil {
				return err
			}
		case err := <-errCh:
			return err
		}
	}
}

// parseFeatures reads a comma-separated vector. Length is checked by the
// server so that the CLI reports exactly what the service rejects.
func parseFeatures(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	features := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature %q: %w", p, err)
		}
		features = append(features, v)
	}
	return features, nil
}
