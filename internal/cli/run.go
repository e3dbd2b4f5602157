package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/cadence/internal/cluster"
	"github.com/wesleyorama2/cadence/internal/config"
	"github.com/wesleyorama2/cadence/internal/driver"
	"github.com/wesleyorama2/cadence/internal/output"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		format  string
		noColor bool
		runID   string
	)

	cmd := &cobra.Command{
		Use:   "run <config-file>",
		Short: "Run a paced load from a configuration file",
		Long: `Run drives the operation described in a YAML or JSON run file.

Without workers the run executes in this process. With workers the
process acts as coordinator: it measures each worker's clock offset,
schedules a common start and merges the workers' statistics.

  cadence run checkout.yaml
  cadence run checkout.yaml --output json > result.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var res *driver.Result
			if cfg.Distributed() {
				if runID == "" {
					runID = fmt.Sprintf("%s-%d", cfg.DriverConfig().Name, time.Now().Unix())
				}
				res, err = a.runDistributed(ctx, cfg, runID)
			} else {
				res, err = a.runLocal(ctx, cfg)
			}
			if res == nil {
				return err
			}

			w := cmd.OutOrStdout()
			scheme := output.NewColorScheme(!noColor && output.UseColor(w))
			if werr := output.Write(w, res, f, scheme); werr != nil {
				return errors.Join(err, werr)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", string(output.FormatText), "report format (text, json, yaml, html)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier sent to workers (default: name and start time)")
	return cmd
}

func (a *app) runLocal(ctx context.Context, cfg *config.RunConfig) (*driver.Result, error) {
	op, err := cfg.Operation.BuildOperation(a.settings.BufferSize)
	if err != nil {
		return nil, err
	}
	if c, ok := op.(interface{ Close() }); ok {
		defer c.Close()
	}

	d, err := driver.New(cfg.DriverConfig(), op,
		driver.WithLogger(a.log),
		driver.WithTelemetry(a.telemetry),
	)
	if err != nil {
		return nil, err
	}

	t, err := a.newTimer(hostname(), nil)
	if err != nil {
		return nil, err
	}
	return d.RunNow(ctx, t)
}

func (a *app) runDistributed(ctx context.Context, cfg *config.RunConfig, runID string) (*driver.Result, error) {
	workers := make([]cluster.Worker, len(cfg.Workers))
	for i, w := range cfg.Workers {
		workers[i] = cluster.Worker{Name: w.Name, URL: w.URL}
	}

	c, err := cluster.NewCoordinator(workers, cluster.CoordinatorOptions{
		Logger:    a.log,
		Telemetry: a.telemetry,
	})
	if err != nil {
		return nil, err
	}

	t, err := a.newTimer("coordinator", nil)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, t, runID, cfg.DriverConfig(), cfg.Operation)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "local"
	}
	return name
}
