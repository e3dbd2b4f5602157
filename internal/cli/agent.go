package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/cadence/internal/cluster"
)

func newAgentCmd(a *app) *cobra.Command {
	var (
		listen string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve runs for a coordinator",
		Long: `Agent starts the worker server a coordinator sends runs to. It answers
clock probes, runs the driver on the coordinator's epoch and exposes
timer and driver metrics on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = hostname()
			}
			agent := cluster.NewAgent(cluster.AgentOptions{
				Name:            name,
				Logger:          a.log,
				Telemetry:       a.telemetry,
				Debug:           a.settings.Debug,
				MaxCompensation: a.settings.MaxCompensation,
				BufferSize:      a.settings.BufferSize,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return agent.ListenAndServe(ctx, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":9631", "address to serve on")
	cmd.Flags().StringVar(&name, "name", "", "worker name reported to the coordinator (default: hostname)")
	return cmd
}
