package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/cadence/internal/output"
	"github.com/wesleyorama2/cadence/internal/timer"
)

func newCalibrateCmd(a *app) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure this host's sleep overshoot",
		Long: `Calibrate sleeps repeatedly for short random intervals and reports the
mean overshoot and the compensation a run on this host would apply.
It fails when the compensation is above --max-compensation unless
--debug is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration < timer.MinCalibrationWindow {
				return fmt.Errorf("duration must be at least %v", timer.MinCalibrationWindow)
			}

			// The error is reported through the calibration result below.
			t, err := a.newTimer(hostname(), func(error) {})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			end := t.RelMillis() + duration.Milliseconds() + 1
			cal := t.Calibrate(ctx, t.Worker(), end)
			calErr := cal.Wait()
			if cal.Skipped() {
				return errors.New("calibration was skipped")
			}

			w := cmd.OutOrStdout()
			noColor := !output.UseColor(w)
			icon := output.SuccessIcon(noColor)
			if calErr != nil {
				icon = output.ErrorIcon(noColor)
			} else if cal.Cancelled() {
				icon = output.WarningIcon(noColor)
			}
			fmt.Fprintf(w, "%s %s\n", icon, t.Worker())
			fmt.Fprintf(w, "  samples:      %d\n", cal.Samples())
			fmt.Fprintf(w, "  deviation:    %v\n", time.Duration(t.Deviation()))
			fmt.Fprintf(w, "  compensation: %v (limit %v)\n", t.Compensation(), a.settings.MaxCompensation)
			return calErr
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to measure")
	return cmd
}
