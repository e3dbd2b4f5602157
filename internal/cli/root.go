// Package cli implements the cadence command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/cadence/internal/logging"
	"github.com/wesleyorama2/cadence/internal/operation"
	"github.com/wesleyorama2/cadence/internal/telemetry"
	"github.com/wesleyorama2/cadence/internal/timer"
)

var version = "0.1.0"

// Settings are process-wide switches, read from flags, CADENCE_*
// environment variables and an optional settings file, in that order of
// precedence.
type Settings struct {
	Debug           bool
	LogLevel        string
	LogFormat       string
	BufferSize      int
	MaxCompensation time.Duration
}

// app carries state shared by the subcommands of one invocation.
type app struct {
	v         *viper.Viper
	settings  Settings
	log       zerolog.Logger
	telemetry *telemetry.Metrics
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *app) {
	a := &app{v: viper.New(), log: zerolog.Nop()}

	root := &cobra.Command{
		Use:     "cadence",
		Short:   "Paced, clock-aligned load generation",
		Version: version,
		Long: `Cadence drives benchmark operations on a fixed cycle from many agents,
on one host or across a cluster of workers that share a common epoch.
Sleeps are compensated for the host's measured overshoot so every agent
wakes on its deadline, and per-worker statistics are merged pairwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.Bool("debug", false, "accept sleep compensation above the limit")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", logging.FormatAuto, "log format (auto, console, json)")
	flags.String("settings", "", "settings file (yaml, json or toml)")
	flags.Int("buffer-size", operation.DefaultBufferSize, "HTTP transport read/write buffer size in bytes")
	flags.Duration("max-compensation", timer.DefaultMaxCompensation, "largest tolerated sleep compensation")

	a.v.SetEnvPrefix("CADENCE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindPFlags(flags)

	root.AddCommand(
		newRunCmd(a),
		newAgentCmd(a),
		newCalibrateCmd(a),
		newVersionCmd(),
	)
	return root, a
}

// setup resolves settings and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if path := a.v.GetString("settings"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading settings: %w", err)
		}
	}

	a.settings = Settings{
		Debug:           a.v.GetBool("debug"),
		LogLevel:        a.v.GetString("log-level"),
		LogFormat:       a.v.GetString("log-format"),
		BufferSize:      a.v.GetInt("buffer-size"),
		MaxCompensation: a.v.GetDuration("max-compensation"),
	}
	if a.settings.BufferSize < 0 {
		return errors.New("buffer-size must not be negative")
	}

	log, err := logging.New(logging.Config{
		Level:  a.settings.LogLevel,
		Format: a.settings.LogFormat,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.log = log
	a.telemetry = telemetry.New()
	return nil
}

// newTimer creates a timer for worker with the process settings.
func (a *app) newTimer(worker string, fatal func(error)) (*timer.EpochTimer, error) {
	return timer.New(timer.Options{
		Worker:          worker,
		Logger:          a.log,
		Debug:           a.settings.Debug,
		MaxCompensation: a.settings.MaxCompensation,
		Fatal:           fatal,
	})
}

// Execute runs the command line.
func Execute() error {
	return ExecuteArgs(os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteArgs runs the command line with explicit arguments and streams.
func ExecuteArgs(args []string, stdout, stderr io.Writer) error {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return err
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cadence %s\n", version)
			return err
		},
	}
}
