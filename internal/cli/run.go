package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/fanout/internal/config"
	"github.com/wesleyorama2/fanout/internal/driver"
	"github.com/wesleyorama2/fanout/internal/invoker"
	"github.com/wesleyorama2/fanout/internal/output"
)

// ErrInvocationsFailed is returned when --fail-on-error is set and at least
// one invocation failed.
var ErrInvocationsFailed = errors.New("one or more invocations failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fan a batch of commands out against a server",
		Long: `Issue a batch of command invocations against a RESP server and wait for all
of them to finish.

Quick mode:
  fanout run --addr 127.0.0.1:6379 -n 150 --mode parallel --command PING

Cycling commands:
  fanout run -n 100 --command PING --command "ECHO hello" --mode serial

Through an external client:
  fanout run -n 50 --client exec --exec-binary redis-cli --command PING

Config file mode (flags override file values):
  fanout run --config batch.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildBatchFromFlags(cmd)
			if err != nil {
				return err
			}
			return runBatch(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().StringP("config", "f", "", "Batch file (YAML or JSON)")
	cmd.Flags().StringP("addr", "a", config.DefaultAddress, "Target address (host:port)")
	cmd.Flags().String("client", config.DefaultClient, "Client used per invocation: resp or exec")
	cmd.Flags().String("exec-binary", config.DefaultBinary, "External client binary for --client exec")
	cmd.Flags().StringArray("exec-arg", nil, "Argument template for the external client; {host}, {port} and {addr} are substituted (repeatable)")
	cmd.Flags().IntP("count", "n", 1, "Number of invocations")
	cmd.Flags().StringP("mode", "m", config.DefaultMode, "Dispatch mode: parallel or serial")
	cmd.Flags().IntP("concurrency", "c", 0, "Worker pool size in parallel mode (0 = one per invocation, capped)")
	cmd.Flags().Float64P("rate", "r", 0, "Invocation starts per second (0 = unpaced)")
	cmd.Flags().StringArray("command", nil, `Command to issue, e.g. "PING" or "ECHO hello" (repeatable; several commands cycle)`)
	cmd.Flags().DurationP("timeout", "t", driver.DefaultInvocationTimeout, "Per-invocation timeout")
	cmd.Flags().Duration("join-timeout", 0, "Timeout for the whole batch (0 = none)")
	cmd.Flags().Bool("fail-on-error", false, "Exit non-zero if any invocation failed")
	cmd.Flags().BoolP("verbose", "v", false, "Print every invocation")
	cmd.Flags().BoolP("quiet", "q", false, "Print only a one-line result")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	cmd.Flags().StringP("output", "o", "", "Write the JSON report to this file")
	cmd.Flags().String("html", "", "Write an HTML report to this file")
	cmd.Flags().Bool("no-color", false, "Disable colored output")

	return cmd
}

// buildBatchFromFlags loads the batch file, if any, and lays explicitly set
// flags over it. Without a file, flag values and their defaults are used.
func buildBatchFromFlags(cmd *cobra.Command) (*config.BatchFile, error) {
	flags := cmd.Flags()
	configFile, _ := flags.GetString("config")

	var cfg *config.BatchFile
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = &config.BatchFile{}
	}

	// use reports whether a flag should override the file value.
	use := func(name string) bool {
		return configFile == "" || flags.Changed(name)
	}

	if use("addr") {
		cfg.Target.Address, _ = flags.GetString("addr")
	}
	if use("client") {
		cfg.Target.Client, _ = flags.GetString("client")
	}
	if use("exec-binary") {
		cfg.Target.Exec.Binary, _ = flags.GetString("exec-binary")
	}
	if flags.Changed("exec-arg") {
		cfg.Target.Exec.Args, _ = flags.GetStringArray("exec-arg")
	}
	if use("count") {
		cfg.Batch.Count, _ = flags.GetInt("count")
	}
	if use("mode") {
		cfg.Batch.Mode, _ = flags.GetString("mode")
	}
	if use("concurrency") {
		cfg.Batch.Concurrency, _ = flags.GetInt("concurrency")
	}
	if use("rate") {
		cfg.Batch.Rate, _ = flags.GetFloat64("rate")
	}
	if flags.Changed("command") {
		cfg.Batch.Commands, _ = flags.GetStringArray("command")
	}
	if use("timeout") {
		timeout, _ := flags.GetDuration("timeout")
		cfg.Batch.InvocationTimeout = config.Duration(timeout)
	}
	if use("join-timeout") {
		joinTimeout, _ := flags.GetDuration("join-timeout")
		cfg.Batch.JoinTimeout = config.Duration(joinTimeout)
	}
	if use("fail-on-error") {
		cfg.FailOnError, _ = flags.GetBool("fail-on-error")
	}

	if len(cfg.Batch.Commands) == 0 && configFile == "" {
		cfg.Batch.Commands = []string{"PING"}
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newInvoker builds the client the batch reaches its target with.
func newInvoker(cfg *config.BatchFile) (driver.Invoker, error) {
	switch cfg.Target.Client {
	case config.ClientRESP:
		return invoker.NewRESP(cfg.Target.Address), nil
	case config.ClientExec:
		return invoker.NewExec(cfg.Target.Exec.Binary, cfg.Target.Exec.Args, cfg.Target.Address), nil
	default:
		return nil, &driver.ConfigurationError{Field: "client", Message: fmt.Sprintf("unknown client %q", cfg.Target.Client)}
	}
}

// runBatch runs the batch described by cfg and reports it according to the
// output flags on cmd.
func runBatch(ctx context.Context, cmd *cobra.Command, cfg *config.BatchFile) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	outputPath, _ := cmd.Flags().GetString("output")
	htmlPath, _ := cmd.Flags().GetString("html")
	noColor, _ := cmd.Flags().GetBool("no-color")

	stdout := cmd.OutOrStdout()
	consoleOut := stdout
	if jsonOutput {
		// stdout carries the JSON document only.
		consoleOut = io.Discard
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  consoleOut,
		Verbose: verbose,
		Quiet:   quiet,
		NoColor: noColor,
	})

	res, err := executeBatch(ctx, cfg, console)
	if err != nil {
		return err
	}

	report := output.NewReport(cfg.Name, cfg.Target.Address, res)
	if jsonOutput {
		if err := report.WriteJSON(stdout); err != nil {
			return err
		}
	}
	if outputPath != "" {
		if err := report.SaveJSON(outputPath); err != nil {
			return err
		}
	}
	if htmlPath != "" {
		if err := output.GenerateHTML(report, htmlPath); err != nil {
			return err
		}
	}

	return exitPolicy(res, cfg.FailOnError)
}

// executeBatch builds the driver for cfg and runs one batch.
func executeBatch(ctx context.Context, cfg *config.BatchFile, console *output.Console) (*driver.BatchResult, error) {
	spec, err := driver.ParseCommandSpec(cfg.CommandLines())
	if err != nil {
		return nil, err
	}
	mode, err := driver.ParseMode(cfg.Batch.Mode)
	if err != nil {
		return nil, err
	}
	inv, err := newInvoker(cfg)
	if err != nil {
		return nil, err
	}

	opts := driver.Options{
		Concurrency:       cfg.Batch.Concurrency,
		InvocationTimeout: cfg.Batch.InvocationTimeout.GetDuration(driver.DefaultInvocationTimeout),
		JoinTimeout:       time.Duration(cfg.Batch.JoinTimeout),
		Rate:              cfg.Batch.Rate,
		Observer:          console.PrintInvocation,
	}

	commands := make([]string, len(spec))
	for i, c := range spec {
		commands[i] = c.String()
	}
	workers := 0
	if mode == driver.ModeParallel {
		workers = effectiveWorkers(opts.Concurrency, cfg.Batch.Count)
	}
	console.PrintHeader(output.Header{
		Name:        cfg.Name,
		Target:      cfg.Target.Address,
		Client:      cfg.Target.Client,
		Mode:        mode,
		Count:       cfg.Batch.Count,
		Concurrency: workers,
		Commands:    commands,
	})

	res, err := driver.New(inv, opts).Run(ctx, cfg.Batch.Count, spec, mode)
	if err != nil {
		return nil, err
	}

	console.PrintSummary(cfg.Name, res)
	return res, nil
}

// effectiveWorkers mirrors the driver's pool sizing for display.
func effectiveWorkers(concurrency, count int) int {
	n := concurrency
	if n == 0 {
		n = driver.DefaultMaxConcurrency
	}
	if n > count {
		n = count
	}
	return n
}

// exitPolicy decides whether a completed batch fails the run. Failed
// invocations only count when failOnError is set.
func exitPolicy(res *driver.BatchResult, failOnError bool) error {
	if failOnError && res.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvocationsFailed, res.Failed, res.Count)
	}
	return nil
}
