package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/checker"
	"github.com/proxygather/proxygather/internal/logging"
	"github.com/proxygather/proxygather/internal/storage"
)

type checkFlags struct {
	input           []string
	output          string
	threads         int
	timeout         string
	prependProtocol bool
	judges          []string
}

func addCheckFlags(cmd *cobra.Command, f *checkFlags) {
	flags := cmd.Flags()
	flags.IntVar(&f.threads, "checker-threads", 500, "validation worker count")
	flags.StringVar(&f.timeout, "timeout", "6s", "per-probe timeout, duration or bare seconds")
	flags.BoolVar(&f.prependProtocol, "prepend-protocol", false, "write protocol buckets as proto://host:port")
	flags.StringSliceVar(&f.judges, "judges", nil, "override the built-in proxy judge list")
}

func bindCheckFlags(cmd *cobra.Command) error {
	return bindAll(cmd, map[string]string{
		"checker.threads":          "checker-threads",
		"checker.timeout":          "timeout",
		"checker.prepend_protocol": "prepend-protocol",
	})
}

// checkerDispatchConfig resolves the flags into a validated dispatcher
// config. An unparseable timeout is a configuration error and stops the run.
func (f *checkFlags) dispatcherConfig(outputBase string) (checker.DispatchConfig, error) {
	timeout, err := checker.ParseTimeout(viper.GetString("checker.timeout"))
	if err != nil {
		return checker.DispatchConfig{}, err
	}
	cfg := checker.DispatchConfig{
		Workers:         viper.GetInt("checker.threads"),
		Timeout:         timeout,
		OutputBase:      outputBase,
		PrependProtocol: viper.GetBool("checker.prepend_protocol"),
		Verbose:         verbose,
	}
	return cfg, cfg.Validate()
}

func newCheckCmd() *cobra.Command {
	f := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validates proxy candidates from input files",
		Long: `Loads candidates from the input file patterns, probes each one for
http, socks4 and socks5 support through live proxy judges, and writes the
working ones into per-protocol bucket files. Interrupted runs leave a resume
file with everything not yet validated.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindCheckFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheckCommand(cmd, f)
		},
	}
	addCheckFlags(cmd, f)
	cmd.Flags().StringSliceVar(&f.input, "input", []string{"scraped-proxies*.txt"}, "input file glob patterns")
	cmd.Flags().StringVar(&f.output, "output", "", "output base path (default working-proxies-<timestamp>.txt)")
	return cmd
}

func runCheckCommand(cmd *cobra.Command, f *checkFlags) error {
	coord, restore := setupTermination()
	defer restore()

	output := f.output
	if output == "" {
		output = timestampedPath("working-proxies")
	}
	cfg, err := f.dispatcherConfig(output)
	if err != nil {
		return err
	}

	static, err := storage.LoadFromPatterns(f.input, logging.L)
	if err != nil {
		return err
	}
	logging.L.Info("candidates loaded", zap.Int("count", len(static)))

	validator, err := checker.New(cmd.Context(), checker.Config{
		Timeout: cfg.Timeout,
		Judges:  f.judges,
		Verbose: verbose,
	}, logging.L)
	if err != nil {
		return err
	}

	writer := storage.NewFileWriter(output, cfg.PrependProtocol, logging.L)
	dispatcher, err := checker.NewDispatcher(cfg, validator, writer, coord, nil, logging.L)
	if err != nil {
		return err
	}

	buckets, err := dispatcher.Run(cmd.Context(), static, nil)
	if err != nil {
		return err
	}
	logging.L.Info("check complete",
		zap.Int("working", buckets.Len(storage.BucketAll)),
		zap.Int("input", len(static)))
	if coord.Terminating() {
		logging.L.Info("check interrupted; partial results and resume file saved")
	}
	return nil
}
