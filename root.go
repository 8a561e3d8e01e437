package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/megaputer/pa6-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProfile    string
	flagURL        string
	flagOutput     string
	flagVerbose    bool
	flagQuiet      bool
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

type cliContextKey struct{}

// newRootCmd builds the root command with every subcommand registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pa6",
		Short:   "PolyAnalyst 6 command-line client",
		Long:    "Run, export and inspect PolyAnalyst 6 projects and manage server files from the command line.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVar(&flagProfile, "profile", "", "config profile to use")
	pf.StringVar(&flagURL, "url", "", "server URL (overrides the profile)")
	pf.StringVarP(&flagOutput, "output", "o", outputText, "output format: text, json or yaml")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors and suppress status messages")

	cmd.AddCommand(
		newInfoCmd(),
		newVersionsCmd(),
		newNodesCmd(),
		newStatsCmd(),
		newTasksCmd(),
		newExecuteCmd(),
		newExecuteToCmd(),
		newExportCmd(),
		newImportCmd(),
		newLoadCmd(),
		newUnloadCmd(),
		newDuplicateCmd(),
		newSaveCmd(),
		newAbortCmd(),
		newPreviewCmd(),
		newRowsCmd(),
		newParamsCmd(),
		newReportCmd(),
		newMkdirCmd(),
		newRmCmd(),
		newRmdirCmd(),
		newUploadCmd(),
		newDownloadCmd(),
		newUploadsCmd(),
		newWaitCmd(),
	)

	return cmd
}

// newCLIContext loads .env, resolves the profile and builds the logger.
func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	switch flagOutput {
	case outputText, outputJSON, outputYAML:
	default:
		return nil, fmt.Errorf("--output: unknown format %q (want text, json or yaml)", flagOutput)
	}

	if flagVerbose && flagQuiet {
		return nil, errors.New("--verbose and --quiet are mutually exclusive")
	}

	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	boot := bootstrapLogger()

	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Profile:    flagProfile,
	}

	if cmd.Flags().Changed("url") {
		cli.URL = &flagURL
	}

	if level := flagLogLevel(); level != "" {
		cli.LogLevel = &level
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(boot), cli, boot)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &CLIContext{
		Cfg:    resolved,
		Logger: buildLogger(resolved.Logging.LogLevel),
		Flags:  CLIFlags{Output: flagOutput, Quiet: flagQuiet},
		Out:    cmd.OutOrStdout(),
	}, nil
}

// flagLogLevel maps --verbose and --quiet onto a config log level.
func flagLogLevel() string {
	switch {
	case flagVerbose:
		return "debug"
	case flagQuiet:
		return "error"
	default:
		return ""
	}
}

// bootstrapLogger is used before the config is known.
func bootstrapLogger() *slog.Logger {
	level := "warn"
	if l := flagLogLevel(); l != "" {
		level = l
	}

	return buildLogger(level)
}

// buildLogger creates a text logger on stderr at the given level.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func cliContextFrom(ctx context.Context) *CLIContext {
	if ctx == nil {
		return nil
	}

	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext returns the context set up by the root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not initialized; PersistentPreRunE did not run")
	}

	return cc
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// exitOnError prints err and exits with the generic failure code.
func exitOnError(err error) {
	printError(err)
	os.Exit(exitError)
}
