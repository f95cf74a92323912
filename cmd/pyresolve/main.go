package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardalabs/pyresolve/internal/engine"
	"github.com/ardalabs/pyresolve/internal/index"
	"github.com/ardalabs/pyresolve/internal/pypi"
	"github.com/ardalabs/pyresolve/internal/python"
	"github.com/ardalabs/pyresolve/internal/resolver"
	"github.com/ardalabs/pyresolve/internal/shaper"
)

var buildVersion = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pyresolve",
		Short:         "A standalone Python dependency resolver",
		Long:          "pyresolve computes a resolved, pinned dependency set for a list of PEP 508 requirements without installing anything.",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve [requirements...]",
		Short: "Resolve a set of requirements to a pinned dependency set",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runResolve,
	}

	resolveCmd.Flags().StringP("requirements", "r", "", "read requirements from a pip-compatible requirements file")
	resolveCmd.Flags().String("python", "", "target Python version, e.g. 3.11 (default: detected from the host python3)")
	resolveCmd.Flags().String("platform", "", "target PEP 425 platform tag, e.g. macosx_14_0_arm64 (default: detected from the host python3)")
	resolveCmd.Flags().StringSlice("index", []string{"https://pypi.org/pypi"}, "package index base URL, may be repeated; tried in order")
	resolveCmd.Flags().Bool("prefer-source", false, "prefer source distributions over wheels")
	resolveCmd.Flags().Bool("allow-prereleases", false, "admit pre-release candidates")
	resolveCmd.Flags().Bool("ignore-errors", false, "treat a candidate whose metadata can't be fetched as candidate-local instead of aborting")
	resolveCmd.Flags().Int("max-rounds", 0, "bound the search loop (0: use the default bound)")
	resolveCmd.Flags().String("cache-dir", "", "artifact cache directory (default: platform cache dir)")
	resolveCmd.Flags().Int("concurrency", 10, "max parallel network operations for warm-fill")
	resolveCmd.Flags().String("strategy", "highest", "candidate-selection strategy: highest or lowest-direct")
	resolveCmd.Flags().String("format", "tree", "result shape to print: tree or flat")
	resolveCmd.Flags().BoolP("verbose", "v", false, "verbose logging on stderr")

	rootCmd.AddCommand(resolveCmd)

	return rootCmd.Execute()
}

func runResolve(cmd *cobra.Command, args []string) error {
	flags, err := parseResolveFlags(cmd)
	if err != nil {
		return err
	}

	requirements, err := collectRequirements(args, flags.reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no requirements specified; pass them as arguments or with -r")
	}

	logger := newLogger(flags.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	strategy, err := parseStrategy(flags.strategy)
	if err != nil {
		return err
	}

	target, err := resolveTarget(ctx, flags)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	var repos []index.Repository
	for _, base := range flags.indexURLs {
		repos = append(repos, pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithBaseURL(base), pypi.WithLogger(logger)))
	}

	// the PyPI service doubles as the metadata.Source; the first configured
	// index is the requirements source for every name, whichever index
	// answered list_versions for it, since PyPI's JSON API serves both from
	// the same payload (spec §4.D).
	src := pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithBaseURL(flags.indexURLs[0]), pypi.WithLogger(logger))

	svc := engine.New(engine.WithLogger(logger))

	result, err := svc.Resolve(ctx, requirements, target, repos, src, engine.Options{
		PreferSource:       flags.preferSource,
		AllowPrereleases:   flags.allowPrereleases,
		IgnoreErrors:       flags.ignoreErrors,
		MaxRounds:          flags.maxRounds,
		CacheDir:           flags.cacheDir,
		NetworkConcurrency: flags.concurrency,
		Strategy:           strategy,
	})
	if err != nil {
		return fmt.Errorf("resolving requirements: %w", err)
	}

	return printResult(result, requirements, target, flags.format)
}

type resolveFlags struct {
	reqFile          string
	pythonVersion    string
	platform         string
	indexURLs        []string
	preferSource     bool
	allowPrereleases bool
	ignoreErrors     bool
	maxRounds        int
	cacheDir         string
	concurrency      int
	strategy         string
	format           string
	verbose          bool
}

func parseResolveFlags(cmd *cobra.Command) (resolveFlags, error) {
	f := cmd.Flags()

	var flags resolveFlags

	flags.reqFile, _ = f.GetString("requirements")
	flags.pythonVersion, _ = f.GetString("python")
	flags.platform, _ = f.GetString("platform")
	flags.indexURLs, _ = f.GetStringSlice("index")
	flags.preferSource, _ = f.GetBool("prefer-source")
	flags.allowPrereleases, _ = f.GetBool("allow-prereleases")
	flags.ignoreErrors, _ = f.GetBool("ignore-errors")
	flags.maxRounds, _ = f.GetInt("max-rounds")
	flags.cacheDir, _ = f.GetString("cache-dir")
	flags.concurrency, _ = f.GetInt("concurrency")
	flags.strategy, _ = f.GetString("strategy")
	flags.format, _ = f.GetString("format")
	flags.verbose, _ = f.GetBool("verbose")

	if len(flags.indexURLs) == 0 {
		return flags, fmt.Errorf("at least one --index is required")
	}

	return flags, nil
}

// resolveTarget builds the interpreter/platform a run resolves against.
// Any flag left unset falls back to the host's actual python3, detected the
// way a caller without an explicit --python/--platform would expect.
func resolveTarget(ctx context.Context, flags resolveFlags) (python.Target, error) {
	if flags.pythonVersion != "" && flags.platform != "" {
		return python.Target{PythonVersion: flags.pythonVersion, Platform: flags.platform}, nil
	}

	env, err := python.New().Detect(ctx)
	if err != nil {
		return python.Target{}, fmt.Errorf("detecting host python environment: %w", err)
	}

	target := python.FromDetected(env)

	if flags.pythonVersion != "" {
		target.PythonVersion = flags.pythonVersion
	}

	if flags.platform != "" {
		target.Platform = flags.platform
	}

	return target, nil
}

func parseStrategy(s string) (resolver.Strategy, error) {
	switch strings.ToLower(s) {
	case "", "highest":
		return resolver.StrategyHighest, nil
	case "lowest-direct":
		return resolver.StrategyLowestDirect, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q, want one of: highest, lowest-direct", s)
	}
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// collectRequirements merges CLI args and requirements file entries.
func collectRequirements(args []string, reqFile string) ([]string, error) {
	var requirements []string

	requirements = append(requirements, args...)

	if reqFile != "" {
		fileReqs, err := parseRequirementsFile(reqFile)
		if err != nil {
			return nil, err
		}

		requirements = append(requirements, fileReqs...)
	}

	return requirements, nil
}

// parseRequirementsFile reads a pip-compatible requirements file: one
// requirement per line, "#" comments, blank lines and pip options (lines
// starting with "-") are skipped.
func parseRequirementsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var reqs []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		reqs = append(reqs, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file %s: %w", path, err)
	}

	return reqs, nil
}

func printResult(result *engine.Result, requirements []string, target python.Target, format string) error {
	headers := map[string]string{
		"tool":           "pyresolve",
		"python_version": target.PythonVersion,
		"platform":       target.Platform,
		"requirements":   strings.Join(requirements, ", "),
	}

	out, err := shaper.ToJSON(headers, result.Result, result.RootNames, strings.ToLower(format), result.Warnings)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(append(out, '\n'))

	return err
}
