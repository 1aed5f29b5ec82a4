package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amorsize/amorsize/pkg/amorsize"
	"github.com/amorsize/amorsize/pkg/data"
	"github.com/amorsize/amorsize/pkg/pool"
)

// workerFlag is the hidden argv[1] a re-exec'd subprocess worker is started
// with (pool.NewProcessPool passes it back to os.Args[0]); it never appears
// in --help since it's checked before cobra ever sees the argument list.
const workerFlag = "-amorsize-worker"

var (
	verbose bool
	asJSON  bool
	noCache bool
)

func main() {
	registerBuiltins()

	if len(os.Args) > 1 && os.Args[1] == workerFlag {
		runWorker()
		return
	}

	root := &cobra.Command{
		Use:   "amorsize",
		Short: "Parallelism optimizer: sample a workload, plan its execution, run it",
		Long: `amorsize samples a small prefix of a data collection against a function,
estimates whether parallel execution would pay off, and either reports that
plan or runs it.

* GitHub: https://github.com/amorsize/amorsize`,
	}

	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print machine-readable JSON instead of a table")
	root.PersistentFlags().BoolVar(&noCache, "no-cache", false, "disable the decision cache for this invocation")

	root.AddCommand(planCmd(), executeCmd(), validateCmd(), cacheCmd())

	cobra.OnInitialize(func() {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	})

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(exitCodeFor(err))
	}
}

func runWorker() {
	pool.RunWorker(os.Stdin, os.Stdout)
}

func newClient() (*amorsize.Client, error) {
	return amorsize.New(amorsize.Options{NoCache: noCache}, workerFlag)
}

type argError struct{ err error }

func (e argError) Error() string { return e.err.Error() }
func (e argError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if _, ok := err.(argError); ok {
		return 2
	}
	return 1
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <func-ref> <data-spec>",
		Short: "Compute and print an optimization plan without running it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(args[0], args[1])
		},
	}
}

func executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <func-ref> <data-spec>",
		Short: "Plan and run a function over a data collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd.Context(), args[0], args[1])
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run the system probe and report whether every detector succeeded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	}
}

func cacheCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or manage the decision cache",
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List cached decisions",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return runCacheList() },
		},
		&cobra.Command{
			Use:   "show <fingerprint>",
			Short: "Show one cached decision",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return runCacheShow(args[0]) },
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Remove expired or incompatible cache entries",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return runCachePrune() },
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cache entry unconditionally",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return runCacheClear() },
		},
	)
	return root
}

func runPlan(funcRef, dataSpec string) error {
	kind, ok := lookupFuncRef(funcRef)
	if !ok {
		return argError{unknownFuncRefError(funcRef)}
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	switch kind {
	case "int":
		items, err := parseIntDataSpec(dataSpec)
		if err != nil {
			return argError{err}
		}
		p := amorsize.Plan(c, intFuncs[funcRef].task, data.FromSlice(items))
		printPlan(p.NWorkers, p.Chunksize, string(p.ExecutorKind), string(p.RejectionReason), p.PredictedSpeedup, p.Explanation)
	case "string":
		items, err := parseStringDataSpec(dataSpec)
		if err != nil {
			return argError{err}
		}
		p := amorsize.Plan(c, stringFuncs[funcRef].task, data.FromSlice(items))
		printPlan(p.NWorkers, p.Chunksize, string(p.ExecutorKind), string(p.RejectionReason), p.PredictedSpeedup, p.Explanation)
	}
	return nil
}

func runExecute(ctx context.Context, funcRef, dataSpec string) error {
	kind, ok := lookupFuncRef(funcRef)
	if !ok {
		return argError{unknownFuncRefError(funcRef)}
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	switch kind {
	case "int":
		items, err := parseIntDataSpec(dataSpec)
		if err != nil {
			return argError{err}
		}
		results, err := amorsize.Execute(ctx, c, intFuncs[funcRef].job, intFuncs[funcRef].task, data.FromSlice(items))
		if err != nil {
			return err
		}
		printResults(results)
	case "string":
		items, err := parseStringDataSpec(dataSpec)
		if err != nil {
			return argError{err}
		}
		results, err := amorsize.Execute(ctx, c, stringFuncs[funcRef].job, stringFuncs[funcRef].task, data.FromSlice(items))
		if err != nil {
			return err
		}
		printResults(results)
	}
	return nil
}

func runValidate() error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	report := c.Validate()
	if asJSON {
		b, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(b))
	} else {
		fmt.Printf("ok: %v\n", report.OK)
		fmt.Printf("physical_cores: %d\n", report.Info.PhysicalCores)
		fmt.Printf("spawn_method: %s\n", report.Info.SpawnMethod)
		fmt.Printf("spawn_cost_trusted: %v\n", report.Info.SpawnCostTrusted)
		for _, w := range report.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
	}
	if !report.OK {
		return fmt.Errorf("validation reported warnings")
	}
	return nil
}

func runCacheList() error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	entries, err := c.CacheList()
	if err != nil {
		return err
	}
	if asJSON {
		b, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(b))
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s\tn_workers=%d\tchunksize=%d\texecutor=%s\tcreated=%s\n",
			e.Fingerprint, e.Plan.NWorkers, e.Plan.Chunksize, e.Plan.ExecutorKind, e.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runCacheShow(fingerprint string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	e, ok, err := c.CacheShow(fingerprint)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no cache entry for fingerprint %q", fingerprint)
	}
	b, _ := json.MarshalIndent(e, "", "  ")
	fmt.Println(string(b))
	return nil
}

func runCachePrune() error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Shutdown()

	removed, err := c.CachePrune()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d entr%s\n", removed, plural(removed))
	return nil
}

func runCacheClear() error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Shutdown()
	return c.CacheClear()
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func printPlan(nWorkers, chunksize int, executorKind, rejectionReason string, speedup float64, explanation string) {
	if asJSON {
		b, _ := json.MarshalIndent(map[string]any{
			"n_workers":         nWorkers,
			"chunksize":         chunksize,
			"executor_kind":     executorKind,
			"rejection_reason":  rejectionReason,
			"predicted_speedup": speedup,
			"explanation":       explanation,
		}, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Printf("n_workers: %d\n", nWorkers)
	fmt.Printf("chunksize: %d\n", chunksize)
	fmt.Printf("executor_kind: %s\n", executorKind)
	if rejectionReason != "" {
		fmt.Printf("rejection_reason: %s\n", rejectionReason)
	}
	fmt.Printf("predicted_speedup: %.3f\n", speedup)
	fmt.Printf("explanation: %s\n", explanation)
}

func printResults[R any](results []R) {
	if asJSON {
		b, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(b))
		return
	}
	for _, r := range results {
		fmt.Println(r)
	}
}

// parseIntDataSpec accepts "range:N" (items 0..N-1).
func parseIntDataSpec(spec string) ([]int, error) {
	kind, rest, ok := strings.Cut(spec, ":")
	if !ok || kind != "range" {
		return nil, fmt.Errorf("int func-refs require a data-spec of the form range:N, got %q", spec)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid range count %q", rest)
	}
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items, nil
}

// parseStringDataSpec accepts "lines:<path>" (one item per non-empty line).
func parseStringDataSpec(spec string) ([]string, error) {
	kind, path, ok := strings.Cut(spec, ":")
	if !ok || kind != "lines" {
		return nil, fmt.Errorf("string func-refs require a data-spec of the form lines:<path>, got %q", spec)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	var items []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return items, nil
}
