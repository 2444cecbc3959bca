package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/storyflow/internal/config"
	"github.com/aristath/storyflow/internal/events"
	"github.com/aristath/storyflow/internal/gitx"
	"github.com/aristath/storyflow/internal/history"
	"github.com/aristath/storyflow/internal/orchestrator"
	"github.com/aristath/storyflow/internal/plan"
	"github.com/aristath/storyflow/internal/tui"
	"github.com/aristath/storyflow/internal/worker"
)

var (
	flagConcurrency   int
	flagTimeout       int
	flagRetries       int
	flagMaxIterations int
	flagNoCommit      bool
	flagTUI           bool
	flagHistory       int
)

func main() {
	root := &cobra.Command{
		Use:   "storyflow",
		Short: "Execute user stories from a planning document with parallel workers",
		Long: `storyflow reads a markdown planning document, groups its stories into
dependency-ordered batches, executes each batch with parallel worker
subprocesses, reconciles file conflicts, and commits the results one
story at a time.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run <planning-document>",
		Short: "Execute all incomplete stories in the document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), args[0])
		},
	}
	runCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "max parallel workers (overrides config)")
	runCmd.Flags().IntVar(&flagTimeout, "timeout", 0, "per-story timeout in minutes (overrides config)")
	runCmd.Flags().IntVar(&flagRetries, "retries", -1, "retries per story after the first attempt (overrides config)")
	runCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", -1, "stop after this many stories, 0 for unlimited (overrides config)")
	runCmd.Flags().BoolVar(&flagNoCommit, "no-commit", false, "execute and merge but skip git commits")
	runCmd.Flags().BoolVar(&flagTUI, "tui", false, "show a live run monitor")

	planCmd := &cobra.Command{
		Use:   "plan <planning-document>",
		Short: "Show the batches a run would execute, without executing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(args[0])
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show the most recent run from history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context())
		},
	}
	reportCmd.Flags().IntVar(&flagHistory, "history", 0, "also list the N most recent runs")

	root.AddCommand(runCmd, planCmd, reportCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// runRun wires the full pipeline and executes it.
func runRun(ctx context.Context, specPath string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cfg)

	repoRoot, err := os.Getwd()
	if err != nil {
		return err
	}
	if !flagNoCommit && !gitx.New(repoRoot).IsRepo() {
		return fmt.Errorf("%s is not a git repository (use --no-commit to run anyway)", repoRoot)
	}

	pm := worker.NewProcessManager()
	bus := events.NewBus()
	defer bus.Close()

	store, err := history.NewStore(ctx, cfg.HistoryDBPath)
	if err != nil {
		log.Printf("WARNING: run history disabled: %v", err)
		store = nil
	} else {
		defer store.Close()
	}

	runner := orchestrator.New(cfg, specPath, repoRoot, pm, bus, store, flagNoCommit)

	var program *tea.Program
	tuiDone := make(chan error, 1)
	if flagTUI {
		program = tea.NewProgram(tui.New(bus), tea.WithAltScreen())
		go func() {
			_, err := program.Run()
			tuiDone <- err
		}()
	}

	report, runErr := runner.Run(ctx)

	// Restore default signal handling so a second Ctrl+C force-exits,
	// and reap anything the workers left behind.
	stopOnSignal(ctx, pm)

	if program != nil {
		program.Quit()
		if err := <-tuiDone; err != nil {
			log.Printf("WARNING: monitor exited with error: %v", err)
		}
	}

	if runErr != nil {
		if err := pm.KillAll(); err != nil {
			log.Printf("WARNING: failed to kill worker processes: %v", err)
		}
		return runErr
	}

	fmt.Println(orchestrator.RenderMarkdown(report))
	fmt.Println(orchestrator.RenderSummary(report))

	if report.Status == orchestrator.RunFailed {
		os.Exit(1)
	}
	return nil
}

// stopOnSignal kills tracked workers if the context was cancelled by a
// signal while the run was in flight.
func stopOnSignal(ctx context.Context, pm *worker.ProcessManager) {
	if ctx.Err() == nil {
		return
	}
	log.Println("shutdown signal received, cleaning up worker processes")
	if err := pm.KillAll(); err != nil {
		log.Printf("WARNING: failed to kill worker processes: %v", err)
	}
}

// runPlan parses the document and prints the batch plan.
func runPlan(specPath string) error {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("reading planning document: %w", err)
	}
	stories, err := plan.ParseDocument(string(data))
	if err != nil {
		return err
	}

	graph := plan.BuildGraph(stories)
	if _, err := graph.Validate(); err != nil {
		return err
	}
	batches, err := plan.Batches(graph, stories)
	if err != nil {
		return err
	}

	done := 0
	for _, s := range stories {
		if s.Status == plan.StoryDone {
			done++
		}
	}
	fmt.Printf("%d stories (%d already done), %d batch(es)\n\n", len(stories), done, len(batches))

	for i, ids := range batches {
		fmt.Printf("batch %d: %s\n", i+1, strings.Join(ids, ", "))
	}
	for _, s := range stories {
		if node := graph.Nodes[s.ID]; node != nil && len(node.Edges) > 0 {
			fmt.Printf("  %s depends on %s\n", s.ID, strings.Join(node.Edges, ", "))
		}
	}
	return nil
}

// runReport prints the most recent persisted run.
func runReport(ctx context.Context) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := history.NewStore(ctx, cfg.HistoryDBPath)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer store.Close()

	run, err := store.LastRun(ctx)
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Println("no runs recorded yet")
		return nil
	}

	results, err := store.Results(ctx, run.ID)
	if err != nil {
		return err
	}
	commits, err := store.Commits(ctx, run.ID)
	if err != nil {
		return err
	}

	fmt.Printf("run %s (%s)\n", run.ID, run.Status)
	fmt.Printf("document: %s\n", run.SpecPath)
	fmt.Printf("started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("finished: %s\n\n", run.FinishedAt.Local().Format("2006-01-02 15:04:05"))

	for _, r := range results {
		line := fmt.Sprintf("  [batch %d] %s: %s (%d attempt(s), %dms)", r.BatchIndex+1, r.StoryID, r.Status, r.Attempts, r.DurationMS)
		if r.Error != "" {
			line += " " + r.Error
		}
		fmt.Println(line)
	}
	if len(commits) > 0 {
		fmt.Println()
		for _, c := range commits {
			hash := c.Hash
			if len(hash) > 8 {
				hash = hash[:8]
			}
			fmt.Printf("  %s %s\n", hash, c.Subject)
		}
	}

	if flagHistory > 0 {
		runs, err := store.ListRuns(ctx, flagHistory)
		if err != nil {
			return err
		}
		fmt.Println("\nrecent runs:")
		for _, r := range runs {
			fmt.Printf("  %s %-8s %s\n", r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.SpecPath)
		}
	}
	return nil
}

// applyFlags overlays explicitly-set CLI flags onto the loaded config.
func applyFlags(cfg *config.Config) {
	if flagConcurrency > 0 {
		cfg.MaxConcurrency = flagConcurrency
	}
	if flagTimeout > 0 {
		cfg.TimeoutMinutes = flagTimeout
	}
	if flagRetries >= 0 {
		cfg.MaxRetries = flagRetries
	}
	if flagMaxIterations >= 0 {
		cfg.MaxIterations = flagMaxIterations
	}
}
