package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zen-systems/toolcascade/pkg/cascade"
	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/evidence"
	"github.com/zen-systems/toolcascade/pkg/feedback"
	"github.com/zen-systems/toolcascade/pkg/gate"
	"github.com/zen-systems/toolcascade/pkg/router"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/synth"
	"go.uber.org/zap"
)

var (
	configFile  string
	evidenceDir string
	verbose     bool
	jsonOutput  bool

	logger = zap.NewNop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "toolcascade",
		Short: "Adaptive tool resolution with fallback tiers and tool synthesis",
		Long: `Toolcascade resolves a task by classifying its failure signal, ranking
	registered tools, and escalating through specialized, generic and
	synthesized tools until an answer passes validation. Every attempt
	is recorded so later runs rank tools better.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(".env")
			return setupLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to cascade config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogger() error {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = l
	return nil
}

// priorFlags collect an optional prior failure from the command line.
type priorFlags struct {
	tool       string
	err        string
	output     string
	kind       string
	confidence float64
	hint       string
	format     string
}

func (p *priorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.hint, "hint", "", "category hint (skips classification)")
	cmd.Flags().StringVar(&p.format, "format", "", "expected output format: number, integer, json, date, yesno or re:<pattern>")
	cmd.Flags().StringVar(&p.tool, "prior-tool", "", "tool that produced the prior failure")
	cmd.Flags().StringVar(&p.err, "prior-error", "", "error text of the prior failure")
	cmd.Flags().StringVar(&p.output, "prior-output", "", "output of the prior failure")
	cmd.Flags().StringVar(&p.kind, "prior-kind", "", "failure kind of the prior failure (timeout, rejected, ...)")
	cmd.Flags().Float64Var(&p.confidence, "prior-confidence", -1, "confidence of the prior failure")
}

func (p *priorFlags) task(cmd *cobra.Command, goal string) (schema.Task, error) {
	var opts []schema.TaskOption
	if p.hint != "" {
		c, err := schema.ParseCategory(p.hint)
		if err != nil {
			return schema.Task{}, err
		}
		opts = append(opts, schema.WithCategoryHint(c))
	}
	if p.format != "" {
		opts = append(opts, schema.WithExpectedFormat(p.format))
	}
	if p.err != "" || p.output != "" || p.kind != "" || p.tool != "" {
		prior := schema.PriorFailure{
			ToolID: p.tool,
			Error:  p.err,
			Output: p.output,
			Kind:   schema.FailureKind(p.kind),
		}
		if cmd.Flags().Changed("prior-confidence") {
			prior.Confidence = schema.Float(schema.ClampUnit(p.confidence))
		}
		opts = append(opts, schema.WithPriorFailure(prior))
	}
	task := schema.NewTask(goal, opts...)
	return task, task.Validate()
}

func resolveCmd() *cobra.Command {
	var prior priorFlags

	cmd := &cobra.Command{
		Use:   "resolve [goal]",
		Short: "Resolve one task through the cascade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := prior.task(cmd, args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.controller.Resolve(cmd.Context(), task)
			if err != nil {
				return err
			}
			if err := rt.writeEvidence("resolve", "", []schema.Task{task}, []*schema.CascadeResult{res}); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(os.Stdout, res)
			}
			printResult(os.Stderr, res)
			if res.Status == schema.StatusSucceeded {
				fmt.Println(res.Output)
				return nil
			}
			return fmt.Errorf("cascade failed: %s", res.Reason)
		},
	}

	prior.register(cmd)
	cmd.Flags().StringVar(&evidenceDir, "evidence", "", "write an evidence bundle under this directory")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full cascade result as JSON")
	return cmd
}

func batchCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "batch [tasks.yaml]",
		Short: "Resolve every task in a YAML file concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := cascade.LoadTasks(args[0])
			if err != nil {
				return fmt.Errorf("failed to load tasks: %w", err)
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if workers <= 0 {
				workers = rt.cfg.Cascade.Concurrency
			}
			results, runErr := rt.controller.ResolveAll(cmd.Context(), tasks, workers)
			if err := rt.writeEvidence("batch", args[0], tasks, results); err != nil {
				return err
			}

			summary := cascade.Summarize(results)
			if jsonOutput {
				if err := printJSON(os.Stdout, map[string]any{"results": results, "summary": summary}); err != nil {
					return err
				}
				return runErr
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tCATEGORY\tSTATUS\tTIER\tATTEMPTS\tOUTPUT")
			for i, res := range results {
				if res == nil {
					fmt.Fprintf(w, "%s\t-\tERROR\t-\t0\t-\n", tasks[i].ID)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					res.TaskID, res.Classification.Category, res.Status, tierName(res), len(res.Attempts), oneLine(res.Output, 40))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			printSummary(os.Stdout, summary)
			return runErr
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "max concurrent cascades (default from config)")
	cmd.Flags().StringVar(&evidenceDir, "evidence", "", "write an evidence bundle under this directory")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print results and summary as JSON")
	return cmd
}

func classifyCmd() *cobra.Command {
	var prior priorFlags

	cmd := &cobra.Command{
		Use:   "classify [goal]",
		Short: "Show the classification and tool ranking for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := prior.task(cmd, args[0])
			if err != nil {
				return err
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			class := rt.controller.Classify(task)
			fmt.Printf("Category: %s\nSeverity: %s\n", class.Category, class.Severity)
			for _, reason := range class.Reasons {
				fmt.Printf("  - %s\n", reason)
			}

			cands, err := rt.ranker().Rank(cmd.Context(), class)
			if err != nil {
				return err
			}
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tMATCH\tWEIGHT\tSUCCESS\tOBSERVED\tSCORE")
			for _, c := range cands {
				fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t%.3f\n", c.Descriptor.ID, c.Match, c.Descriptor.Weight, c.SuccessRate, c.Observations, c.Score)
			}
			return w.Flush()
		},
	}
	prior.register(cmd)
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tWEIGHT\tTAGS")
			for d := range rt.registry.Snapshot().All() {
				tags := make([]string, 0, len(d.Tags))
				for _, t := range d.Tags {
					tags = append(tags, string(t))
				}
				fmt.Fprintf(w, "%s\t%.2f\t%s\n", d.ID, d.Weight, strings.Join(tags, ", "))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if len(rt.skipped) > 0 {
				fmt.Println()
				fmt.Println("Unavailable:")
				for _, s := range rt.skipped {
					fmt.Printf("  %s: %s\n", s.ID, s.Reason)
				}
			}
			return nil
		},
	}
}

func feedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback",
		Short: "Summarize recorded tool outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := feedback.Open(cfg.Cascade.Feedback, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			stats := feedback.Summarize(records)
			if len(stats) == 0 {
				fmt.Printf("No feedback recorded (%s backend).\n", cfg.Cascade.Feedback.Backend)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tCATEGORY\tTOTAL\tSUCCEEDED\tCANCELED\tRATE")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.2f\n", s.ToolID, s.Category, s.Total, s.Succeeded, s.Canceled, s.Rate())
			}
			return w.Flush()
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective cascade config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := router.RulesFromConfig(cfg.Cascade); err != nil {
				return err
			}
			if _, err := synth.TemplatesFromConfig(cfg.Cascade); err != nil {
				return err
			}
			if _, err := gate.FromConfig(cfg.Cascade, logger); err != nil {
				return err
			}
			data, err := cfg.Cascade.Marshal()
			if err != nil {
				return err
			}
			source := cfg.CascadeFile
			if source == "" {
				source = "built-in defaults"
			}
			fmt.Printf("# source: %s\n", source)
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithCascadeFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (rt *runtimeDeps) writeEvidence(command, taskFile string, tasks []schema.Task, results []*schema.CascadeResult) error {
	dir := evidenceDir
	if dir == "" {
		dir = rt.cfg.Cascade.EvidenceDir
	}
	if dir == "" {
		return nil
	}

	runID := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	writer, err := evidence.NewWriter(dir, runID)
	if err != nil {
		return fmt.Errorf("failed to create evidence writer: %w", err)
	}
	err = writer.WriteRun(evidence.RunRecord{
		ID:           runID,
		Timestamp:    time.Now().UTC(),
		Command:      command,
		ConfigFile:   rt.cfg.CascadeFile,
		TaskFile:     taskFile,
		Tasks:        len(tasks),
		ToolVersions: map[string]string{"go": runtime.Version()},
	})
	if err != nil {
		return err
	}
	for i, res := range results {
		if res == nil {
			continue
		}
		if err := writer.WriteResult(tasks[i], res); err != nil {
			return err
		}
	}
	if err := writer.WriteSynthesis(rt.synth.History()); err != nil {
		return err
	}
	if err := writer.WriteSummary(cascade.Summarize(results)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Evidence written to %s\n", writer.RunDir())
	return nil
}

func printResult(w io.Writer, res *schema.CascadeResult) {
	fmt.Fprintf(w, "Category: %s (%s)\n", res.Classification.Category, res.Classification.Severity)
	for i, a := range res.Attempts {
		status := "accepted"
		if !a.Accepted {
			status = string(a.Failure)
		}
		id := a.ToolID
		if id == "" {
			id = "(none)"
		}
		fmt.Fprintf(w, "  %d. [%s] %s: %s (confidence %.2f)\n", i+1, a.Tier, id, status, a.Confidence)
	}
	if res.SynthesizedTool != "" {
		fmt.Fprintf(w, "Synthesized: %s\n", res.SynthesizedTool)
	}
	fmt.Fprintf(w, "Status: %s in %s\n", res.Status, res.Duration.Round(time.Millisecond))
}

func printSummary(w io.Writer, s cascade.Summary) {
	fmt.Fprintf(w, "\nTasks: %d  Succeeded: %d  Failed: %d  Success rate: %.1f%%\n",
		s.Total, s.Succeeded, s.Failed, s.SuccessRate*100)
	fmt.Fprintf(w, "Fallback used: %d  Synthesized: %d  Attempts/task: %.2f\n",
		s.FallbackUsed, s.Synthesized, s.MeanAttempts())

	tiers := make([]string, 0, len(s.ByTier))
	for t := range s.ByTier {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	for _, t := range tiers {
		fmt.Fprintf(w, "  %s: %d\n", t, s.ByTier[t])
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func tierName(res *schema.CascadeResult) string {
	if tier := res.FinalTier(); tier != 0 {
		return tier.String()
	}
	return "-"
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	if s == "" {
		return "-"
	}
	return s
}
