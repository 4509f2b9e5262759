package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/redispatch/internal/config"
	"github.com/mattjoyce/redispatch/internal/dispatch"
	"github.com/mattjoyce/redispatch/internal/doctor"
	"github.com/mattjoyce/redispatch/internal/events"
	"github.com/mattjoyce/redispatch/internal/inspect"
	"github.com/mattjoyce/redispatch/internal/journal"
	"github.com/mattjoyce/redispatch/internal/lock"
	"github.com/mattjoyce/redispatch/internal/log"
	"github.com/mattjoyce/redispatch/internal/scenario"
	"github.com/mattjoyce/redispatch/internal/storage"
	"github.com/mattjoyce/redispatch/internal/unit"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runRun(args)
	case "check":
		if hasHelpFlag(args) {
			printCheckHelp()
			return 0
		}
		return runCheck(args)
	case "config":
		return runConfigNoun(args)
	case "journal":
		if hasHelpFlag(args) {
			printJournalHelp()
			return 0
		}
		return runJournal(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: redispatch version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("redispatch %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`redispatch - Work-queue dispatcher with pluggable failure recovery

Usage:
  redispatch <command> [flags]

Commands:
  run           Drain the configured queue once
  check         Validate configuration, integrity and recovery policy
  config lock   Record config hashes in .checksums
  journal       List journaled runs or the failures of one run
  version       Show version information
  help          Show this help message

Use 'redispatch <command> --help' for command flags.
`)
}

func printRunHelp() {
	fmt.Println("Usage: redispatch run --config <path> [--trace] [--json]")
	fmt.Println("Seed the queue from config, drain it, and print per-run stats.")
}

func printCheckHelp() {
	fmt.Println("Usage: redispatch check --config <path> [--json]")
	fmt.Println("Load the config, verify .checksums, and report policy errors and warnings.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: redispatch config lock --config <path>")
}

func printJournalHelp() {
	fmt.Println("Usage: redispatch journal --config <path> [--run <id>] [--limit N] [--json]")
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Path to configuration file or directory")
}

func requireConfig(path string) bool {
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required")
		return false
	}
	return true
}

type runReport struct {
	RunID       string         `json:"run_id,omitempty"`
	Service     string         `json:"service"`
	Fingerprint string         `json:"fingerprint"`
	Stats       dispatch.Stats `json:"stats"`
	Logged      int            `json:"logged"`
	Trail       []events.Event `json:"trail,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := configFlag(fs)
	trace := fs.Bool("trace", false, "Print the event trail after draining")
	jsonOut := fs.Bool("json", false, "Output the run report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if !requireConfig(*configPath) {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Configure(log.Options{
		Level:  cfg.Service.LogLevel,
		Format: cfg.Service.LogFormat,
		Writer: os.Stderr,
	})
	logger := log.WithComponent("main")
	logger.Info("redispatch starting", "version", version, "config", *configPath, "fingerprint", cfg.Fingerprint)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := runReport{Service: cfg.Service.Name, Fingerprint: cfg.Fingerprint}
	var logged int
	logFn := func(failure error) {
		logger.Error("failure logged", "failure", unit.KindOf(failure), "error", failure)
	}

	var (
		j     *journal.Journal
		runID string
	)
	if cfg.Journal.Path != "" {
		runLock, err := lock.Acquire(cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to lock journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer func() { _ = runLock.Release() }()

		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()

		j = journal.New(db)
		if runID, err = j.StartRun(ctx, cfg.Service.Name, cfg.Fingerprint); err != nil {
			logger.Error("failed to start run", "error", err)
			return 1
		}
		logFn = j.LogFunc(ctx, runID)
		logger = log.WithRun(runID).With("component", "main")
		report.RunID = runID
	}

	plan, err := scenario.Build(cfg, func(failure error) {
		logged++
		logFn(failure)
	})
	if err != nil {
		logger.Error("failed to build queue", "error", err)
		return 1
	}

	trail := events.NewTrail(cfg.Service.TrailSize)
	d := dispatch.New(dispatch.WithLogger(logger), dispatch.WithTrail(trail))
	stats, runErr := d.Run(ctx, plan.Queue, plan.Registry)

	if j != nil {
		// The run context may already be cancelled; the summary still belongs in the journal.
		if err := j.FinishRun(context.Background(), runID, stats); err != nil {
			logger.Error("failed to finish run", "error", err)
		}
	}

	report.Stats = stats
	report.Logged = logged
	if *trace {
		report.Trail = trail.Since(0)
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if *jsonOut {
		if code := printJSON(report); code != 0 {
			return code
		}
	} else {
		printReport(report)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Run interrupted before the queue drained")
		}
		return 1
	}
	return 0
}

func printReport(r runReport) {
	if r.RunID != "" {
		fmt.Printf("run: %s\n", r.RunID)
	}
	fmt.Printf("service: %s\n", r.Service)
	fmt.Printf("executed=%d succeeded=%d failed=%d handled=%d dropped=%d logged=%d\n",
		r.Stats.Executed, r.Stats.Succeeded, r.Stats.Failed, r.Stats.Handled, r.Stats.Dropped, r.Logged)
	for _, ev := range r.Trail {
		line := fmt.Sprintf("#%d %s", ev.ID, ev.Type)
		if ev.Unit != "" {
			line += " unit=" + ev.Unit
		}
		if ev.Failure != "" {
			line += " failure=" + ev.Failure
		}
		fmt.Println(line)
	}
	if r.Error != "" {
		fmt.Printf("error: %s\n", r.Error)
	}
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output the policy report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if !requireConfig(*configPath) {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check failed: %v\n", err)
		return 1
	}

	doc, err := doctor.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check failed: %v\n", err)
		return 1
	}
	result := doc.Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
		printPolicySummary(cfg)
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func printPolicySummary(cfg *config.Config) {
	queued := 0
	for _, u := range cfg.Units {
		queued += u.Repeat
	}
	fmt.Printf("  files: %d\n", len(cfg.SourceFiles))
	fmt.Printf("  rules: %d\n", len(cfg.Policy.Rules))
	if cfg.Policy.Default != "" {
		fmt.Printf("  default: %s\n", cfg.Policy.Default)
	}
	fmt.Printf("  units: %d\n", queued)
	fmt.Printf("  fingerprint: %s\n", cfg.Fingerprint)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: redispatch config <lock>")
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigLockHelp()
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if !requireConfig(*configPath) {
		return 1
	}

	files, err := config.Files(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config files: %v\n", err)
		return 1
	}
	path, err := config.WriteChecksums(files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %d file(s) in %s\n", len(files), path)
	return 0
}

func runJournal(args []string) int {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	configPath := configFlag(fs)
	runID := fs.String("run", "", "Show failures logged by this run")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if !requireConfig(*configPath) {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Journal.Path == "" {
		fmt.Fprintln(os.Stderr, "Error: journal.path is not configured")
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer db.Close()
	j := journal.New(db)

	if *runID != "" {
		render := inspect.BuildReport
		if *jsonOut {
			render = inspect.BuildJSONReport
		}
		out, err := render(ctx, j, *runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to inspect run: %v\n", err)
			return 1
		}
		fmt.Println(strings.TrimRight(out, "\n"))
		return 0
	}

	runs, err := j.Runs(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs journaled")
		return 0
	}
	for _, r := range runs {
		finished := "running"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %s  started=%s finished=%s executed=%d failed=%d dropped=%d\n",
			r.ID, r.Service, r.StartedAt.Format(time.RFC3339), finished,
			r.Stats.Executed, r.Stats.Failed, r.Stats.Dropped)
	}
	return 0
}
