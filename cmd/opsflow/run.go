package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/opsflow/assistant"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/persistence"
)

// =============================================================================
// ▶️ run 命令 — 执行单个计划文档
// =============================================================================

// runPlan 从文件读入计划文档，在一次性装配的助手上执行，
// 并把完整运行记录以 JSON 打印到 stdout。日志与进度走 stderr，
// stdout 只承载结果，便于管道处理。
func runPlan(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	timeout := fs.Duration("timeout", 0, "Execution timeout (default: orchestrator plan_timeout)")
	quiet := fs.Bool("quiet", false, "Suppress step progress output")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: opsflow run [--config <path>] [--timeout <dur>] [--quiet] <plan-file>")
		os.Exit(1)
	}
	planPath := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout 保留给执行结果
	logCfg := cfg.Log
	logCfg.OutputPaths = []string{"stderr"}
	logger := initLogger(logCfg)
	defer logger.Sync()

	plan, err := loadPlanFile(planPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load plan: %v\n", err)
		os.Exit(1)
	}

	// 一次性装配：与 serve 相同的厂商防护栈，但不挂指标、不落运行历史
	breakers := buildBreakerRegistry(cfg, nil, logger)
	providers, err := buildProviderRegistry(context.Background(), cfg, breakers, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init cloud providers: %v\n", err)
		os.Exit(1)
	}
	registry, err := buildHandlerRegistry(cfg, nil, providers, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init step handlers: %v\n", err)
		os.Exit(1)
	}

	var listener orchestrate.Listener
	if !*quiet {
		listener = printProgress
	}

	a, err := assistant.New(assistant.Options{
		Handlers:    registry,
		Providers:   providers,
		Breakers:    breakers,
		Listener:    listener,
		MaxParallel: cfg.Orchestrator.MaxParallel,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init assistant: %v\n", err)
		os.Exit(1)
	}

	d := *timeout
	if d <= 0 {
		d = cfg.Orchestrator.PlanTimeout
	}
	ctx := context.Background()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	rec, execErr := a.HandleRequest(ctx, assistant.Request{Plan: plan})
	if execErr != nil && rec == nil {
		fmt.Fprintf(os.Stderr, "Execution failed: %v\n", execErr)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if rec.Status != persistence.RunSucceeded {
		os.Exit(1)
	}
}

// loadPlanFile 按扩展名解析计划文档，.yaml/.yml 走 YAML，其余按 JSON。
func loadPlanFile(path string) (*orchestrate.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return orchestrate.ParsePlanYAML(data)
	default:
		return orchestrate.ParsePlan(data)
	}
}

// printProgress 把步骤级进度写到 stderr。
func printProgress(ev orchestrate.Event) {
	switch ev.Type {
	case orchestrate.EventPlanStarted:
		fmt.Fprintf(os.Stderr, "plan started: %d step(s), mode=%s\n", ev.StepsTotal, ev.Mode)
	case orchestrate.EventBatchStarted:
		fmt.Fprintf(os.Stderr, "batch %d: %d step(s)\n", ev.Batch, ev.BatchSize)
	case orchestrate.EventStepFinished:
		status := "ok"
		if !ev.Success {
			status = "failed: " + ev.Error
		}
		fmt.Fprintf(os.Stderr, "  step %s [%s] %s\n", ev.StepID, ev.Kind, status)
	case orchestrate.EventPlanFinished:
		outcome := "succeeded"
		if !ev.PlanOK {
			outcome = "failed"
		}
		fmt.Fprintf(os.Stderr, "plan %s\n", outcome)
	}
}
