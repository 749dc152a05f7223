package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/estatecopilot/runtime/runtime/engine"
	temporalengine "github.com/estatecopilot/runtime/runtime/engine/temporal"
	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/modelgw/anthropic"
	"github.com/estatecopilot/runtime/runtime/prompt"
	"github.com/estatecopilot/runtime/runtime/team"
	"github.com/estatecopilot/runtime/runtime/telemetry"
	"github.com/estatecopilot/runtime/runtime/tools"
)

// cmd/worker hosts the durable-execution backend reserved for team subgraphs
// (see DESIGN.md's engine/temporal decision): a Temporal worker process
// separate from cmd/server's in-process supervisor graph.
func main() {
	var (
		hostPortF  = flag.String("temporal-host-port", "localhost:7233", "Temporal frontend host:port")
		namespaceF = flag.String("temporal-namespace", "default", "Temporal namespace")
		configF    = flag.String("config", "config.yaml", "Path to the runtime configuration file")
		promptDirF = flag.String("prompts", "prompts", "Directory of prompt templates")
	)
	flag.Parse()

	_ = godotenv.Load()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.NewClueLogger()

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load config")
	}
	prompts := prompt.NewStore()
	if err := prompts.LoadDir(*promptDirF); err != nil {
		log.Fatalf(ctx, err, "load prompts")
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	llmClient, err := anthropic.NewFromAPIKey(apiKey, 4096)
	if err != nil {
		log.Fatalf(ctx, err, "build anthropic client")
	}
	var llm modelgw.Client = llmClient

	registry := tools.NewRegistry()
	runner := &teamRunner{executors: map[string]*team.Executor{
		"search":   team.NewExecutor(team.NewSearchDefinition(llm, cfg.LLM.Models.KeywordExtraction), registry, llm, cfg.LLM.Models.ToolSelectionSearch),
		"analysis": team.NewExecutor(team.NewAnalysisDefinition(llm, cfg.LLM.Models.InsightGeneration), registry, llm, cfg.LLM.Models.ToolSelectionAnalysis),
		"document": team.NewExecutor(team.NewDocumentDefinition(llm, cfg.LLM.Models.ResponseSynthesis), registry, llm, cfg.LLM.Models.ToolSelectionAnalysis),
	}}

	eng, err := temporalengine.New(temporalengine.Options{
		ClientOptions: &client.Options{HostPort: *hostPortF, Namespace: *namespaceF},
		WorkerOptions: temporalengine.WorkerOptions{TaskQueue: teamExecutionTaskQueue},
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build temporal engine")
	}
	defer eng.Close()

	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      teamExecutionWorkflowName,
		TaskQueue: teamExecutionTaskQueue,
		Handler:   teamExecutionWorkflow,
	}); err != nil {
		log.Fatalf(ctx, err, "register team execution workflow")
	}
	if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    runTeamActivityName,
		Handler: runner.runTeamActivity,
	}); err != nil {
		log.Fatalf(ctx, err, "register run team activity")
	}

	if err := eng.Worker().Start(); err != nil {
		log.Fatalf(ctx, err, "start worker")
	}
	log.Print(ctx, log.KV{K: "msg", V: "worker started"}, log.KV{K: "task_queue", V: teamExecutionTaskQueue})

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	log.Print(ctx, log.KV{K: "msg", V: "shutting down"}, log.KV{K: "signal", V: fmt.Sprint(sig)})
	eng.Worker().Stop()
}
