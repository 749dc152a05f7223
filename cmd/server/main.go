package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"goa.design/clue/log"

	"github.com/estatecopilot/runtime/runtime/answer"
	"github.com/estatecopilot/runtime/runtime/bus"
	"github.com/estatecopilot/runtime/runtime/checkpoint"
	"github.com/estatecopilot/runtime/runtime/checkpoint/inmem"
	checkpointpg "github.com/estatecopilot/runtime/runtime/checkpoint/postgres"
	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/estatecopilot/runtime/runtime/memory"
	"github.com/estatecopilot/runtime/runtime/memory/llmsummarizer"
	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/modelgw/anthropic"
	"github.com/estatecopilot/runtime/runtime/planner"
	"github.com/estatecopilot/runtime/runtime/prompt"
	"github.com/estatecopilot/runtime/runtime/session"
	sessioninmem "github.com/estatecopilot/runtime/runtime/session/inmem"
	storepg "github.com/estatecopilot/runtime/runtime/store/postgres"
	"github.com/estatecopilot/runtime/runtime/supervisor"
	"github.com/estatecopilot/runtime/runtime/team"
	"github.com/estatecopilot/runtime/runtime/telemetry"
	"github.com/estatecopilot/runtime/runtime/tools"
	"github.com/estatecopilot/runtime/runtime/transport"
)

func main() {
	var (
		httpPortF   = flag.String("http-port", "8080", "HTTP listen port")
		configF     = flag.String("config", "config.yaml", "Path to the runtime configuration file")
		promptDirF  = flag.String("prompts", "prompts", "Directory of prompt templates")
		dsnF        = flag.String("postgres-dsn", "", "Postgres DSN; empty falls back to in-memory session/checkpoint stores (dev only)")
		sessionTTLF = flag.Duration("session-ttl", 2*time.Hour, "Session lifetime from bootstrap")
		dbgF        = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	_ = godotenv.Load()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load config")
	}

	prompts := prompt.NewStore()
	if err := prompts.LoadDir(*promptDirF); err != nil {
		log.Fatalf(ctx, err, "load prompts")
	}

	llm, err := buildGateway(cfg, logger)
	if err != nil {
		log.Fatalf(ctx, err, "build LLM gateway")
	}

	var (
		sessions    session.Store
		messages    memory.MessageStore
		summaries   memory.SummaryCache
		checkpoints checkpoint.Store
	)
	if *dsnF != "" {
		pg, err := storepg.New(ctx, storepg.Config{DSN: *dsnF})
		if err != nil {
			log.Fatalf(ctx, err, "connect session store")
		}
		defer pg.Close()
		sessions, messages, summaries = pg, pg, pg

		cp, err := checkpointpg.New(ctx, checkpointpg.Config{DSN: *dsnF})
		if err != nil {
			log.Fatalf(ctx, err, "connect checkpoint store")
		}
		defer cp.Close()
		checkpoints = cp
	} else {
		log.Print(ctx, log.KV{K: "msg", V: "no -postgres-dsn set: using in-memory session store, no summary persistence (dev only)"})
		sessions = sessioninmem.New()
		messages = noopMessageStore{}
		summaries = noopSummaryCache{}
		checkpoints = inmem.New()
	}

	tokenizer, err := memory.NewTiktokenCounter(cfg.LLM.Models.ConversationSummary)
	if err != nil {
		log.Fatalf(ctx, err, "build tokenizer")
	}
	summarizer := llmsummarizer.New(llm, prompts, cfg.LLM.Models.ConversationSummary)
	mem := memory.NewService(sessions, messages, summaries, summarizer, tokenizer, cfg.Memory, logger)

	plan := planner.New(llm, prompts, cfg)
	formatter := answer.New(llm, cfg.LLM.Models.ResponseSynthesis, prompts)

	registry := tools.NewRegistry()
	teams := map[string]*team.Executor{
		"search":   team.NewExecutor(team.NewSearchDefinition(llm, cfg.LLM.Models.KeywordExtraction), registry, llm, cfg.LLM.Models.ToolSelectionSearch),
		"analysis": team.NewExecutor(team.NewAnalysisDefinition(llm, cfg.LLM.Models.InsightGeneration), registry, llm, cfg.LLM.Models.ToolSelectionAnalysis),
		// config.ModelMap has no dedicated tool_selection_document entry;
		// the document team's "tool_selection_document" prompt role runs
		// against the analysis tool-selection model until config grows one.
		"document": team.NewExecutor(team.NewDocumentDefinition(llm, cfg.LLM.Models.ResponseSynthesis), registry, llm, cfg.LLM.Models.ToolSelectionAnalysis),
	}

	progressBus := bus.New(nil)
	sup := supervisor.New(checkpoints, progressBus, mem, plan, teams, formatter, cfg, logger)

	srv := transport.New(sessions, messages, sup, *sessionTTLF, logger)

	httpServer := &http.Server{
		Addr:    ":" + *httpPortF,
		Handler: srv.Routes(),
	}

	errc := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "http-port", V: *httpPortF})
		errc <- httpServer.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			log.Print(ctx, log.KV{K: "msg", V: "server error"}, log.KV{K: "error", V: err.Error()})
		}
	case sig := <-sigc:
		log.Print(ctx, log.KV{K: "msg", V: "shutting down"}, log.KV{K: "signal", V: sig.String()})
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Print(ctx, log.KV{K: "msg", V: "graceful shutdown failed"}, log.KV{K: "error", V: err.Error()})
		}
	}
	log.Print(ctx, log.KV{K: "msg", V: "exited"})
}

// buildGateway wires every configured model name to an Anthropic-backed
// modelgw.Client through the Gateway's retry/rate-limit wrapper (§9 "single
// provider today; routing table is ready for more"). ANTHROPIC_API_KEY must
// be set in the environment (or a .env file godotenv.Load picked up).
func buildGateway(cfg *config.Config, logger telemetry.Logger) (modelgw.Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	client, err := anthropic.NewFromAPIKey(apiKey, 4096)
	if err != nil {
		return nil, fmt.Errorf("build anthropic client: %w", err)
	}

	clients := make(map[string]modelgw.Client)
	for _, model := range modelNames(cfg.LLM.Models) {
		if model == "" {
			continue
		}
		clients[model] = client
	}

	return modelgw.NewGateway(clients, modelgw.DefaultRetryPolicy, 0, 0, logger), nil
}

// modelNames extracts every configured model identifier from a ModelMap via
// reflection, so adding a new prompt role to config.ModelMap automatically
// gets routed without another call site to edit here.
func modelNames(m config.ModelMap) []string {
	v := reflect.ValueOf(m)
	names := make([]string, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		names = append(names, v.Field(i).String())
	}
	return names
}

type noopMessageStore struct{}

func (noopMessageStore) LoadMessages(_ context.Context, _ string, _ int) ([]memory.Message, error) {
	return nil, nil
}

type noopSummaryCache struct{}

func (noopSummaryCache) GetSummary(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (noopSummaryCache) PutSummary(_ context.Context, _, _ string) error { return nil }

var (
	_ memory.MessageStore = noopMessageStore{}
	_ memory.SummaryCache = noopSummaryCache{}
)
