package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/aceplaybook/internal/adapt"
	"github.com/hazyhaar/aceplaybook/internal/api"
	"github.com/hazyhaar/aceplaybook/internal/auth"
	"github.com/hazyhaar/aceplaybook/internal/config"
	"github.com/hazyhaar/aceplaybook/internal/db"
	"github.com/hazyhaar/aceplaybook/internal/llm"
	"github.com/hazyhaar/aceplaybook/internal/mcp"
	"github.com/hazyhaar/aceplaybook/internal/playbook"
	"github.com/hazyhaar/aceplaybook/internal/roles"
	"github.com/hazyhaar/aceplaybook/pkg/audit"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "adapt":
		cmdAdapt(os.Args[2:])
	case "hash-secret":
		cmdHashSecret(os.Args[2:])
	case "version":
		fmt.Printf("aceplaybook %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`aceplaybook — agentic context engineering playbook store

Usage:
  aceplaybook serve [--config config.toml] [--addr :8080]
  aceplaybook mcp [--config config.toml]
  aceplaybook adapt --samples samples.json [--config config.toml] [--dataset name]
  aceplaybook hash-secret <secret>
  aceplaybook version
  aceplaybook help

Commands:
  serve        Start the HTTP server
  mcp          Serve playbook tools over MCP stdio
  adapt        Run offline adaptation over a labeled sample file
  hash-secret  Print the bcrypt hash for a client secret
  version      Print version
  help         Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	logger := slog.Default()
	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
	engine := playbook.NewEngine(database, logger)
	builder := playbook.NewBuilder(database)
	orchestrator := playbook.NewOrchestrator(engine, builder,
		cfg.Playbook.MaxStrategies, cfg.Playbook.AppliedBy)

	apiHandler := api.New(database, a, engine, builder, orchestrator,
		cfg.Auth.Clients, logger)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	log.Printf("aceplaybook %s listening on %s", version, cfg.Server.Addr)
	log.Printf("database: %s", cfg.Database.Path)

	if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	auditLog := audit.NewSQLiteLogger(database.DB)
	if err := auditLog.Init(); err != nil {
		log.Fatalf("initializing audit log: %v", err)
	}
	defer auditLog.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	engine := playbook.NewEngine(database, logger)
	builder := playbook.NewBuilder(database)
	orchestrator := playbook.NewOrchestrator(engine, builder,
		cfg.Playbook.MaxStrategies, cfg.Playbook.AppliedBy)

	srv := mcp.NewServer(database, engine, builder, orchestrator, auditLog)
	if err := server.ServeStdio(srv); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}

func cmdAdapt(args []string) {
	fs := flag.NewFlagSet("adapt", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	samplesPath := fs.String("samples", "", "path to a JSON sample file")
	dataset := fs.String("dataset", "", "dataset name recorded on revisions")
	fs.Parse(args)

	if *samplesPath == "" {
		fmt.Fprintln(os.Stderr, "adapt: --samples is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	data, err := os.ReadFile(*samplesPath)
	if err != nil {
		log.Fatalf("reading samples: %v", err)
	}
	var labeled []labeledSample
	if err := json.Unmarshal(data, &labeled); err != nil {
		log.Fatalf("parsing samples: %v", err)
	}
	if len(labeled) == 0 {
		log.Fatalf("no samples in %s", *samplesPath)
	}

	client := llm.NewFromConfig(cfg.LLM)
	if len(client.Providers()) == 0 {
		log.Fatalf("no LLM providers configured; set an API key in [llm]")
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	name := *dataset
	if name == "" {
		name = filepath.Base(*samplesPath)
	}

	logger := slog.Default()
	engine := playbook.NewEngine(database, logger)
	builder := playbook.NewBuilder(database)
	orchestrator := playbook.NewOrchestrator(engine, builder,
		cfg.Playbook.MaxStrategies, cfg.Playbook.AppliedBy)

	generator := roles.NewGenerator(client, cfg.LLM.GeneratorModel)
	reflector := roles.NewReflector(client, cfg.LLM.ReflectorModel)
	evaluator := newExactMatchEvaluator(labeled)
	adapter := adapt.NewOfflineAdapter(orchestrator, engine, generator, reflector,
		evaluator, name, logger)

	samples := make([]adapt.Sample, len(labeled))
	for i, s := range labeled {
		samples[i] = adapt.Sample{ID: s.ID, Task: s.Task}
	}

	results, err := adapter.Run(context.Background(), samples)
	if err != nil {
		log.Fatalf("adaptation run: %v", err)
	}

	var succeeded, failed int
	for _, res := range results {
		if res.Err != nil || !res.Success {
			failed++
			continue
		}
		succeeded++
	}
	fmt.Printf("processed %d samples: %d succeeded, %d failed\n",
		len(results), succeeded, failed)
}

type labeledSample struct {
	ID       string `json:"id"`
	Task     string `json:"task"`
	Expected string `json:"expected"`
}

// exactMatchEvaluator scores an answer by case-insensitive comparison with
// the sample's expected answer, keyed by task text.
type exactMatchEvaluator struct {
	expected map[string]string
}

func newExactMatchEvaluator(samples []labeledSample) *exactMatchEvaluator {
	expected := make(map[string]string, len(samples))
	for _, s := range samples {
		expected[s.Task] = s.Expected
	}
	return &exactMatchEvaluator{expected: expected}
}

func (e *exactMatchEvaluator) Evaluate(_ context.Context, task, answer string) (adapt.Evaluation, error) {
	want, ok := e.expected[task]
	if !ok {
		return adapt.Evaluation{Feedback: "no expected answer recorded"}, nil
	}
	if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(want)) {
		return adapt.Evaluation{Success: true, Feedback: "answer matches the expected result"}, nil
	}
	return adapt.Evaluation{
		Feedback: fmt.Sprintf("answer %q does not match expected %q", answer, want),
	}, nil
}

func cmdHashSecret(args []string) {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(os.Stderr, "usage: aceplaybook hash-secret <secret>")
		os.Exit(1)
	}
	hash, err := auth.HashSecret(args[0])
	if err != nil {
		log.Fatalf("hashing secret: %v", err)
	}
	fmt.Println(hash)
}
