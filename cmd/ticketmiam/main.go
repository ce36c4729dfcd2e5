package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/ticketmiam/internal/history"
	"github.com/zombor/ticketmiam/internal/receipt"
	"github.com/zombor/ticketmiam/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type scannerConfig struct {
	kind          string
	geminiKey     string
	geminiModel   string
	vertex        scanning.VertexConfig
	ollamaURL     string
	ollamaModel   string
	local         scanning.LocalConfig
	openFoodFacts string
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("ticketmiam")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		storeType   = fs.StringLong("store", "bolt", "History store: 'bolt', 'sqlite' or 'memory'")
		dbPath      = fs.StringLong("db", "ticketmiam.db", "History database file path")
		storagePath = fs.StringLong("storage", "./receipts", "Receipt image directory path")
		historyCap  = fs.IntLong("history-cap", history.DefaultCap, "Number of scans kept in the history")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'vertex', 'ollama' or 'local'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		vertexProj  = fs.StringLong("vertex-project", "", "Google Cloud project for Vertex AI")
		vertexLoc   = fs.StringLong("vertex-location", "europe-west1", "Vertex AI location")
		vertexModel = fs.StringLong("vertex-model", "gemini-2.5-flash", "Vertex AI model name")
		vertexCreds = fs.StringLong("vertex-credentials", "", "Service account JSON file for Vertex AI (optional)")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		tesseract   = fs.StringLong("tesseract", "tesseract", "tesseract binary for the local scanner")
		tessLang    = fs.StringLong("tesseract-lang", "fra", "tesseract language for the local scanner")
		offURL      = fs.StringLong("off-url", scanning.DefaultOpenFoodFactsURL, "Open Food Facts base URL for the local scanner")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		_           = fs.StringLong("config", "", "Config file with one 'flag value' per line (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TICKETMIAM"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing history store...", "store", *storeType, "path", *dbPath)
	kv, err := newKV(*storeType, *dbPath)
	if err != nil {
		slog.Error("Failed to initialize history store", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	scans := history.New(kv, history.WithCap(*historyCap))
	loaded := scans.Load(ctx)
	slog.Info("Loaded history", "scans", len(loaded), "cap", scans.Cap())

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	scanner, err := newScanner(scannerConfig{
		kind:        *scannerType,
		geminiKey:   apiKey,
		geminiModel: *geminiModel,
		vertex: scanning.VertexConfig{
			ProjectID:       *vertexProj,
			Location:        *vertexLoc,
			Model:           *vertexModel,
			CredentialsFile: *vertexCreds,
		},
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
		local: scanning.LocalConfig{
			TesseractPath: *tesseract,
			Language:      *tessLang,
		},
		openFoodFacts: *offURL,
	})
	if err != nil {
		slog.Error("Failed to initialize scanner", "type", *scannerType, "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	slog.Info("Initializing storage...", "path", *storagePath)
	images, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := receipt.NewService(scans, scanner, images)
	hub := receipt.NewHub(scans.List)
	defer hub.Close()
	service.SetNotifier(hub)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, basicAuth, hub)

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}

func newKV(kind, path string) (history.KV, error) {
	switch kind {
	case "bolt":
		return history.NewBoltKV(path)
	case "sqlite":
		return history.NewSQLiteKV(path)
	case "memory":
		return history.NewMemoryKV(), nil
	}
	return nil, fmt.Errorf("invalid store type %q: want bolt, sqlite or memory", kind)
}

func newScanner(cfg scannerConfig) (scanning.Scanner, error) {
	switch cfg.kind {
	case "gemini":
		if cfg.geminiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		return scanning.NewGemini(cfg.geminiKey, cfg.geminiModel)
	case "vertex":
		slog.Info("Initializing Vertex AI scanner...", "project", cfg.vertex.ProjectID, "location", cfg.vertex.Location, "model", cfg.vertex.Model)
		return scanning.NewVertex(cfg.vertex)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	case "local":
		slog.Info("Initializing local OCR scanner...", "tesseract", cfg.local.TesseractPath, "off", cfg.openFoodFacts)
		return scanning.NewLocal(cfg.local, scanning.NewOpenFoodFacts(cfg.openFoodFacts))
	}
	return nil, fmt.Errorf("invalid scanner type %q: want gemini, vertex, ollama or local", cfg.kind)
}
