package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/parser"
	"github.com/zombor/tabsplit/internal/receipt"
	"github.com/zombor/tabsplit/internal/scanning"
	"github.com/zombor/tabsplit/pkg/logging"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("tabsplit")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		storeType      = fs.StringLong("store", "bolt", "Receipt store: 'bolt' or 'sqlite'")
		dbPath         = fs.StringLong("db", "tabsplit.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./receipts", "Directory for uploaded images")
		recognizerType = fs.StringLong("recognizer", "tesseract", "Text recognizer: 'tesseract', 'gemini' or 'ollama'")
		tessLang       = fs.StringLong("tesseract-lang", "eng", "Tesseract languages, joined with '+'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		profile        = fs.StringLong("profile", parser.ProfileStrict, "Parser profile: 'strict' or 'lenient'")
		diagnostics    = fs.BoolLong("diagnostics", "Return parse diagnostics with uploads")
		detect         = fs.BoolLong("detect", "Crop to the detected receipt before recognition")
		defaultVAT     = fs.StringLong("default-vat", "0", "VAT percentage used when a receipt prints none")
		defaultService = fs.StringLong("default-service", "0", "Service percentage used when a receipt prints none")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "", "Log level: debug, info, warn or error (default LOG_LEVEL or info)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TABSPLIT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Setup(*logLevel)

	cfg, err := parser.ConfigForProfile(*profile)
	if err != nil {
		slog.Error("Invalid parser profile", "error", err)
		os.Exit(1)
	}
	cfg.Diagnostics = *diagnostics

	rates, err := parseRates(*defaultVAT, *defaultService)
	if err != nil {
		slog.Error("Invalid default rates", "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing database...", "store", *storeType, "path", *dbPath)
	db, err := openStore(*storeType, *dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var recognizer scanning.Recognizer
	switch *recognizerType {
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...", "lang", *tessLang)
		recognizer, err = scanning.NewTesseract(*tessLang)
		if err != nil {
			slog.Error("Failed to initialize Tesseract", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		recognizer, err = scanning.NewGemini(context.Background(), apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid recognizer type", "type", *recognizerType, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	opts := []receipt.ServiceOption{receipt.WithDefaultRates(rates)}
	if *detect {
		opts = append(opts, receipt.WithDetector(scanning.NewBrightRegionDetector()))
	}
	p := parser.New(cfg, parser.WithLogger(slog.Default()))
	receiptService := receipt.NewService(db, recognizer, store, p, opts...)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version, "profile", cfg.Profile)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

func openStore(kind, path string) (receipt.DB, error) {
	switch kind {
	case "bolt":
		return receipt.NewBoltDB(path)
	case "sqlite":
		return receipt.NewSQLiteDB(path)
	default:
		return nil, fmt.Errorf("unknown store %q, want bolt or sqlite", kind)
	}
}

func parseRates(vat, service string) (receipt.Rates, error) {
	v, err := decimal.NewFromString(vat)
	if err != nil {
		return receipt.Rates{}, fmt.Errorf("default VAT %q: %w", vat, err)
	}
	s, err := decimal.NewFromString(service)
	if err != nil {
		return receipt.Rates{}, fmt.Errorf("default service %q: %w", service, err)
	}
	return receipt.Rates{VAT: v, Service: s}, nil
}
