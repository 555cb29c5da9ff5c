package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/quizengine/internal/catalog"
	"github.com/pavelanni/quizengine/internal/handler"
	appI18n "github.com/pavelanni/quizengine/internal/i18n"
	"github.com/pavelanni/quizengine/internal/llm"
	"github.com/pavelanni/quizengine/internal/llm/prompts"
	"github.com/pavelanni/quizengine/internal/model"
	"github.com/pavelanni/quizengine/internal/session"
	"github.com/pavelanni/quizengine/internal/stats"
	"github.com/pavelanni/quizengine/internal/store"
)

//go:generate templ generate -path ../../internal/handler/views

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quizengine",
		Short: "Multiple-choice test session server",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), statsCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `quizengine --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP test server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "quizengine.db", "SQLite database path")
	f.String("quiz-dir", "quizzes", "Directory holding saved question sets")
	f.StringSliceP("questions", "q", nil, "Question files to import into the quiz directory at startup (repeatable)")
	f.StringP("lang", "l", "en", "UI language (en, vi)")
	f.String("llm-url", "", "OpenAI-compatible API base URL; empty disables LLM explanations")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", 10*time.Second, "Deadline for one LLM explanation")
	f.String("prompt-variant", string(prompts.PromptBrief), "Explanation prompt variant (brief, detailed)")
	f.IntP("time-limit", "t", 30, "Default time limit in minutes for exam mode (0 = untimed)")
	f.Bool("shuffle-questions", false, "Randomize question order by default")
	f.Bool("shuffle-answers", false, "Randomize answer order of four-choice questions by default")
	f.StringP("mode", "m", string(model.ModeExam), "Default session mode (exam, practice)")
	f.Int("recent", 10, "Number of recent tests listed in statistics")
	f.Duration("sweep-interval", time.Minute, "How often expired sessions are reclaimed (0 disables)")
	f.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown deadline")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /quiz)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import question files into the quiz directory",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "quizengine.db", "SQLite database path")
	f.String("quiz-dir", "quizzes", "Directory holding saved question sets")
	addLogFlags(cmd)
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print statistics over stored results as JSON",
		RunE:  runStats,
	}
	f := cmd.Flags()
	f.String("db", "quizengine.db", "SQLite database path")
	f.Int("recent", 10, "Number of recent tests listed (-1 = all)")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored results and statistics as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "quizengine.db", "SQLite database path")
	f.String("title", "", "Title recorded in the export (stored for later exports)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("QUIZENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("quizengine")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/quizengine")
	v.AddConfigPath("/etc/quizengine")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	logger := slog.Default()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	library, err := catalog.NewLibrary(v.GetString("quiz-dir"))
	if err != nil {
		return fmt.Errorf("open quiz library: %w", err)
	}
	if err := importQuestions(db, library, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("import questions: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agg := stats.New()
	history, err := db.ListResults(ctx)
	if err != nil {
		return fmt.Errorf("load result history: %w", err)
	}
	agg.Load(history)
	logger.Info("loaded result history", "results", len(history))

	var explainer session.Explainer = session.ExplainerFunc(appI18n.Explain)
	if url := v.GetString("llm-url"); url != "" {
		explainer = newLLMExplainer(ctx, v, explainer, logger)
	}

	examCfg := model.ExamConfig{
		TimeLimit:        v.GetInt("time-limit"),
		ShuffleQuestions: v.GetBool("shuffle-questions"),
		ShuffleAnswers:   v.GetBool("shuffle-answers"),
		Mode:             model.ParseMode(v.GetString("mode")),
		RecentTests:      v.GetInt("recent"),
		SweepInterval:    v.GetDuration("sweep-interval"),
	}

	sessions := session.NewStore(session.WithLogger(logger))
	engine := session.NewEngine(sessions, explainer, stats.NewRecorder(agg, db, logger), logger)
	if examCfg.SweepInterval > 0 {
		go engine.RunSweeper(ctx, examCfg.SweepInterval)
	}

	h := handler.New(engine, library, agg, db, examCfg, logger)

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{"Content-Length"},
			MaxAge:         300,
		}))
	}
	r.Use(appI18n.Middleware(lang))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})

	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
		defer cancel()
		logger.Info("shutting down server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
	}()

	logger.Info("starting server",
		"addr", addr,
		"lang", lang,
		"llm_url", v.GetString("llm-url"),
		"time_limit", examCfg.TimeLimit,
		"mode", examCfg.Mode,
		"shuffle_questions", examCfg.ShuffleQuestions,
		"shuffle_answers", examCfg.ShuffleAnswers,
		"sweep_interval", examCfg.SweepInterval,
		"base_path", basePath,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// newLLMExplainer wires the LLM client in front of fallback. An endpoint
// that fails its health check leaves only the fallback.
func newLLMExplainer(ctx context.Context, v *viper.Viper, fallback session.Explainer, logger *slog.Logger) session.Explainer {
	client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))

	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		logger.Warn("invalid prompt-variant, using brief", "variant", variant)
		variant = string(prompts.PromptBrief)
	}
	client.SetVariant(prompts.PromptVariant(variant))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn("LLM health check failed, explanations use the static text", "error", err)
		return fallback
	}
	logger.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	return llm.NewExplainer(client, fallback, v.GetDuration("llm-timeout"), logger)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	library, err := catalog.NewLibrary(v.GetString("quiz-dir"))
	if err != nil {
		return fmt.Errorf("open quiz library: %w", err)
	}
	return importQuestions(db, library, args)
}

// importQuestions copies question files into the library under their base
// name. Files whose content hash matches the last import are skipped.
func importQuestions(db *store.Store, library *catalog.Library, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}

		questions := catalog.Parse(data)
		if len(questions) == 0 {
			slog.Warn("no valid questions in file, skipping", "path", path)
			continue
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		saved, err := library.Save(name, questions)
		if err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "quiz", saved, "count", len(questions))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func loadAggregator(ctx context.Context, db *store.Store) (*stats.Aggregator, error) {
	results, err := db.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	agg := stats.New()
	agg.Load(results)
	return agg, nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	report, err := buildStatsReport(cmd.Context(), db, v.GetInt("recent"))
	if err != nil {
		return err
	}
	return writeJSONOutput(os.Stdout, report)
}

// statsReport is the output of the stats command.
type statsReport struct {
	StoredResults int `json:"stored_results"`
	model.Statistics
}

func buildStatsReport(ctx context.Context, db *store.Store, recent int) (statsReport, error) {
	count, err := db.ResultCount(ctx)
	if err != nil {
		return statsReport{}, fmt.Errorf("count results: %w", err)
	}
	agg, err := loadAggregator(ctx, db)
	if err != nil {
		return statsReport{}, err
	}
	if n := len(agg.Results()); n != count {
		slog.Warn("stored results not all loaded", "stored", count, "loaded", n)
	}
	return statsReport{StoredResults: count, Statistics: agg.Summary(recent)}, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if title := v.GetString("title"); title != "" {
		if err := db.SetMetadata("exam_title", title); err != nil {
			return fmt.Errorf("store title: %w", err)
		}
	}

	export, err := db.ExportHistory(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("export history: %w", err)
	}
	agg := stats.New()
	agg.Load(export.Results)
	export.Statistics = agg.Summary(-1)

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := writeJSONOutput(w, export); err != nil {
		return err
	}
	slog.Info("exported results", "count", len(export.Results), "output", outPath)
	return nil
}

func writeJSONOutput(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
