package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/wordquiz/wordquiz/internal/audio"
	"github.com/wordquiz/wordquiz/internal/auth"
	"github.com/wordquiz/wordquiz/internal/authoring"
	"github.com/wordquiz/wordquiz/internal/generation"
	"github.com/wordquiz/wordquiz/internal/grading"
	"github.com/wordquiz/wordquiz/internal/handler"
	appI18n "github.com/wordquiz/wordquiz/internal/i18n"
	"github.com/wordquiz/wordquiz/internal/llm"
	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/serial"
	"github.com/wordquiz/wordquiz/internal/share"
	"github.com/wordquiz/wordquiz/internal/storage"
	"github.com/wordquiz/wordquiz/internal/store"
	"github.com/wordquiz/wordquiz/internal/tts"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "wordquiz",
		Short:        "Vocabulary fill-in-the-blank quizzes with generated sentences and audio",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, generateCmd(), takeCmd(), exportCmd(), versionCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `wordquiz --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addDBFlags(f)
	addLLMFlags(f)
	addTTSFlags(f)
	f.String("audio-dir", "audio", "Directory audio clips are stored in")
	f.String("public-url", "", "Externally reachable base URL used in share links (e.g. https://quiz.example.com)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /quiz)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Duration("share-ttl", 7*24*time.Hour, "Lifetime of share links (0 = never expire)")
	f.Int("max-attempts", share.DefaultMaxAttempts, "Default graded attempts per share link")
	f.Duration("sweep-interval", 10*time.Minute, "How often problems without audio are retried")
	f.Int("sweep-batch", 50, "Problems retried per sweep")
	f.String("session-secret", "", "HMAC secret for guest tokens (or set WORDQUIZ_SESSION_SECRET)")
	f.Duration("guest-ttl", 8*time.Hour, "Lifetime of guest tokens")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	f.StringP("lang", "l", "en", "Default notification language (en, ko)")
	f.String("admin-password", "", "Initial admin password (or set WORDQUIZ_ADMIN_PASSWORD)")
	addLogFlags(f)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wordquiz", version)
		},
	}
}

func addDBFlags(f *pflag.FlagSet) {
	f.String("db-driver", "sqlite", "Database engine (sqlite, postgres)")
	f.String("db", "wordquiz.db", "SQLite path or Postgres DSN")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the text generator")
	f.String("llm-model", "gpt-4o-mini", "Text generation model name")
	f.Int("chunk-size", generation.DefaultChunkSize, "Words per generation call")
}

func addTTSFlags(f *pflag.FlagSet) {
	f.String("tts-provider", "openai", "Speech synthesis provider (openai, google, none)")
	f.String("tts-url", "", "Speech API base URL (defaults to the provider's)")
	f.String("tts-key", "", "Speech API key (defaults to --llm-key for openai)")
	f.String("tts-model", "", "Speech model name")
	f.String("tts-voice", "", "Speech voice name")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
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

	v.SetEnvPrefix("WORDQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("wordquiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/wordquiz")
	v.AddConfigPath("/etc/wordquiz")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	driver, err := store.ParseDriver(v.GetString("db-driver"))
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, driver, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newGenerator builds the text generator and the queue that serializes its
// calls. The caller closes the queue.
func newGenerator(ctx context.Context, v *viper.Viper) (*generation.Orchestrator, *serial.Queue, error) {
	llmClient, err := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	if err != nil {
		return nil, nil, fmt.Errorf("create LLM client: %w", err)
	}
	if err := llmClient.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	q := serial.New("llm", 32)
	return generation.New(llmClient, q, generation.WithChunkSize(v.GetInt("chunk-size"))), q, nil
}

// newSynthesizer returns nil when speech synthesis is disabled.
func newSynthesizer(v *viper.Viper) (tts.Synthesizer, error) {
	provider := strings.ToLower(v.GetString("tts-provider"))
	if provider == "none" {
		return nil, nil
	}
	key := v.GetString("tts-key")
	if key == "" && provider != "google" {
		key = v.GetString("llm-key")
	}
	return tts.New(provider, tts.Config{
		BaseURL:      v.GetString("tts-url"),
		APIKey:       key,
		Model:        v.GetString("tts-model"),
		Voice:        v.GetString("tts-voice"),
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := db.CleanupExpiredSessions(ctx); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	gen, llmQueue, err := newGenerator(ctx, v)
	if err != nil {
		return err
	}
	defer llmQueue.Close()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	publicURL := strings.TrimRight(v.GetString("public-url"), "/")

	blobs, err := storage.NewFSStore(v.GetString("audio-dir"), publicURL+basePath+"/audio")
	if err != nil {
		return fmt.Errorf("open audio store: %w", err)
	}

	var (
		pipeline  *audio.Pipeline
		scheduler authoring.AudioScheduler
	)
	synth, err := newSynthesizer(v)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}
	if synth != nil {
		ttsQueue := serial.New("tts", 256)
		defer ttsQueue.Close()
		pipeline = audio.New(db, synth, blobs, ttsQueue)
		defer pipeline.Wait()
		scheduler = pipeline

		sweeper, err := audio.NewSweeper(pipeline, db, v.GetDuration("sweep-interval"), v.GetInt("sweep-batch"))
		if err != nil {
			return fmt.Errorf("create audio sweeper: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	} else {
		slog.Warn("speech synthesis disabled")
	}

	secret := v.GetString("session-secret")
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			return err
		}
		slog.Warn("no session secret configured, guest tokens will not survive a restart")
	}
	guests, err := auth.NewGuests(secret, v.GetDuration("guest-ttl"))
	if err != nil {
		return err
	}

	cfg := model.ServerConfig{
		BasePath:           basePath,
		PublicURL:          publicURL,
		SecureCookies:      v.GetBool("secure-cookies"),
		ShareTTL:           v.GetDuration("share-ttl"),
		DefaultMaxAttempts: v.GetInt("max-attempts"),
	}
	h := handler.New(handler.Deps{
		Store:     db,
		Authoring: authoring.New(db, gen, scheduler, blobs),
		Audio:     pipeline,
		Grader:    grading.New(db),
		Shares: share.New(db,
			share.WithTTL(cfg.ShareTTL),
			share.WithDefaultMaxAttempts(cfg.DefaultMaxAttempts)),
		Guests: guests,
		Blobs:  blobs,
	}, cfg, v.GetStringSlice("cors-origins"))

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: h.Router(), ReadHeaderTimeout: 10 * time.Second}
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"tts_provider", v.GetString("tts-provider"),
		"lang", lang,
		"db_driver", v.GetString("db-driver"),
		"share_ttl", cfg.ShareTTL,
		"max_attempts", cfg.DefaultMaxAttempts,
		"base_path", basePath,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or WORDQUIZ_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
