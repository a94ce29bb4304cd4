package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/khnews/crosspost/internal/botctl"
	"github.com/khnews/crosspost/internal/catalog"
	"github.com/khnews/crosspost/internal/config"
	"github.com/khnews/crosspost/internal/ledger"
	"github.com/khnews/crosspost/internal/logger"
	"github.com/khnews/crosspost/internal/metrics"
	"github.com/khnews/crosspost/internal/poster"
	"github.com/khnews/crosspost/internal/publish"
	"github.com/khnews/crosspost/internal/publish/facebook"
	"github.com/khnews/crosspost/internal/publish/telegram"
	"github.com/khnews/crosspost/internal/resolver"
	"github.com/khnews/crosspost/internal/rewrite"
	"github.com/khnews/crosspost/internal/scanner"
	"github.com/khnews/crosspost/internal/translate"
	"github.com/khnews/crosspost/internal/watermark"
)

var (
	cfg      *config.Config
	interval time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "crosspost",
		Short: "News aggregation and cross-posting pipeline",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				logger.Debug("no .env file loaded", "error", err)
			}
			logger.Init()

			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ApplySettings(cfg.SettingsPath); err != nil {
				logger.Warn("settings file ignored", "error", err)
			}

			if os.Getenv("ENABLE_HTTP_MONITORING") == "true" {
				go startMonitoringServer()
			}
			return nil
		},
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Fetch feeds and store new articles in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context())
		},
	}

	postCmd := &cobra.Command{
		Use:   "post",
		Short: "Publish the pending batch to the configured platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd.Context())
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Scan and post, once or on a fixed interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context())
		},
	}
	runCmd.Flags().DurationVar(&interval, "interval", 0, "pause between pipeline passes (0 = single pass)")

	botCmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the operator control bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}

	root.AddCommand(scanCmd, postCmd, runCmd, botCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func runScan(ctx context.Context) error {
	store := catalog.NewStore(cfg.ArticlesDir)
	if err := os.MkdirAll(cfg.ArticlesDir, 0755); err != nil {
		return err
	}

	feeds, err := scanner.LoadFeeds(cfg.FeedsPath)
	if err != nil {
		logger.Warn("feeds config unavailable, using FEED_URL", "error", err)
		feeds = []string{cfg.FeedURL}
	}

	led, closeLedger, err := buildLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	sc := scanner.New(store, led, cfg.RequestTimeout, cfg.MediaBatchSize, cfg.ScanLimit)
	added, err := sc.Scan(ctx, feeds)
	if err != nil {
		return err
	}
	logger.Info("scan complete", "new_articles", added)

	if _, err := store.Sweep(cfg.CatalogRetained); err != nil {
		logger.Warn("retention sweep failed", "error", err)
	}
	return nil
}

func runPost(ctx context.Context) error {
	store := catalog.NewStore(cfg.ArticlesDir)

	led, closeLedger, err := buildLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	res := buildResolver(ctx, store)
	p := poster.New(store, led, res, buildPublishers(), cfg.BatchLimit, cfg.ArticleDelay)
	return p.Run(ctx)
}

func runLoop(ctx context.Context) error {
	for {
		if err := runScan(ctx); err != nil {
			logger.Error("scan pass failed", "error", err)
			metrics.Global.SetError(err.Error())
		}
		if err := runPost(ctx); err != nil {
			logger.Error("post pass failed", "error", err)
			metrics.Global.SetError(err.Error())
		}

		if interval <= 0 {
			return nil
		}
		logger.Info("pass finished, sleeping", "interval", interval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func runBot(ctx context.Context) error {
	if cfg.TelegramToken == "" || cfg.TelegramAdminID == 0 {
		return fmt.Errorf("control bot requires TELEGRAM_TOKEN and TELEGRAM_ADMIN_ID")
	}

	store := catalog.NewStore(cfg.ArticlesDir)
	led, closeLedger, err := buildLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	bot := botctl.New(cfg.TelegramToken, cfg.TelegramAdminID, store, led, cfg.SettingsPath)
	err = bot.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// buildLedger opens the configured dedup ledger backend and loads the
// published set. A corrupt ledger degrades to empty with a warning.
func buildLedger() (ledger.Ledger, func(), error) {
	switch cfg.LedgerBackend {
	case "postgres":
		pl, err := ledger.NewPostgresLedger(cfg.PostgresDSN, cfg.LedgerLimit)
		if err != nil {
			return nil, nil, err
		}
		if err := pl.Load(); err != nil {
			pl.Close()
			return nil, nil, err
		}
		return pl, func() { pl.Close() }, nil
	default:
		fl := ledger.NewFileLedger(cfg.LedgerPath, cfg.LedgerLimit)
		if err := fl.Load(); err != nil {
			return nil, nil, err
		}
		return fl, func() {}, nil
	}
}

func buildPublishers() []publish.Publisher {
	// Telegram is the primary platform and always goes first.
	tg := telegram.New(cfg.TelegramToken, cfg.TelegramChatID,
		cfg.ChunkSize, cfg.MediaBatchSize, cfg.RequestTimeout)
	fb := facebook.New(cfg.FacebookPageID, cfg.FacebookToken, cfg.RequestTimeout)
	return []publish.Publisher{tg, fb}
}

func buildResolver(ctx context.Context, store *catalog.Store) *resolver.Resolver {
	var providers []rewrite.Provider
	if cfg.OpenRouterAPIKey != "" {
		providers = append(providers, rewrite.NewOpenRouter(cfg.OpenRouterAPIKey, cfg.OpenRouterModel))
	}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, rewrite.NewOpenAI(cfg.OpenAIAPIKey, ""))
	}
	if cfg.GeminiAPIKey != "" {
		if g, err := rewrite.NewGemini(ctx, cfg.GeminiAPIKey, ""); err == nil {
			providers = append(providers, g)
		} else {
			logger.Warn("gemini provider unavailable", "error", err)
		}
	}

	var chain resolver.Rewriter
	if len(providers) > 0 {
		chain = rewrite.NewChain(cfg.TargetLang, providers...)
	} else {
		logger.Warn("no AI rewrite provider configured, publishing original text")
	}

	tr := translate.New(cfg.RequestTimeout, cfg.OpenAIAPIKey)
	wm := watermark.New(cfg.WatermarkPath, cfg.WatermarkScale, "")

	return resolver.New(store, chain, tr, wm, "en", cfg.TargetLang)
}

func startMonitoringServer() {
	port := os.Getenv("MONITORING_PORT")
	if port == "" {
		port = "8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("monitoring server listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("monitoring server stopped", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	snapshot := metrics.Global.Snapshot()

	status := "ok"
	if healthy, ok := snapshot["is_healthy"].(bool); ok && !healthy {
		status = "error"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"last_run":   snapshot["last_run_time"],
		"last_error": snapshot["last_error"],
	})
}
