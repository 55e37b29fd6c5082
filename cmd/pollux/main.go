package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pollux-gateway/pollux/internal/config"
	"github.com/pollux-gateway/pollux/internal/httpapi"
	"github.com/pollux-gateway/pollux/internal/ingest"
	"github.com/pollux-gateway/pollux/internal/obslog"
	"github.com/pollux-gateway/pollux/internal/refresher"
	"github.com/pollux-gateway/pollux/internal/scheduler"
	"github.com/pollux-gateway/pollux/internal/store"
	"github.com/pollux-gateway/pollux/internal/upstream"
	"github.com/pollux-gateway/pollux/internal/upstream/codex"
	"github.com/pollux-gateway/pollux/internal/upstream/geminicli"
	"github.com/pollux-gateway/pollux/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := os.Getenv("POLLUX_CONFIG")
	if configPath == "" {
		configPath = "pollux.toml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// ConfigInvalid is fatal at startup.
		println("pollux: " + err.Error())
		return 1
	}

	log := obslog.New(cfg.LogLevel)
	log.Info("starting pollux", "version", version.Version, "commit", version.Commit, "build_time", version.BuildTime)

	db, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to open credential store", "err", err)
		return 1
	}

	refreshLimiter := refresher.New(cfg.OauthTPS, cfg.RefreshRetryMax, log)

	geminiRefresh := func(ctx context.Context, snap scheduler.Snapshot) (string, time.Time, error) {
		ex := &refresher.GeminiExchanger{ClientID: snap.ClientID, ClientSecret: snap.ClientSecret}
		return refreshLimiter.Refresh(ctx, snap.ID, ex, snap.RefreshToken, nil)
	}
	codexRefresh := func(ctx context.Context, snap scheduler.Snapshot) (string, time.Time, error) {
		ex := &refresher.CodexExchanger{ClientID: snap.ClientID}
		return refreshLimiter.Refresh(ctx, snap.ID, ex, snap.RefreshToken, nil)
	}

	geminiSched := scheduler.New(store.ProviderGeminiCli, db, geminiRefresh, cfg.IsBigModel, log)
	codexSched := scheduler.New(store.ProviderCodex, db, codexRefresh, cfg.IsBigModel, log)

	if err := geminiSched.LoadFromStore(); err != nil {
		log.Error("failed to load gemini credentials", "err", err)
		return 1
	}
	if err := codexSched.LoadFromStore(); err != nil {
		log.Error("failed to load codex credentials", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go geminiSched.Run(ctx)
	go codexSched.Run(ctx)

	if err := ingest.ScanDirectory(cfg.CredPath, store.ProviderGeminiCli, geminiSched, log); err != nil {
		log.Warn("cred_path scan for geminicli failed", "err", err)
	}
	if err := ingest.ScanDirectory(cfg.CredPath, store.ProviderCodex, codexSched, log); err != nil {
		log.Warn("cred_path scan for codex failed", "err", err)
	}

	geminiClient, err := geminicli.New(cfg.Proxy, cfg.EnableMultiplexing)
	if err != nil {
		log.Error("failed to build gemini upstream client", "err", err)
		return 1
	}
	codexClient, err := codex.New(cfg.Proxy, cfg.EnableMultiplexing)
	if err != nil {
		log.Error("failed to build codex upstream client", "err", err)
		return 1
	}

	geminiCaller := &upstream.Caller{
		Scheduler:          geminiSched,
		Doer:               geminiClient,
		RetryMax:           cfg.GeminiRetryMaxTimes,
		ParseRetry:         geminicli.ParseRetryAfter,
		NoCredentialStatus: cfg.NoCredentialStatus,
	}
	codexCaller := &upstream.Caller{
		Scheduler:          codexSched,
		Doer:               codexClient,
		RetryMax:           cfg.GeminiRetryMaxTimes,
		NoCredentialStatus: cfg.NoCredentialStatus,
	}

	router := httpapi.New(httpapi.Deps{
		GatewayKey: cfg.PolluxKey,

		GeminiCaller:      geminiCaller,
		GeminiModels:      cfg.Providers.GeminiCli.ModelList,
		GeminiOpenAIOwner: "google",
		GeminiSink:        geminiSched,

		CodexCaller: codexCaller,
		CodexModels: cfg.Providers.Codex.ModelList,
		CodexSink:   codexSched,

		Log: log,
	})

	srv := &http.Server{Addr: cfg.Addr(), Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("pollux listening", "addr", cfg.Addr())
		serveErr <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed to bind", "err", err)
			return 1
		}
	case <-sig:
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
		geminiSched.Stop()
		codexSched.Stop()
	}

	return 0
}
