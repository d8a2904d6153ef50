package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"camlink/internal/analysis"
	"camlink/internal/api"
	"camlink/internal/config"
	"camlink/internal/logging"
	"camlink/internal/pairing"
	"camlink/internal/session"
	signalhub "camlink/internal/signal"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	store := session.NewStore(cfg.SessionTTL)

	if cfg.GeminiAPIKey == "" {
		log.Warn("no Gemini API key configured; analysis requests will fail")
	}
	analyzer := analysis.NewGemini(cfg.GeminiAPIKey, log,
		analysis.WithModels(cfg.GeminiModel, cfg.GeminiFallbackModel))

	issuer := pairing.NewIssuer(store, cfg.ServerURL)
	hub := signalhub.NewHub(store, analyzer, log,
		signalhub.WithEncryption(cfg.EncryptPayloads),
		signalhub.WithAnalyzeTimeout(cfg.BatchDeadline),
		signalhub.WithAllowedOrigins(cfg.AllowedOrigins, cfg.DevMode),
	)

	restAPI := api.New(issuer, analyzer, log, api.WithBatchTimeout(cfg.BatchDeadline))
	router := api.NewRouter(restAPI, func(w http.ResponseWriter, r *http.Request) {
		signalhub.ServeWS(hub, w, r)
	})

	corsOpts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}
	if cfg.DevMode {
		corsOpts.AllowedOrigins = []string{"*"}
	} else {
		corsOpts.AllowedOrigins = cfg.AllowedOrigins
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           cors.New(corsOpts).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSweeper(ctx, cfg.SweepInterval)

	go func() {
		log.Infof("server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
