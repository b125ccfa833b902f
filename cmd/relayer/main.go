// Copyright 2025 Certen Protocol
//
// Command relayer runs the compliance-gated Solana transaction relayer:
// the Intake Service and Webhook Ingestor HTTP surfaces, the Submission
// Worker, and the Reconciliation Crank, all sharing one Outbox Store.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Berektassuly/solana-compliance-relayer/pkg/blocklist"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/chainrpc"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/compliance"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/config"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/crank"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/database"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/intake"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/metrics"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/server"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/signer"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/webhook"
	"github.com/Berektassuly/solana-compliance-relayer/pkg/worker"
)

func main() {
	logger := log.New(os.Stdout, "[Relayer] ", log.LstdFlags)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(cfg, database.WithLogger(logger))
	if err != nil {
		logger.Fatalf("failed to connect to outbox store: %v", err)
	}
	defer dbClient.Close()

	if err := dbClient.MigrateUp(ctx); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	issuer, err := signer.LoadOrGenerateIssuerKey(cfg.IssuerKeyPath, logger)
	if err != nil {
		logger.Fatalf("failed to load issuer key: %v", err)
	}

	reg := prometheus.NewRegistry()
	_ = metrics.New(reg)

	transferRepo := database.NewTransferRepository(dbClient)
	riskProfiles := database.NewRiskProfileRepository(dbClient)

	blocklistCache := blocklist.New(dbClient, blocklist.WithLogger(logger))
	if err := blocklistCache.Hydrate(ctx); err != nil {
		logger.Fatalf("failed to hydrate blocklist cache: %v", err)
	}

	gate := compliance.New(blocklistCache, riskProfiles, nil, cfg.RiskThreshold)
	verifier := signer.NewVerifier()
	intakeSvc := intake.New(verifier, gate, transferRepo)

	chainClient := chainrpc.New(cfg)

	workerCfg := &worker.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBase:    cfg.RetryBase,
		RetryCap:     cfg.RetryCap,
		RetryJitter:  cfg.RetryJitter,
		StuckAfter:   cfg.StuckAfter,
		MEVProtected: cfg.MEVProtected,
		TipLamports:  cfg.TipLamports,
		Logger:       log.New(os.Stdout, "[SubmissionWorker] ", log.LstdFlags),
	}
	submissionWorker := worker.New(transferRepo, chainClient, issuer, workerCfg)
	if cfg.ChainWSURL != "" {
		submissionWorker.WithSignatureSubscriber(chainrpc.NewSignatureSubscriber(cfg.ChainWSURL))
	}

	crankCfg := &crank.Config{
		CrankInterval: cfg.CrankInterval,
		StaleAfter:    cfg.StaleAfter,
		BatchSize:     cfg.BatchSize,
		Logger:        log.New(os.Stdout, "[ReconciliationCrank] ", log.LstdFlags),
	}
	reconciliationCrank := crank.New(transferRepo, chainClient, crankCfg)

	webhookIngestor := webhook.New(transferRepo, cfg.WebhookSharedSecret)

	if err := submissionWorker.Start(ctx); err != nil {
		logger.Fatalf("failed to start submission worker: %v", err)
	}
	if err := reconciliationCrank.Start(ctx); err != nil {
		logger.Fatalf("failed to start reconciliation crank: %v", err)
	}

	mux := http.NewServeMux()
	transferHandlers := server.NewTransferHandlers(intakeSvc, log.New(os.Stdout, "[TransferAPI] ", log.LstdFlags))
	webhookHandlers := server.NewWebhookHandlers(webhookIngestor, "X-Webhook-Secret", log.New(os.Stdout, "[WebhookAPI] ", log.LstdFlags))
	mux.HandleFunc("/v1/transfers", transferHandlers.HandleSubmitTransfer)
	mux.HandleFunc("/v1/webhooks/confirmations", webhookHandlers.HandleWebhook)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		logger.Printf("transfer/webhook API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server failed: %v", err)
		}
	}()
	go func() {
		logger.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = submissionWorker.Stop()
	_ = reconciliationCrank.Stop()

	logger.Println("shutdown complete")
}
