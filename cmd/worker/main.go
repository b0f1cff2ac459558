// Standalone dispatcher process. The API server embeds its own
// dispatcher; run this when send throughput needs to scale
// independently of the HTTP tier. Any number of workers may point at
// the same database.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusmail/outreach/internal/config"
	"github.com/nimbusmail/outreach/internal/pkg/clock"
	"github.com/nimbusmail/outreach/internal/pkg/logger"
	"github.com/nimbusmail/outreach/internal/repository/postgres"
	"github.com/nimbusmail/outreach/internal/service/campaign"
	"github.com/nimbusmail/outreach/internal/transport"
	"github.com/nimbusmail/outreach/internal/worker"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Info("send worker starting", "log_level", cfg.LogLevel, "email_provider", cfg.Email.Provider)
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required for the standalone worker")
	}
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", "detail", w)
	}

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	mail, err := transport.New(transport.Options{
		Provider:      cfg.Email.Provider,
		ResendAPIKey:  cfg.Email.ResendAPIKey,
		PostmarkToken: cfg.Email.PostmarkToken,
		SESRegion:     cfg.Email.SESRegion,
		SESAccessKey:  cfg.Email.SESAccessKey,
		SESSecretKey:  cfg.Email.SESSecretKey,
		Auth:          transport.InboundAuth{Username: cfg.Webhook.Username, Password: cfg.Webhook.Password},
	})
	if err != nil {
		log.Fatalf("Failed to build email transport: %v", err)
	}

	clk := clock.New()
	campaignSvc := campaign.NewService(postgres.NewCampaignRepo(db), clk)
	dispatcher := worker.NewDispatcher(postgres.NewJobStore(db), campaignSvc, mail, clk, worker.Options{
		PollInterval:  cfg.Worker.PollInterval(),
		BatchSize:     cfg.Worker.BatchSize,
		MaxAttempts:   cfg.Worker.MaxRetryAttempts,
		SendTimeout:   cfg.Email.Timeout(),
		FromAddress:   cfg.Email.FromAddress,
		FromName:      cfg.Email.FromName,
		ReplyToDomain: cfg.Email.ReplyToDomain,
	})
	dispatcher.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received %s, shutting down...", sig)

	done := make(chan struct{})
	go func() {
		dispatcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("Shutdown timed out, exiting anyway")
	}
}
