package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusmail/outreach/internal/api"
	"github.com/nimbusmail/outreach/internal/auth"
	"github.com/nimbusmail/outreach/internal/config"
	"github.com/nimbusmail/outreach/internal/pkg/clock"
	"github.com/nimbusmail/outreach/internal/pkg/logger"
	"github.com/nimbusmail/outreach/internal/repository/memory"
	"github.com/nimbusmail/outreach/internal/repository/postgres"
	"github.com/nimbusmail/outreach/internal/service/campaign"
	"github.com/nimbusmail/outreach/internal/service/ingest"
	"github.com/nimbusmail/outreach/internal/transport"
	"github.com/nimbusmail/outreach/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use
// before we wire everything up, so a stale process fails fast with a
// useful message instead of a late bind error.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

// stores bundles the repository implementations the server needs. With
// DATABASE_URL set they are all Postgres; without it everything runs on
// the in-memory store so the API stays usable for local development.
type stores struct {
	campaigns campaign.Repository
	jobs      worker.Store
	ingest    ingest.Repository
	users     auth.UserRepo
}

func openStores(cfg *config.Config, clk clock.Clock) (stores, func(), error) {
	if cfg.Database.URL == "" {
		log.Println("[Server] DATABASE_URL not set, using in-memory store (data is lost on restart)")
		mem := memory.New(clk)
		return stores{campaigns: mem, jobs: mem, ingest: mem, users: mem}, func() {}, nil
	}

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return stores{}, nil, err
	}
	log.Println("[Server] Connected to database")
	return stores{
		campaigns: postgres.NewCampaignRepo(db),
		jobs:      postgres.NewJobStore(db),
		ingest:    postgres.NewIngestRepository(db),
		users:     postgres.NewUserRepository(db),
	}, func() { db.Close() }, nil
}

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Info("api server starting", "log_level", cfg.LogLevel, "email_provider", cfg.Email.Provider)
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", "detail", w)
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("%v", err)
	}

	clk := clock.New()
	st, closeStores, err := openStores(cfg, clk)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer closeStores()

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

	campaignSvc := campaign.NewService(st.campaigns, clk)
	ingestSvc := ingest.NewService(st.ingest, campaignSvc)
	authSvc := auth.NewService(
		st.users,
		cfg.Auth.SecretKey,
		time.Duration(cfg.Auth.MagicLinkTTLMins)*time.Minute,
		time.Duration(cfg.Auth.SessionTTLHours)*time.Hour,
		cfg.Auth.MagicLinkBaseURL,
		clk,
	)

	dispatcher := worker.NewDispatcher(st.jobs, campaignSvc, mail, clk, worker.Options{
		PollInterval:  cfg.Worker.PollInterval(),
		BatchSize:     cfg.Worker.BatchSize,
		MaxAttempts:   cfg.Worker.MaxRetryAttempts,
		SendTimeout:   cfg.Email.Timeout(),
		FromAddress:   cfg.Email.FromAddress,
		FromName:      cfg.Email.FromName,
		ReplyToDomain: cfg.Email.ReplyToDomain,
	})
	dispatcher.Start()

	server := api.NewServer(cfg, campaignSvc, ingestSvc, authSvc, mail, dispatcher)

	addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-quit:
		log.Printf("[Server] Received %s, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Shutdown error: %v", err)
	}
	dispatcher.Stop()
	log.Println("[Server] Goodbye")
}
