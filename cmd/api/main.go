package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"revertd/api/internal/app"
	"revertd/api/internal/auth"
	"revertd/api/internal/config"
	"revertd/api/internal/email"
	"revertd/api/internal/gitrepo"
	"revertd/api/internal/mediawiki"
	"revertd/api/internal/rbac"
	"revertd/api/internal/search"
	"revertd/api/internal/session"
	"revertd/api/internal/store"
)

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:], os.Stdout); err != nil {
			log.Fatalf("issue token: %v", err)
		}
		return
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	platform, err := newPlatform(cfg)
	if err != nil {
		log.Fatalf("platform setup failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	confirmations, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer confirmations.Close()

	service := app.New(cfg, platform, confirmations, dataStore, searchService)
	if mailer := newMailer(cfg); mailer != nil {
		service.WithAlerts(mailer)
		log.Printf("notify: revert alerts to %d recipient(s)", len(cfg.AlertEmails))
	}
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("revertd API listening on %s (backend %s)", cfg.Addr, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func newPlatform(cfg config.Config) (app.Platform, error) {
	switch cfg.Backend {
	case config.BackendMediaWiki:
		client, err := mediawiki.New(mediawiki.Options{
			APIURL:        cfg.MediaWikiAPIURL,
			UserAgent:     cfg.MediaWikiUserAgent,
			BotUser:       cfg.MediaWikiBotUser,
			BotPassword:   cfg.MediaWikiBotPass,
			RatePerSecond: cfg.RatePerSecond,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendGit:
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return nil, fmt.Errorf("create repos dir: %w", err)
		}
		return gitrepo.New(cfg.ReposDir), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// newMailer returns nil unless SMTP and alert recipients are configured.
func newMailer(cfg config.Config) *email.Service {
	if len(cfg.AlertEmails) == 0 {
		return nil
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: "revertd",
	})
	if !mailer.IsConfigured() {
		log.Printf("notify: REVERT_ALERT_EMAILS set but SMTP is not configured; alerts disabled")
		return nil
	}
	return mailer
}

// issueToken prints a bearer token for an operator.
func issueToken(cfg config.Config, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	operator := flags.String("operator", "", "wiki account the token acts as")
	role := flags.String("role", string(rbac.RolePatroller), "viewer, patroller or admin")
	ttl := flags.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if rbac.Normalize(*role) != rbac.Role(*role) {
		return fmt.Errorf("unknown role %q", *role)
	}
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.NewClaims(*operator, *role, *ttl))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
