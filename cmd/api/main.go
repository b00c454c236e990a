package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/config"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/mail"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/router"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/secret"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/database"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	addr := pflag.String("addr", "", "listen address (overrides HTTP_ADDR)")
	configPath := pflag.String("config", os.Getenv("CHROMEPASS_CONFIG"), "path to a TOML config file")
	migrateOnly := pflag.Bool("migrate-only", false, "create the schema and exit")
	pflag.Parse()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	if err := run(sugar, *configPath, *addr, *migrateOnly); err != nil {
		sugar.Errorw("chromepass api stopped", "err", err)
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(sugar *zap.SugaredLogger, configPath, addr string, migrateOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	sugar.Infow("starting chromepass api", "addr", cfg.Addr, "dev", cfg.Dev)

	dbCfg := database.ConfigFromEnv()
	db, err := database.Connect(dbCfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	box, err := secret.New(cfg.CredentialKey, cfg.CredentialSalt)
	if err != nil {
		return err
	}
	if !box.Enabled() {
		sugar.Warn("CREDENTIAL_ENCRYPTION_KEY is not set; credential passwords are stored in plaintext")
	}

	var mailer mail.Sender = &mail.Recorder{Err: mail.ErrNotConfigured}
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPSender(cfg.SMTP)
	} else {
		sugar.Warn("SMTP_HOST is not set; verification and approval emails are not delivered")
	}

	svc := router.NewServices(db, box, user.Options{
		Mailer:          mailer,
		FrontendURL:     cfg.FrontendURL,
		VerificationTTL: cfg.VerificationTTL,
	}, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.EnsureTables(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	sugar.Infow("schema ready", "driver", dbCfg.Driver)
	if migrateOnly {
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.New(cfg, svc, sugar),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sugar.Info("goodbye")
	return nil
}
