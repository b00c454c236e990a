// Command migrate creates or updates the Chrome Pass schema and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/router"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/secret"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/database"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/utilities"
)

func main() {
	_ = godotenv.Load()

	timeout := pflag.Duration("timeout", time.Minute, "give up after this long")
	pflag.Parse()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	cfg := database.ConfigFromEnv()
	db, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// schema creation needs no secrets or mail
	svc := router.NewServices(db, &secret.Box{}, user.Options{}, sugar)
	if err := svc.EnsureTables(ctx); err != nil {
		sugar.Fatalf("migrate: %v", err)
	}
	sugar.Infow("schema ready", "driver", cfg.Driver)
}
