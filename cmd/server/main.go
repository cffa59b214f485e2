package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"freelancehub/internal/app"
	"freelancehub/internal/config"
	"freelancehub/internal/database"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "config file (default ./config.yml)")
	migrate := flag.Bool("migrate", true, "run schema migration on startup")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close(context.Background())

	// 生产环境可关闭自动迁移，改用 cmd/migrate
	if *migrate {
		if err := database.AutoMigrate(a.DB); err != nil {
			logrus.Fatalf("Failed to migrate database: %v", err)
		}
	}

	if err := a.Serve(ctx); err != nil {
		logrus.Errorf("Server error: %v", err)
	}
}
