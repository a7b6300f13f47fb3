package main

import (
	"context"
	"os"

	"github.com/peakmsg/inapp-engine/internal/app"
	"github.com/peakmsg/inapp-engine/internal/config"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		logrus.Errorf("failed to initialize application: %v", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		logrus.Errorf("application exited with error: %v", err)
		os.Exit(1)
	}
}
