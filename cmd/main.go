package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ludge/goal-gala-quiz-time/internal/config"
	"github.com/Ludge/goal-gala-quiz-time/internal/server"
)

const defaultConfigPath = "config/local.yaml"

func main() {
	if err := run(); err != nil {
		slog.Error("quiz server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	var c server.Config
	if err := config.Load(path, &c); err != nil {
		return err
	}

	s, err := server.Init(c)
	if err != nil {
		return err
	}

	go s.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, os.Interrupt)
	<-stop

	slog.Info("shutting down")
	s.Shutdown()
	return nil
}
