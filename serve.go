package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"node.town/voxroom/config"
	"node.town/voxroom/devserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local token service and room with an echoing agent",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(os.Stderr, cfg.LogLevel)
	mainLog := component("main")

	srv := devserver.New(devserver.Config{
		AgentName:  cfg.AgentName,
		ReplyDelay: cfg.AgentReplyDelay,
		Greeting:   cfg.AgentGreeting,
	}, component("serve"))
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.ServeAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		mainLog.Info("starting server", "addr", cfg.ServeAddr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			mainLog.Error("server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	mainLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
