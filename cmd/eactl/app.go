package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/activism/internal/application"
	"github.com/JonMunkholm/activism/internal/config"
	"github.com/JonMunkholm/activism/internal/logging"
	"github.com/JonMunkholm/activism/internal/service"
)

// openApp loads configuration and connects with batches forced in-process.
func openApp(cmd *cobra.Command) (*application.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if cmd.Flags().Changed("loglevel") {
		level, _ = cmd.Flags().GetString("loglevel")
	}
	logging.Setup(level, cfg.Logging.Format)
	return application.Open(commandContext(cmd), cfg, application.Options{InProcess: true})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// report waits for run and prints its outcome.
func report(ctx context.Context, w io.Writer, svc *service.Service, run service.Run) error {
	if err := svc.Wait(ctx); err != nil {
		return err
	}
	p, err := svc.Progress(ctx, run.BatchID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "import %s: %d processed, %d failed\n", run.ImportID, p.Succeeded, p.Failed)
	if p.Error != "" {
		return fmt.Errorf("run failed: %s", p.Error)
	}
	return nil
}

// rejection prints a validation failure as the user message alone.
func rejection(w io.Writer, err error) error {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		fmt.Fprintln(w, ve.Message)
	}
	return err
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}
