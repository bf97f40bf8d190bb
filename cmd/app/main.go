package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sunspot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initializeApp()
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}
	return app.Run(ctx)
}
