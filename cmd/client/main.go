package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ivolkov/shelfsync/internal/client/cli"
	"github.com/ivolkov/shelfsync/internal/client/config"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
