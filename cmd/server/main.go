package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ivolkov/shelfsync/internal/server"
	"github.com/ivolkov/shelfsync/internal/server/auth"
	"github.com/ivolkov/shelfsync/internal/server/config"
)

func main() {

	cfg := config.LoadConfig()

	// "issue-token <device-name>" prints a signed device token and exits;
	// tokens are provisioned out of band, the API has no signup endpoint.
	if len(os.Args) > 1 && os.Args[1] == "issue-token" {
		if len(os.Args) < 3 {
			log.Fatal("usage: server issue-token <device-name>")
		}
		token, err := auth.GenerateToken(os.Args[2], []byte(cfg.SecretKey), cfg.TokenValidityDuration)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
