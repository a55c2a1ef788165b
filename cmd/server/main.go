package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"edgeclassifier/internal/app"
)

func main() {
	application := app.NewApp()
	if !application.Init() {
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Printf("Server stopped: %v", err)
		application.Close()
		os.Exit(1)
	}
}
