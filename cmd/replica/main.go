// Package main starts the replica process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	replicacmd "github.com/louisbranch/replica/internal/cmd/replica"
	"github.com/louisbranch/replica/internal/platform/config"
)

func main() {
	cfg, err := replicacmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.ExitCodef(config.ExitUsage, "parse flags: %v", err)
	}
	log.SetPrefix("[REPLICA] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := replicacmd.Run(ctx, cfg); err != nil {
		log.Fatalf("replica stopped: %v", err)
	}
}
