// Package main starts the restcached maintenance and admin daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonwraymond/restcache/config"
	"github.com/jonwraymond/restcache/daemon"
	"github.com/jonwraymond/restcache/secret"
)

var version = "dev"

func main() {
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.ResolveSecrets(ctx, secret.NewDefaultResolver()); err != nil {
		log.Fatalf("resolve secrets: %v", err)
	}
	if err := daemon.Run(ctx, cfg, version); err != nil {
		log.Fatalf("restcached: %v", err)
	}
}
