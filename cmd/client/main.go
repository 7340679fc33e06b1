package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/zecs/internal/client"
	"github.com/zeusync/zecs/internal/config"
	"github.com/zeusync/zecs/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	addr := flag.String("addr", "", "server address, overrides the config file")
	name := flag.String("name", "", "chat name")
	greeting := flag.String("say", "", "chat line sent once connected")
	pilot := flag.Bool("pilot", true, "steer the avatar")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Client.Addr = *addr
	}

	c, err := injector.InitializeClient(cfg, client.Options{Name: *name, Greeting: *greeting, Pilot: *pilot})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating client:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err = c.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Client stopped:", err)
		os.Exit(1)
	}
}
