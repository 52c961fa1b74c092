package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"judgehub/internal/cli/command"
	"judgehub/internal/cli/config"
	"judgehub/internal/cli/http"
	"judgehub/internal/cli/repl"
	"judgehub/internal/cli/state"
)

const defaultConfigPath = "configs/ojctl.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	internalToken := flag.String("internal-token", "", "Override internal token")
	statePath := flag.String("state", "", "Override credentials path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}

	creds, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load credentials failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		creds.AccessToken = *token
	}
	if *internalToken != "" {
		creds.InternalToken = *internalToken
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	session := repl.New(client, command.Registry(), &creds, cfg.StatePath, *cfg.PrettyJSON)

	ctx := context.Background()
	if args := flag.Args(); len(args) > 0 {
		session.SetOutput(os.Stdout)
		if err := session.Exec(ctx, strings.Join(args, " ")); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := session.Run(ctx, cfg.HistoryFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
