//go:build !tinygo

// Command tigercloud runs the developer cloud: claim codes, device
// heartbeats and the admin API, backed by a SQLite file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tigermeter/internal/devcloud"
	"tigermeter/internal/logs"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file (optional).")
		level    = flag.String("log-level", logs.InfoLevel, "debug|info|warn|error.")
		mintUser = flag.String("token", "", "Print an operator token for this user id and exit.")
		admin    = flag.Bool("admin", false, "With -token: mint an admin token.")
	)
	flag.Parse()

	log := logs.Get(*level)
	defer func() { _ = log.Sync() }()

	cfg, err := devcloud.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	if *mintUser != "" {
		role := "user"
		if *admin {
			role = devcloud.RoleAdmin
		}
		tok, err := devcloud.NewService(nil, cfg, log).IssueToken(*mintUser, role)
		if err != nil {
			log.Fatalw("mint token", "err", err)
		}
		fmt.Println(tok)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := devcloud.Run(ctx, cfg, log); err != nil {
		log.Fatalw("server stopped", "err", err)
	}
	log.Infow("shut down")
}
