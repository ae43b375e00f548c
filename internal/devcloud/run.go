//go:build !tinygo

package devcloud

import (
	"context"

	"tigermeter/internal/logs"
	"tigermeter/internal/portal"
)

// Run opens the database and serves the API on cfg.Addr until ctx ends.
func Run(ctx context.Context, cfg Config, log *logs.Zap) error {
	db, err := InitDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && log != nil {
			log.Errorw("close_db_failed", "err", cerr)
		}
	}()

	svc := NewService(NewSQLRepository(db), cfg, log)
	h := NewHandler(svc, log)
	if log != nil {
		log.Infow("devcloud_listening", "addr", cfg.Addr, "db", cfg.DBPath)
	}
	srv := &portal.Server{}
	return srv.Serve(ctx, cfg.Addr, h.InitRoutes())
}
