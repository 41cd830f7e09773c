package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/internal/server"
)

// runServe 暴露 /metrics 与 /healthz，直到收到 SIGINT/SIGTERM
func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	configPath := configFlag(fs)
	addr := fs.String("addr", server.DefaultConfig().Addr, "Listen address for the ops endpoints")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	return withApp(ctx, *configPath, func(a *app) error {
		a.logger.Info("starting labnotebook",
			zap.String("version", Version),
			zap.String("build_time", BuildTime),
			zap.String("git_commit", GitCommit),
			zap.String("persistence", a.cfg.Persistence.Type),
			zap.Strings("entry_types", a.registry.Types()),
		)

		cfg := server.DefaultConfig()
		cfg.Addr = *addr
		ops := server.New(cfg, a.logger,
			server.WithCheck("persistence", func(ctx context.Context) error {
				_, err := a.stores.Variables.Variables(ctx, "__healthcheck__")
				return err
			}),
			server.WithCheck("blob_root", func(context.Context) error {
				return checkWritable(filepath.Join(a.cfg.Storage.Root, "blobs"))
			}),
		)
		err := ops.Run(ctx)
		a.logger.Info("labnotebook stopped", zap.Any("executions", a.svc.ExecutionStats()))
		return err
	})
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("blob root not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
