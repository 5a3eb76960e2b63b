// Package main is the entry point for the scriptbox MCP server.
//
// Scriptbox accepts untrusted scripting-language source from agent tooling,
// statically vets it, runs it in a resource-limited sandbox process, diffs
// the resulting artifacts, and applies a bounded auto-correct retry loop on
// failure. Every run leaves a durable, inspectable record.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/autocorrect"
	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/engine"
	"github.com/isdmx/scriptbox/events"
	"github.com/isdmx/scriptbox/guest"
	"github.com/isdmx/scriptbox/logger"
	"github.com/isdmx/scriptbox/mcpserver"
	"github.com/isdmx/scriptbox/retention"
	"github.com/isdmx/scriptbox/sandbox"
	"github.com/isdmx/scriptbox/validate"
	"github.com/isdmx/scriptbox/workspace"
)

func main() {
	// Environment overrides may live in a local .env file.
	_ = godotenv.Load()

	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,

			func(cfg *config.Config) guest.Registry {
				return guest.NewRegistry(cfg.Languages.PythonCommand, cfg.Languages.LuaCommand)
			},
			func(log *zap.Logger) *validate.Validator {
				return validate.New(validate.DefaultRules(), log)
			},
			func(cfg *config.Config, log *zap.Logger) *sandbox.Executor {
				return sandbox.New(sandbox.Policy{
					MemoryBytes:  uint64(cfg.Sandbox.MemoryMB) * 1024 * 1024,
					FileSizeByte: uint64(cfg.Sandbox.MaxFileSizeMB) * 1024 * 1024,
					OpenFiles:    uint64(cfg.Sandbox.MaxOpenFiles),
				}, log)
			},
			func(log *zap.Logger) autocorrect.Chain {
				// No remote fixer is configured by default; the heuristic
				// table runs alone.
				return autocorrect.NewChain(log, nil)
			},
			func(cfg *config.Config) (*workspace.Manager, error) {
				return workspace.NewManager(cfg.Workspace.Root)
			},
			events.NewLogNotifier,
			engine.New,
			mcpserver.New,
		),

		fx.Invoke(
			startServer,
			startRetention,
			startMetrics,
		),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

func startServer(cfg *config.Config, server *mcpserver.MCPServer) {
	switch cfg.Server.Transport {
	case "stdio":
		go func() {
			if err := server.ServeStdio(); err != nil {
				panic(err)
			}
		}()
	case "http":
		go func() {
			if err := server.ServeHTTP(); err != nil {
				panic(err)
			}
		}()
	default:
		panic("unsupported transport: " + cfg.Server.Transport)
	}
}

func startRetention(lc fx.Lifecycle, cfg *config.Config, mgr *workspace.Manager, log *zap.Logger) error {
	if cfg.Retention.Schedule == "" {
		return nil
	}
	sweeper, err := retention.NewSweeper(cfg.Retention.Schedule, mgr, cfg.RetentionMaxAge(), log)
	if err != nil {
		return fmt.Errorf("invalid retention.schedule: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
	return nil
}

func startMetrics(cfg *config.Config, log *zap.Logger) {
	if cfg.Server.MetricsPort == 0 {
		return
	}
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		log.Info("serving metrics", zap.String("addr", addr))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
}
