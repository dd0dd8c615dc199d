package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-http-trigger/config"
	"github.com/wippyai/wasm-http-trigger/engine"
	"github.com/wippyai/wasm-http-trigger/executor"
	"github.com/wippyai/wasm-http-trigger/handler"
	"github.com/wippyai/wasm-http-trigger/hooks"
	"github.com/wippyai/wasm-http-trigger/keyvalue"
	"github.com/wippyai/wasm-http-trigger/routes"
	"github.com/wippyai/wasm-http-trigger/server"
	"github.com/wippyai/wasm-http-trigger/sqlite"
	"github.com/wippyai/wasm-http-trigger/tracker"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <component.wasm>",
		Short: "Serve a component on one route",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			args, err := loadArgs(v, positional)
			if err != nil {
				return err
			}
			logger, err := newLogger(v.GetString("log-format"), v.GetString("log-level"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, args, logger, nil)
		},
	}

	f := cmd.Flags()
	f.String("wasm", "", "component wasm file")
	f.String("component-id", "main", "component id")
	f.String("route", "/...", "route the component serves")
	f.String("listen", "127.0.0.1:3000", "address to listen on")
	f.String("handler-type", "", "force the handler version (latest, 2023-11-10, 2023-10-18)")
	f.StringArray("key-value", nil, "seed the default key-value store with key=value")
	f.StringArray("sqlite", nil, "run a statement, or @file, against the default database")
	f.StringSlice("key-value-store", []string{keyvalue.DefaultLabel}, "key-value stores the component may open")
	f.StringSlice("sqlite-database", []string{sqlite.DefaultLabel}, "databases the component may open")
	f.StringSlice("follow", nil, "components whose output goes to the terminal (* for all)")
	f.String("log-dir", "", "directory for component output logs")
	f.Bool("truncate-logs", false, "truncate component output logs on start")
	f.String("state-dir", "", "directory for default store files; empty keeps them in memory")
	f.String("runtime-config-file", "", "runtime config TOML file")
	f.Uint64("max-instance-memory", 0, "linear memory ceiling per instance in bytes")
	f.Bool("dashboard", false, "show a live memory dashboard")
	return cmd
}

func loadArgs(v *viper.Viper, positional []string) (*config.Args, error) {
	var args config.Args
	if err := v.Unmarshal(&args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if len(positional) == 1 {
		args.Wasm = positional[0]
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	return &args, nil
}

// serve runs the trigger until ctx ends. A nil ln listens on args.Listen.
func serve(ctx context.Context, args *config.Args, logger *zap.Logger, ln net.Listener) error {
	resolved, err := config.Resolve(args.RuntimeConfigFile, args.StateDir, args.LogDir)
	if err != nil {
		return err
	}
	resolved.Summarize(logger)

	wasm, err := os.ReadFile(args.Wasm)
	if err != nil {
		return fmt.Errorf("read component: %w", err)
	}

	eng, err := engine.New(ctx, engine.Config{})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(context.Background()) }()

	comp, err := eng.Compile(ctx, args.ComponentID, wasm)
	if err != nil {
		return err
	}
	handlerType, err := resolveHandlerType(args.HandlerType, comp.Exports())
	if err != nil {
		return err
	}

	kv, err := keyvalue.Open(ctx, resolved.KeyValuePath(), resolved.KeyValueLabels()...)
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()
	db := sqlite.New(resolved.SQLitePaths())
	defer func() { _ = db.Close() }()

	memory := tracker.New()
	chain, stdio, err := builtinHooks(args, resolved, memory)
	if err != nil {
		return err
	}
	defer func() { _ = stdio.Close() }()

	exec := executor.New(
		&executor.EngineInstantiator{Engine: eng, Components: map[string]*engine.Component{comp.ID(): comp}},
		executor.WithLogger(logger),
		executor.WithTracker(memory),
	)
	exec.AddHooks(chain.Hooks()...)

	app, err := exec.LoadApp(ctx, &hooks.App{
		KeyValue: kv,
		SQLite:   db,
		Components: []hooks.Component{{
			ID:              args.ComponentID,
			KeyValueStores:  args.KeyValueStores,
			SQLiteDatabases: args.SQLiteDatabases,
		}},
	})
	if err != nil {
		return err
	}

	route, err := routes.Parse(args.ComponentID, args.Route)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              args.Listen,
		Handler:           server.New(exec, app, route, handlerType, server.WithLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ln == nil {
		if ln, err = net.Listen("tcp", args.Listen); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	logger.Info("Serving component",
		zap.String("component", args.ComponentID),
		zap.String("handler", handlerType.Interface()),
		zap.String("url", "http://"+ln.Addr().String()+route.String()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		err := srv.Shutdown(shutdownCtx)
		return errors.Join(err, exec.Shutdown(shutdownCtx))
	})
	if args.Dashboard {
		g.Go(func() error {
			defer cancel()
			return runDashboard(gctx, args.ComponentID, memory)
		})
	}
	return g.Wait()
}

// builtinHooks assembles the built-in hooks in their canonical order.
func builtinHooks(args *config.Args, resolved *config.Resolved, memory *tracker.MemoryTracker) (*hooks.Chain, *hooks.StdioLogging, error) {
	pairs := make([]hooks.KeyValue, 0, len(args.KeyValues))
	for _, s := range args.KeyValues {
		kv, err := hooks.ParseKeyValue(s)
		if err != nil {
			return nil, nil, err
		}
		pairs = append(pairs, kv)
	}

	stdio := &hooks.StdioLogging{
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Follow:       args.Follow,
		LogDir:       args.LogDir,
		TruncateLogs: args.TruncateLogs,
	}
	maxMemory, _ := config.MaxInstanceMemory(args, resolved)
	return hooks.Builtin(hooks.Options{
		Stdio:             stdio,
		Tracker:           memory,
		SQLStatements:     args.SQLiteStatements,
		KeyValues:         pairs,
		MaxInstanceMemory: maxMemory,
	}), stdio, nil
}

func resolveHandlerType(forced string, exports []string) (handler.Type, error) {
	if forced != "" {
		return handler.ParseType(forced)
	}
	return handler.FromExports(exports)
}
