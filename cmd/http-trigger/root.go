package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-http-trigger/config"
	"github.com/wippyai/wasm-http-trigger/engine"
	"github.com/wippyai/wasm-http-trigger/executor"
	"github.com/wippyai/wasm-http-trigger/hooks"
	"github.com/wippyai/wasm-http-trigger/server"
)

const envPrefix = "HTTP_TRIGGER"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "http-trigger",
		Short:         "Serve a wasi:http component over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-format", "console", "log encoding: console or json")
	root.PersistentFlags().String("log-level", "info", "minimum log level")

	root.AddCommand(newServeCmd(), newRuntimeConfigCmd())
	return root
}

// newViper binds the command's flags and HTTP_TRIGGER_* environment variables.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return v, nil
}

// newLogger builds the process logger and hands it to every package.
func newLogger(format, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	engine.SetLogger(logger.Named("engine"))
	executor.SetLogger(logger.Named("executor"))
	hooks.SetLogger(logger.Named("hooks"))
	server.SetLogger(logger.Named("server"))
	return logger, nil
}

func newRuntimeConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runtime-config",
		Short: "Runtime config file utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the runtime config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	})
	return cmd
}
