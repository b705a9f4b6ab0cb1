// Package main is the mcbridge CLI: an MCBE WebSocket gateway that
// drives tool-using LLM conversations for in-game players.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nevindra/mcbridge/internal/agent"
	"github.com/nevindra/mcbridge/internal/auth"
	"github.com/nevindra/mcbridge/internal/broker"
	"github.com/nevindra/mcbridge/internal/config"
	"github.com/nevindra/mcbridge/internal/conversation"
	"github.com/nevindra/mcbridge/internal/gateway"
	"github.com/nevindra/mcbridge/internal/llm"
	"github.com/nevindra/mcbridge/internal/logging"
	"github.com/nevindra/mcbridge/internal/observer"
	"github.com/nevindra/mcbridge/internal/prompt"
	"github.com/nevindra/mcbridge/internal/protocol"
	"github.com/nevindra/mcbridge/internal/worker"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "mcbridge",
		Short:        "MCBE WebSocket gateway for LLM agents",
		Version:      protocol.Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "mcbridge.toml", "path to the TOML config file")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildInfoCmd(&configPath),
		buildTestProviderCmd(&configPath),
		buildInitCmd(&configPath),
	)
	return rootCmd
}

func buildServeCmd(configPath *string) *cobra.Command {
	var (
		host     string
		port     int
		logLevel string
		dev      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*configPath)
			if host != "" {
				cfg.Host = host
			}
			if port != 0 {
				cfg.Port = port
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if dev {
				cfg.DevMode = true
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: DEBUG, INFO, WARNING, ERROR")
	cmd.Flags().BoolVar(&dev, "dev", false, "development mode: bypass authentication")
	return cmd
}

func serve(cfg config.Config) error {
	logger, err := logging.Setup(logging.Options{
		Level:             cfg.LogLevel,
		EnableFileLogging: cfg.EnableFileLogging,
		DataDir:           cfg.DataDir,
	})
	if err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}

	authHandler, err := auth.NewHandler(
		cfg.JWTSecret,
		time.Duration(cfg.JWTExpiration)*time.Second,
		cfg.DefaultPassword,
		cfg.DataDir,
		logger,
	)
	if err != nil {
		return fmt.Errorf("auth setup: %w", err)
	}

	sessions, err := conversation.NewManager(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}

	b := broker.New(cfg.QueueMaxSize, logger)
	prompts := prompt.NewManager(logger)
	registry := llm.NewRegistry(logger)
	engine := agent.NewEngine(prompts, agent.DefaultRegistry(), cfg.StreamSentenceMode, logger)
	pool := worker.NewPool(b, engine, registry, cfg, logger)
	server := gateway.NewServer(cfg, b, authHandler, prompts, sessions, logger)

	var observerShutdown func(context.Context) error
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(context.Background(), b.QueueDepth, server.ConnectionCount)
		if err != nil {
			return fmt.Errorf("observer setup: %w", err)
		}
		pool.Instruments = inst
		observerShutdown = shutdown
	}

	if err := registry.Warmup(cfg.ProviderConfigFor(cfg.DefaultProvider)); err != nil {
		logger.Warn("default provider warmup failed", "provider", cfg.DefaultProvider, "error", err)
	}

	pool.Start(cfg.LLMWorkerCount)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		pool.Stop()
		registry.Shutdown()
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.WebSocket.CloseTimeout)*time.Second)
	defer cancel()

	// Senders stop and futures resolve before the listener goes away,
	// then workers drain, then provider clients close.
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	pool.Stop()
	registry.Shutdown()
	if observerShutdown != nil {
		if err := observerShutdown(ctx); err != nil {
			logger.Warn("observer shutdown", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}

func buildInfoCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*configPath)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "mcbridge %s\n\n", protocol.Version)
			fmt.Fprintf(out, "listen:            %s:%d\n", cfg.Host, cfg.Port)
			fmt.Fprintf(out, "default provider:  %s\n", cfg.DefaultProvider)
			fmt.Fprintf(out, "workers:           %d\n", cfg.LLMWorkerCount)
			fmt.Fprintf(out, "queue capacity:    %d\n", cfg.QueueMaxSize)
			fmt.Fprintf(out, "max history turns: %d\n", cfg.MaxHistoryTurns)
			fmt.Fprintf(out, "data dir:          %s\n", cfg.DataDir)
			fmt.Fprintf(out, "dev mode:          %v\n", cfg.DevMode)

			fmt.Fprintf(out, "\nproviders:\n")
			for _, name := range []string{"deepseek", "openai", "anthropic", "ollama"} {
				p := cfg.ProviderConfigFor(name)
				status := "disabled (no API key)"
				if p.Enabled {
					status = "enabled"
				}
				fmt.Fprintf(out, "  %-10s %-30s %s\n", name, p.Model, status)
			}
			return nil
		},
	}
}

func buildTestProviderCmd(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "test-provider [name]",
		Short: "Send a minimal completion to a provider and report the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*configPath)
			name := cfg.DefaultProvider
			if len(args) > 0 {
				name = args[0]
			}

			registry := llm.NewRegistry(nil)
			defer registry.Shutdown()

			model, err := registry.GetModel(cfg.ProviderConfigFor(name))
			if err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := model.Complete(ctx, llm.Request{
				Messages: []llm.ModelMessage{llm.UserMessage("ping")},
			})
			if err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "provider %s ok: model=%s tokens=%d/%d\n",
				name, model.Name(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func buildInitCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
