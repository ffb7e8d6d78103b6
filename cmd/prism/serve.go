package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/prism/internal/adapter/broker"
	"github.com/xiaot623/prism/internal/adapter/llm"
	"github.com/xiaot623/prism/internal/auth"
	"github.com/xiaot623/prism/internal/config"
	"github.com/xiaot623/prism/internal/conversation"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/hub"
	"github.com/xiaot623/prism/internal/logger"
	"github.com/xiaot623/prism/internal/metrics"
	"github.com/xiaot623/prism/internal/policy"
	"github.com/xiaot623/prism/internal/prompt"
	"github.com/xiaot623/prism/internal/repository"
	"github.com/xiaot623/prism/internal/service"
	"github.com/xiaot623/prism/internal/summary"
	transport "github.com/xiaot623/prism/internal/transport/http"
	"github.com/xiaot623/prism/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.WithFields(logrus.Fields{
		"port":     cfg.HTTPPort,
		"driver":   cfg.DatabaseDriver,
		"llm_url":  cfg.LLMBaseURL,
		"model":    cfg.LLMModel,
		"duration": cfg.SessionDuration,
	}).Info("starting prism")

	// Initialize store
	store, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer store.Close()

	prompts := prompt.Default()
	if cfg.PromptsFile != "" {
		if prompts, err = prompt.Load(cfg.PromptsFile); err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.APIKey, cfg.TokenTTL)
	if err != nil {
		return err
	}

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	m := metrics.New()
	client := llm.Observe(llm.NewLLMClient(log, cfg.MockLLM, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout), m.ObserveCompletion)

	h := hub.NewHub(log)
	emitters := domain.Emitters{h}
	if cfg.AMQPURL != "" {
		pub, err := broker.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer pub.Close()
		emitters = append(emitters, broker.NewEventPublisher(pub, cfg.AMQPExchange, log))
		log.WithField("exchange", cfg.AMQPExchange).Info("publishing session events to broker")
	}

	engine := conversation.NewEngine(client, prompts, cfg.LLMModel, log)
	pipeline := summary.New(store, store, client, prompts, cfg.LLMModel, emitters, log, summary.WithObserver(m))
	svc := service.New(store, engine, pipeline, policyEngine, emitters, cfg, log, service.WithMetrics(m))

	e := transport.NewServer(cfg, svc, h, verifier, m, ws.NewServer(cfg, h, svc, verifier, m, log))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		svc.RunExpiryMonitor(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.WithField("addr", addr).Info("http server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down prism")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// Let in-flight summary runs finish before the store closes.
	svc.Wait()
	log.Info("prism stopped")
	return err
}
