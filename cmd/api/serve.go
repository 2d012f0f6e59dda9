package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"activity-platform/internal/activity"
	"activity-platform/internal/auth"
	"activity-platform/internal/broadcast"
	"activity-platform/internal/broker"
	"activity-platform/internal/config"
	"activity-platform/internal/consumer"
	"activity-platform/internal/httpapi"
	"activity-platform/internal/metrics"
	"activity-platform/internal/publisher"
	"activity-platform/internal/reporting"
	"activity-platform/internal/session"
	"activity-platform/internal/tasks"
	"activity-platform/internal/tracing"
	"activity-platform/internal/users"
	"activity-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 20 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API, the admin websocket and the activity pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log)
	},
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := metrics.NewRegistry()

	tracer, flushTraces, err := tracing.New(ctx, cfg.Tracing, cfg.App.Env)
	if err != nil {
		return err
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Activity pipeline. Every component is built here and handed to its
	// users; nothing is reachable through package state.
	brokerOpts := broker.Options{
		Driver:   cfg.Broker.Driver,
		Addrs:    cfg.Broker.Addrs,
		ClientID: cfg.Broker.ClientID,
	}
	pub := publisher.New(publisher.Config{
		Enabled:  cfg.Broker.Enabled,
		Attempts: cfg.Broker.ConnectRetry,
		Delay:    cfg.Broker.ConnectDelay,
	}, func(ctx context.Context) (broker.Producer, error) {
		return broker.DialProducer(ctx, brokerOpts)
	}, log, publisher.WithMetrics(reg))
	events := publisher.NewTracedPublisher(publisher.NewMetricsPublisher(pub, reg), tracer)

	activities := activity.NewPostgresRepo(db)
	recorder := activity.NewRecorder(activities, events, cfg.Broker.Topic, log, reg)
	dispatcher := activity.NewDispatcher(recorder, cfg.Activity.Workers, cfg.Activity.QueueSize, log, reg)

	usersSvc := users.NewService(users.NewPostgresRepo(db), dispatcher)
	tasksSvc := tasks.NewService(tasks.NewPostgresRepo(db), dispatcher)

	hub := broadcast.NewHub(cfg.Broadcast.SendTimeout, log, reg)
	cons := consumer.New(consumer.Config{
		Enabled:  cfg.Broker.Enabled,
		Topic:    cfg.Broker.Topic,
		Group:    cfg.Broker.GroupID,
		Attempts: cfg.Broker.ConnectRetry,
		Delay:    cfg.Broker.ConnectDelay,
	}, func(ctx context.Context) (broker.Subscriber, error) {
		return broker.DialSubscriber(ctx, brokerOpts)
	}, consumer.HandlerFunc(hub.Relay), log, consumer.WithMetrics(reg), consumer.WithTracer(tracer))

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Log:     log,
		Metrics: reg,
		Handlers: httpapi.Handlers{
			Auth:       authManager,
			Users:      usersSvc,
			Tasks:      tasksSvc,
			Activities: activities,
			Reports:    reporting.NewService(activities),
		},
		Sessions: session.NewHandler(hub, authManager, usersSvc, log),
		Status: func() map[string]any {
			dbStatus := "ok"
			if err := utils.HealthCheck(context.Background(), db, 2*time.Second); err != nil {
				dbStatus = "unavailable"
			}
			return map[string]any{
				"database":       dbStatus,
				"publisher":      string(pub.State()),
				"consumer":       string(cons.State()),
				"observers":      hub.Count(),
				"activity_queue": dispatcher.QueueLen(),
			}
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// A broker that stays unreachable degrades the pipeline; the API keeps serving.
	g.Go(func() error {
		if err := pub.Start(gctx); err != nil && gctx.Err() == nil {
			log.Warn("activity publishing disabled for this process", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := cons.Run(gctx); err != nil {
			log.Warn("admin activity feed disabled for this process", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		// Hijacked websocket connections are not closed by Shutdown.
		hub.Close()
		if err := dispatcher.Drain(shutdownCtx); err != nil {
			log.Warn("activity queue not drained", "pending", dispatcher.QueueLen(), "err", err)
		}
		if err := pub.Close(); err != nil {
			log.Warn("publisher close failed", "err", err)
		}
		if err := flushTraces(shutdownCtx); err != nil {
			log.Warn("trace flush failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}
