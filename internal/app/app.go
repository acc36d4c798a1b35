package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/config"
	"github.com/max-delvita/scheduler-v4/internal/db"
	"github.com/max-delvita/scheduler-v4/internal/engine"
	"github.com/max-delvita/scheduler-v4/internal/events"
	"github.com/max-delvita/scheduler-v4/internal/handlers"
	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/metrics"
	"github.com/max-delvita/scheduler-v4/internal/nudge"
	"github.com/max-delvita/scheduler-v4/internal/repository"
	"github.com/max-delvita/scheduler-v4/internal/scheduler"
	"github.com/max-delvita/scheduler-v4/internal/server"
	"github.com/max-delvita/scheduler-v4/internal/workflow"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Scheduling Assistant Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.NewMetrics()
	repo := repository.New(dbConn)

	sender, err := mail.NewGmailSender(&cfg.Mail)
	if err != nil {
		return fmt.Errorf("failed to create email sender: %w", err)
	}

	eng, err := engine.NewOpenAIEngine(&cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to create decision engine: %w", err)
	}

	var sink events.Sink = events.NopSink{}
	if cfg.Events.Enabled {
		amqpSink, err := events.NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return fmt.Errorf("failed to connect event sink: %w", err)
		}
		sink = amqpSink
		logrus.Info("AMQP event sink enabled")
	}
	defer sink.Close()

	wf := workflow.New(repo, sender, eng, m, sink, cfg.Mail.SenderAddress)
	sweeper := nudge.NewSweeper(repo, sender, cfg.Nudge, m, sink)

	var source scheduler.InboundSource
	if cfg.Mail.UseIMAP {
		imapSource, err := mail.NewIMAPSource(&cfg.Mail)
		if err != nil {
			return fmt.Errorf("failed to create IMAP source: %w", err)
		}
		source = imapSource
		logrus.Info("IMAP inbound polling enabled")
	}

	sched := scheduler.NewScheduler(&cfg.Scheduler, sweeper, wf, source)

	h := handlers.NewHandlers(dbConn, repo, wf, sweeper, sched)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if source != nil {
		if err := source.Close(); err != nil {
			logrus.Errorf("Failed to close IMAP source: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
