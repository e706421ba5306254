package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/Vigil/server/internal/clock"
	"github.com/BrandonDHaskell/Vigil/server/internal/config"
	"github.com/BrandonDHaskell/Vigil/server/internal/db"
	"github.com/BrandonDHaskell/Vigil/server/internal/grpcapi"
	"github.com/BrandonDHaskell/Vigil/server/internal/httpapi"
	"github.com/BrandonDHaskell/Vigil/server/internal/metrics"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/capture"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/credential"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/face"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/gate"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/mailbox"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/notify"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/pipeline"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/service"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store/memory"
	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, httpAddr, grpcAddr string

	flagSet := pflag.NewFlagSet("vigil-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("VIGIL_CONFIG"), "YAML file overlaid on VIGIL_* environment settings")
	flagSet.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	flagSet.StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (overrides config)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := config.FromEnv()
	if configPath != "" {
		loaded, err := config.Load(configPath, cfg)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if flagSet.Changed("http-addr") {
		cfg.HTTPAddr = httpAddr
	}
	if flagSet.Changed("grpc-addr") {
		cfg.GRPCAddr = grpcAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := log.New(os.Stdout, "vigil-server ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	var runs store.RunStore
	var events store.AccessEventStore
	switch cfg.Store {
	case "memory":
		runs = memory.NewRunStore()
		events = memory.NewAccessEventStore()
	default:
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer conn.Close()
		writer := db.NewWorker(conn)
		defer writer.Close()
		runs = sqlite.NewRunStore(conn, writer)
		events = sqlite.NewAccessEventStore(conn, writer)
		logger.Printf("history db %s", cfg.DBPath)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Health
	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(cfg.GRPCAddr, logger)
	}
	g := &gate.Gate{OnChange: func(busy bool) {
		m.GateBusy(busy)
		if health != nil {
			health.SetCaptureBusy(busy)
		}
	}}

	// Pipeline collaborators
	source := capture.NewHTTPSource(cfg.Camera.Source(), &http.Client{}, clock.Real(), logger)
	classifier, err := face.NewPigo(cfg.Face.Classifier())
	if err != nil {
		return fmt.Errorf("face classifier: %w", err)
	}
	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.Mail.Host != "" {
		mailer, err := notify.NewMailer(cfg.Mail.Notifier())
		if err != nil {
			return fmt.Errorf("mailer: %w", err)
		}
		notifier = mailer
	} else {
		logger.Printf("mail.host not set; notifications are logged only")
	}

	pipe := pipeline.New(pipeline.Dependencies{
		Source:     source,
		Classifier: classifier,
		Notifier:   notifier,
		Logger:     logger,
		Observer:   m,
	})

	// Services
	triggerSvc := service.NewTriggerService(service.TriggerDependencies{
		Gate:     g,
		Runner:   pipe,
		Runs:     runs,
		Recorder: m,
		Logger:   logger,
		Config: service.TriggerConfig{
			RunTimeout:   cfg.Trigger.RunTimeout,
			ReleaseGrace: cfg.Trigger.ReleaseGrace,
		},
	})
	codes := credential.NewStore(cfg.Credentials.TTL)
	credentialSvc := service.NewCredentialService(codes, events, m, nil, logger)
	commandSvc := service.NewCommandService(mailbox.New(cfg.Mailbox.Capacity), pipe, m, nil, logger)

	reaper := service.NewReaper([]service.ReapTarget{
		{Name: "credentials", Pruner: codes, Retention: cfg.Credentials.TTL},
		{Name: "runs", Pruner: runs, Retention: time.Duration(cfg.RunRetentionDays) * 24 * time.Hour},
	}, cfg.ReapInterval, nil, logger)
	reaper.Start(ctx)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:            logger,
		Addr:              cfg.HTTPAddr,
		TriggerService:    triggerSvc,
		CredentialService: credentialSvc,
		CommandService:    commandSvc,
		MetricsHandler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ExposeCredentials: cfg.Credentials.Expose,
	})

	go func() {
		logger.Printf("listening on %s (env=%s)", cfg.HTTPAddr, cfg.Env)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()
	if health != nil {
		go func() {
			if err := health.Start(); err != nil {
				logger.Printf("grpc health error: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if health != nil {
		health.Stop()
	}
	reaper.Stop()
	if err := triggerSvc.Close(shutdownCtx); err != nil {
		logger.Printf("capture run still active at exit: %v", err)
	}
	commandSvc.Close()
	return nil
}
