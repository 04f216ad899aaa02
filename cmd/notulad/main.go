package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/davidhora/notula/internal/app"
	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := app.LoadConfigFromEnv()
	log := logger.New()

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      getEnvironment(),
		})
		if err != nil {
			log.WithError(err).Warn("sentry init failed")
		} else {
			log.Info("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := audio.Init(); err != nil {
		log.WithError(err).Fatal("initializing audio subsystem")
	}
	defer audio.Terminate()

	a, err := app.New(cfg, log)
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		log.WithError(err).Fatal("init app")
	}

	a.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = a.Close()
}

func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
