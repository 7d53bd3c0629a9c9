package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"colorcodely-go/internal/config"
	"colorcodely-go/internal/email"
	"colorcodely-go/internal/extractor"
	"colorcodely-go/internal/guard"
	"colorcodely-go/internal/logger"
	"colorcodely-go/internal/metrics"
	"colorcodely-go/internal/notify"
	"colorcodely-go/internal/processor"
	"colorcodely-go/internal/server"
	"colorcodely-go/internal/store"
	"colorcodely-go/internal/telephony"
	"colorcodely-go/internal/transcription"
)

const shutdownTimeout = 2 * time.Minute

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "colorcodely-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	log.WithField("centers", len(cfg.Centers)).
		WithField("store", cfg.StoreDriver).
		WithField("tz", cfg.TZName).
		Info("configuration loaded")

	st, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	twilio, err := telephony.NewClient(cfg.Twilio, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build telephony client")
	}

	var transcriber transcription.Transcriber
	if cfg.UseMockTranscribe {
		log.Warn("using mock transcription")
		transcriber = transcription.Mock{Text: cfg.MockTranscript}
	} else {
		client, err := transcription.NewClient(cfg.Transcription, log)
		if err != nil {
			log.WithError(err).Fatal("failed to build transcription client")
		}
		transcriber = client
	}

	sender := email.NewSender(cfg.SMTP, log)

	var sms notify.SMSSender
	if cfg.Notify.SMSEnabled {
		sms = twilio
	}
	fanout := notify.New(cfg.Notify, st, sender, sms, m, log)

	var matchOpts []extractor.Option
	if cfg.FuzzyColors {
		matchOpts = append(matchOpts, extractor.WithFuzzy())
	}

	dayGuard := guard.New(st)
	proc := processor.New(processor.Deps{
		Guard:       dayGuard,
		Audio:       twilio,
		Transcriber: transcriber,
		Normalizer:  transcription.NewNormalizer(transcription.DefaultSubstitutions, cfg.StopPhrase),
		Matcher:     extractor.NewMatcher(extractor.DefaultVocabulary, matchOpts...),
		Store:       st,
		Notifier:    fanout,
		Alerts:      sender,
		Metrics:     m,
	}, processor.Config{
		OperatorAddress: cfg.OperatorEmail,
	}, log)

	handler := server.New(server.Options{
		Centers:            cfg.Centers,
		Calls:              twilio,
		Pipeline:           proc,
		Records:            st,
		Days:               dayGuard,
		Gatherer:           reg,
		Metrics:            m,
		ValidateSignatures: cfg.ValidateSignatures,
		AuthToken:          cfg.Twilio.AuthToken,
		PublicBaseURL:      cfg.PublicBaseURL,
		TZName:             cfg.TZName,
		Log:                log,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server terminated")
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	// in-flight runs finish so no recording is left half-processed
	if err := proc.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("pipeline shutdown incomplete")
	}
	log.Info("stopped")
}

func openStore(cfg *config.Config, log *logger.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		return store.OpenSQLite(cfg.SQLiteDir, log)
	default:
		return store.OpenWorkbook(cfg.WorkbookPath, cfg.SubscriberSheet, log)
	}
}
