package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accountd/internal/config"
	"accountd/internal/events"
	"accountd/internal/jwtsigner"
	"accountd/internal/media"
	"accountd/internal/notify"
	"accountd/internal/observability/logging"
	"accountd/internal/observability/metrics"
	impl "accountd/internal/service/impl"
	"accountd/internal/store"
	transport "accountd/internal/transport/http"
	"accountd/pkg/db"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("accountd stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	metrics.MustRegister(cfg.ServiceName)

	// 1) DB
	gdb, err := db.OpenGorm(db.Config{
		DSN:             cfg.DatabaseURL,
		LogSQL:          cfg.LogSQL,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}, logger)
	if err != nil {
		return err
	}
	if err := store.Migrate(gdb); err != nil {
		return err
	}
	st := store.New(gdb)

	// 2) Token signing: EdDSA when a private key is configured, HS256 otherwise
	var signer *jwtsigner.Signer
	if cfg.SigningPrivateKey != "" {
		signer, err = jwtsigner.NewEd25519FromBase64(cfg.SigningPrivateKey, cfg.SigningKeyID)
	} else {
		signer, err = jwtsigner.NewHMAC([]byte(cfg.SigningKey), cfg.SigningKeyID)
	}
	if err != nil {
		return err
	}

	// 3) Mail
	mailTransport, closeTransport, err := buildTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	sources, err := notify.DefaultSources()
	if err != nil {
		return err
	}
	renderer, err := notify.NewPongoRenderer(sources, map[string]any{"app_name": cfg.ServiceName})
	if err != nil {
		return err
	}
	dcfg := notify.DefaultConfig()
	dcfg.Workers = cfg.MailWorkers
	dcfg.QueueSize = cfg.MailQueueSize
	dcfg.SendTimeout = cfg.MailSendTimeout
	dcfg.Retries = cfg.MailRetries
	dispatcher := notify.NewDispatcher(dcfg, renderer, mailTransport, logger.Named("mail"))
	dispatcher.OnFailure(func(ctx context.Context, m notify.Message, err error) {
		meta := map[string]string{"template": m.Template, "transport": mailTransport.Name(), "error": err.Error()}
		if aerr := st.Audit().Record(ctx, nil, events.ActionNotificationError, meta, "", ""); aerr != nil {
			logger.Warn("audit of mail failure not stored", zap.Error(aerr))
		}
	})

	// 4) Services
	passwords := impl.NewPasswordServiceArgon2id(impl.Argon2Params{
		Time:    uint32(cfg.HashTime),
		Memory:  uint32(cfg.HashMemory),
		Threads: uint8(cfg.HashThreads),
	})
	tokens := impl.NewTokenService(impl.TokenConfig{Issuer: cfg.Issuer, AccessTTL: cfg.AccessTTL}, signer, logger)
	images := media.NewPipeline(media.Config{
		MaxBytes:      cfg.ImageMaxBytes,
		MaxPixels:     cfg.ImageMaxPixels,
		ThumbnailSize: cfg.ThumbnailSize,
	}, logger.Named("media"))
	accounts := impl.NewAccountServiceImpl(st, passwords, tokens, impl.NewCodeService(cfg.CodeBytes), dispatcher, images,
		impl.AccountConfig{
			ActivationTTL:     cfg.ActivationTTL,
			ResetTTL:          cfg.ResetTTL,
			ActivationLinkURL: cfg.ActivationLinkURL,
			ResetLinkURL:      cfg.ResetLinkURL,
		}, logger)

	// 5) HTTP
	handler := transport.NewRouter(accounts, signer, transport.Config{
		CookieName:      cfg.CookieName,
		CookieDomain:    cfg.CookieDomain,
		CookieSecure:    cfg.CookieSecure,
		TrustProxy:      cfg.TrustProxy,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AdminAPIKey:     cfg.AdminAPIKey,
		ImageMaxBytes:   cfg.ImageMaxBytes,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("accountd listening",
			zap.String("addr", srv.Addr),
			zap.String("issuer", cfg.Issuer),
			zap.String("alg", signer.Alg()),
			zap.String("mail_transport", mailTransport.Name()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	// HTTP first so nothing new is queued, then drain the mail queue
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("mail queue not drained", zap.Error(err))
	}
	return nil
}

func buildTransport(cfg config.Config, logger *zap.Logger) (notify.Transport, func(), error) {
	noop := func() {}
	switch cfg.MailTransport {
	case "smtp":
		t, err := notify.NewSMTPTransport(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			Timeout:  cfg.MailSendTimeout,
		})
		return t, noop, err
	case "amqp":
		t, err := notify.NewAMQPTransport(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, noop, err
		}
		return t, func() {
			if err := t.Close(); err != nil {
				logger.Warn("amqp close", zap.Error(err))
			}
		}, nil
	default:
		return notify.NewLogTransport(logger.Named("mail"), cfg.Environment == "dev"), noop, nil
	}
}
