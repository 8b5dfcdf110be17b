package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/suPer8Hu/branchchat/internal/ai"
	"github.com/suPer8Hu/branchchat/internal/chat"
	"github.com/suPer8Hu/branchchat/internal/config"
	"github.com/suPer8Hu/branchchat/internal/db"
	"github.com/suPer8Hu/branchchat/internal/dispatch"
	"github.com/suPer8Hu/branchchat/internal/httpapi"
	"github.com/suPer8Hu/branchchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/branchchat/internal/ledger"
	"github.com/suPer8Hu/branchchat/internal/producer"
	"github.com/suPer8Hu/branchchat/internal/storage"
	"github.com/suPer8Hu/branchchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/branchchat/internal/store/redisstore"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the producer pool, the watchdog and the ledger collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// openStores connects the database and the ledger. The ledger directory
// is locked by pebble, so one process owns it at a time.
func openStores(cfg config.Config) (*gorm.DB, *ledger.Ledger, error) {
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, nil, err
	}
	l, err := ledger.Open(cfg.LedgerPath, ledger.Options{Sync: cfg.LedgerSync})
	if err != nil {
		return nil, nil, err
	}
	return gdb, l, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	gdb, l, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	files, err := storage.NewLocalStore(gdb, cfg.StorageDir, cfg.PublicBaseURL, cfg.JWTSecret, cfg.UploadURLTTL)
	if err != nil {
		return err
	}
	chats := chat.NewService(chat.NewRepo(gdb), l, files)
	registry := ai.NewDefaultRegistry(ai.Options{
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OllamaModel:       cfg.OllamaModel,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		GoogleBaseURL:     cfg.GoogleBaseURL,
	})
	prod := producer.New(l, chats, registry, files, storage.NewUploader(), cfg.TitleTimeout)

	// jobs run on workCtx; it is cancelled only if they outlive shutdown
	workCtx, abortJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer abortJobs()
	pool := dispatch.NewPool(prod, cfg.WorkerConcurrency, cfg.GenerationTimeout)
	pool.Start(workCtx)

	var dispatcher dispatch.Dispatcher = pool
	switch cfg.DispatchMode {
	case "", "local":
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		cons, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
		if err != nil {
			return err
		}
		defer cons.Close()
		deliveries, err := cons.Deliveries()
		if err != nil {
			return err
		}
		go dispatch.Consume(ctx, deliveries, pool, pub)
		dispatcher = dispatch.NewQueue(pub)
	default:
		return errors.Errorf("unsupported DISPATCH_MODE=%q", cfg.DispatchMode)
	}

	go ledger.NewWatchdog(l, cfg.LedgerWatchdogInterval, cfg.LedgerInactivityTimeout, cfg.LedgerPendingTimeout).Run(ctx)
	if err := l.StartCollector(ctx, cfg.LedgerGCCron, chats); err != nil {
		return err
	}

	var driven *redisstore.DrivenStreams
	if cfg.RedisAddr != "" {
		rdb := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		driven = redisstore.NewDrivenStreams(rdb, cfg.DrivenTTL)
	}

	h := &handlers.Handler{
		DB:         gdb,
		Cfg:        cfg,
		Chats:      chats,
		Ledger:     l,
		Files:      files,
		Dispatcher: dispatcher,
		Driven:     driven,
	}

	// SSE readers hang off reqCtx so shutdown can end them
	reqCtx, endRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer endRequests()
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}
	srv.RegisterOnShutdown(endRequests)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("dispatch", cfg.DispatchMode).Msg("http_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	}

	log.Info().Msg("shutting_down")
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("http_shutdown_failed")
	}

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shCtx.Done():
		// running producers finalize their streams as error on abort
		log.Warn().Msg("aborting_running_jobs")
		abortJobs()
		<-stopped
	}
	return nil
}
