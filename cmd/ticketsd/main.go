package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/ticket-tracker/internal/async"
	"github.com/joseph-ayodele/ticket-tracker/internal/cache"
	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/events"
	"github.com/joseph-ayodele/ticket-tracker/internal/export"
	"github.com/joseph-ayodele/ticket-tracker/internal/extract"
	"github.com/joseph-ayodele/ticket-tracker/internal/ingest"
	"github.com/joseph-ayodele/ticket-tracker/internal/ocr"
	"github.com/joseph-ayodele/ticket-tracker/internal/pipeline"
	"github.com/joseph-ayodele/ticket-tracker/internal/repository"
	"github.com/joseph-ayodele/ticket-tracker/internal/server"
	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

func main() {
	zlog, _ := zap.NewProduction()
	defer zlog.Sync()
	log := zlog.Sugar()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	policy, _ := ticket.ParsePolicy(cfg.Parse.TrainNumberPolicy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("opening DB: %v", err)
	}
	defer st.Close()
	if err := st.HealthCheck(ctx, cfg.Database.DialTimeout); err != nil {
		log.Fatalf("DB health failed: %v", err)
	}
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Infow("DB ready", "dialect", st.Dialect())

	files := repository.NewSourceFileRepository(st, logger)
	jobs := repository.NewExtractJobRepository(st, logger)
	var tickets repository.TicketRepository = repository.NewTicketRepository(st, logger)
	if cfg.Store.Backend == "mongo" {
		mc, err := repository.ConnectMongo(ctx, cfg.Store.MongoURI, 5*time.Second, logger)
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		mt := repository.NewMongoTicketRepository(mc.Database(cfg.Store.MongoDB).Collection("tickets"), logger)
		if err := mt.EnsureIndexes(ctx); err != nil {
			log.Fatalf("mongo indexes: %v", err)
		}
		tickets = mt
		log.Infow("ticket store: mongo", "db", cfg.Store.MongoDB)
	}

	var parseCache cache.ParseCache = cache.Nop{}
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		}, logger)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		parseCache = rc
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.AMQPURL != "" {
		ap, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Queue, logger)
		if err != nil {
			log.Fatalf("amqp: %v", err)
		}
		defer ap.Close()
		publisher = ap
	}

	ocrx := ocr.NewExtractor(ocr.Config{
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.Lang,
		TessdataDir:         cfg.OCR.TessdataDir,
		HeicConverter:       cfg.OCR.HeicConverter,
		EnableTSVConfidence: cfg.OCR.TSVConfidence,
		ArtifactCacheDir:    cfg.OCR.ArtifactCacheDir,
	}, logger)
	ocrStage := pipeline.NewOCRStage(files, jobs, extract.NewOCRAdapter(ocrx, logger), logger)
	parseStage := pipeline.NewParseStage(logger, pipeline.Config{MinConfidence: cfg.Parse.MinConfidence}, jobs, tickets,
		extract.NewRulesExtractor(ticket.NewParser(ticket.WithTrainNumberPolicy(policy))), parseCache, publisher)
	proc := pipeline.NewProcessor(logger, ingest.NewFSIngestor(files, logger), jobs, tickets, ocrStage, parseStage)

	queue := async.NewProcessorQueue(proc, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
	)

	svc := server.NewService(server.ServiceDeps{
		Processor: proc,
		Queue:     queue,
		Tracker:   queue.Tracker(),
		Jobs:      jobs,
		Tickets:   tickets,
		Export:    export.NewService(tickets, logger),
		UploadDir: cfg.Server.UploadDir,
		Logger:    logger,
	})

	if len(cfg.Ingest.WatchDirs) > 0 {
		paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       cfg.Ingest.WatchDirs,
			InitialScan: true,
			SkipHidden:  cfg.Ingest.SkipHidden,
			Debounce:    cfg.Ingest.Debounce,
			Logger:      logger,
		})
		if err != nil {
			log.Fatalf("watcher: %v", err)
		}
		go feedWatcher(ctx, svc, paths, errs, logger)
		log.Infow("watching", "dirs", cfg.Ingest.WatchDirs)
	}

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(server.UnaryInterceptor(zlog)))
		hs := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, hs)
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)
		server.RegisterTicketServiceServer(grpcServer, server.NewGRPCHandler(svc))

		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
		log.Infof("gRPC serving on %s", cfg.Server.GRPCAddr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				log.Errorf("grpc serve: %v", err)
				stop()
			}
		}()
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		rc := server.RouterConfig{Service: svc, Logger: logger, CORSOrigins: cfg.Server.CORSOrigins}
		if cfg.Auth.Issuer != "" {
			verify, err := server.NewOIDCVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID)
			if err != nil {
				log.Fatalf("oidc: %v", err)
			}
			rc.Verify = verify
		}
		httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           server.NewRouter(rc),
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Infof("HTTP serving on %s", cfg.Server.HTTPAddr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http serve: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	queue.Shutdown(shutdownCtx)
	log.Info("stopped.")
}

// feedWatcher queues every screenshot the watcher reports. Content that was
// already parsed is skipped.
func feedWatcher(ctx context.Context, svc *server.Service, paths <-chan string, errs <-chan error, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watch.error", "error", err)
		case p, ok := <-paths:
			if !ok {
				return
			}
			res, err := svc.SubmitWatched(ctx, p)
			switch {
			case err != nil:
				logger.Warn("watch.submit.failed", "path", p, "job_id", res.JobID, "error", err)
			case res.Deduplicated:
				logger.Debug("watch.dedup", "path", p, "job_id", res.JobID)
			}
		}
	}
}
