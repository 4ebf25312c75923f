package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/itzam-ai/itzam-sub000/internal/api/handlers"
	"github.com/itzam-ai/itzam-sub000/internal/chunker"
	"github.com/itzam-ai/itzam-sub000/internal/config"
	"github.com/itzam-ai/itzam-sub000/internal/converter"
	"github.com/itzam-ai/itzam-sub000/internal/jobs"
	"github.com/itzam-ai/itzam-sub000/internal/openai"
	"github.com/itzam-ai/itzam-sub000/internal/progress"
	"github.com/itzam-ai/itzam-sub000/internal/repository"
	"github.com/itzam-ai/itzam-sub000/internal/server"
	"github.com/itzam-ai/itzam-sub000/internal/service"
	"github.com/itzam-ai/itzam-sub000/internal/storage"
	"github.com/itzam-ai/itzam-sub000/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion API server",
		Long:  "Start the itzam ingestion API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Println("connected to redis")

	provider, err := progress.NewRedisProvider(redisClient)
	if err != nil {
		return fmt.Errorf("failed to create progress provider: %w", err)
	}
	publisher := progress.NewPublisher(provider)

	resourceRepo := repository.NewResourceRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	var objectStore converter.ObjectStore
	var storageClient service.StorageClientInterface
	if cfg.HasS3() {
		s3Config := storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		}
		s3Client, err := storage.NewS3Client(ctx, s3Config)
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		objectStore = s3Client
		storageClient = &S3StorageAdapter{client: s3Client}
	}

	if !cfg.HasOpenAI() {
		log.Println("warning: OPENAI_API_KEY not set, embedding calls will fail")
	}
	embeddingClient := openai.NewClient(cfg.OpenAIAPIKey)

	var chunkerClient chunker.Client
	if cfg.HasExternalChunker() {
		chunkerClient = chunker.NewHTTPClient(cfg.ChunkerServiceURL, cfg.PipelineTimeout)
		log.Printf("using external chunker at %s", cfg.ChunkerServiceURL)
	} else {
		fetcher := converter.NewFetcher(objectStore)
		chunkerClient = chunker.NewLocal(fetcher, converter.NewConverter(), embeddingClient, chunkRepo)
		log.Println("using in-process chunker")
	}

	pipeline := service.NewEmbeddingPipeline(
		chunkerClient,
		embeddingClient,
		resourceRepo,
		chunkRepo,
		publisher,
	).WithTimeout(cfg.PipelineTimeout)

	registrar := service.NewRegistrarService(resourceRepo, txRunner, pipeline)

	var uploadSvc *service.UploadService
	if storageClient != nil {
		uploadSvc = service.NewUploadService(storageClient)
		registrar = registrar.WithUploads(uploadSvc)
	}

	rescrapeProcessor := jobs.NewRescrapeProcessor(resourceRepo, pipeline)
	rescrapeWorker := jobs.NewWorker(rescrapeProcessor, cfg.RescrapePollInterval)
	go rescrapeWorker.Start(ctx)
	log.Println("rescrape worker started")

	// Assign through the interface variable only when configured, so the
	// handler sees a true nil otherwise.
	var handlerUploads handlers.UploadService
	if uploadSvc != nil {
		handlerUploads = uploadSvc
	}

	routerCfg := server.RouterConfig{
		ResourceHandler: handlers.NewResourceHandler(registrar, handlerUploads),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	rescrapeWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// S3StorageAdapter bridges the storage client to the service-layer interface.
type S3StorageAdapter struct {
	client *storage.S3Client
}

func (a *S3StorageAdapter) GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error) {
	return a.client.GenerateUploadURL(ctx, key, contentType)
}

func (a *S3StorageAdapter) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	return a.client.GenerateDownloadURL(ctx, key)
}

func (a *S3StorageAdapter) DeleteObject(ctx context.Context, key string) error {
	return a.client.DeleteObject(ctx, key)
}

func (a *S3StorageAdapter) HeadObject(ctx context.Context, key string) (*service.ObjectMetadata, error) {
	meta, err := a.client.HeadObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return &service.ObjectMetadata{
		ContentLength: meta.ContentLength,
		ContentType:   meta.ContentType,
		ETag:          meta.ETag,
	}, nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
