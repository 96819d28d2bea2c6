package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/martijn/vaultkeep/internal/core/port"
	"github.com/martijn/vaultkeep/internal/core/repository"
	"github.com/martijn/vaultkeep/internal/core/service"
	"github.com/martijn/vaultkeep/internal/infrastructure/blob"
	"github.com/martijn/vaultkeep/internal/infrastructure/clock"
	"github.com/martijn/vaultkeep/internal/infrastructure/memory"
	"github.com/martijn/vaultkeep/internal/infrastructure/postgres"
	"github.com/martijn/vaultkeep/internal/infrastructure/sqlite"
	"github.com/martijn/vaultkeep/internal/logging"
	"github.com/martijn/vaultkeep/internal/metrics"
	"github.com/martijn/vaultkeep/pkg/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vaultkeep",
	Short: "VaultKeep - backup and restore engine",
	Long: `VaultKeep snapshots the application's record collections and uploaded
files into checksummed artifacts and restores them on demand.

It provides:
- Manual, scheduled and emergency backups with live progress
- Artifact validation against stored checksums
- Partial restores with per-collection results
- Retention by age and by count
- REST API with OAuth2 client credentials`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/vaultkeep/config.yml)")
}

// Services holds everything a command needs
type Services struct {
	DB           *sqlite.DB
	Pool         *pgxpool.Pool
	Clock        *clock.CronClock
	Registry     *prometheus.Registry
	Logger       zerolog.Logger
	ActivityRepo repository.ActivityRepository
	AuthService  *service.AuthService
	Engine       *service.Engine

	logCloser io.Closer
}

// initServices builds the engine and its collaborators from cfg. Backing
// stores are chosen here once and stay fixed for the life of the process.
func initServices(ctx context.Context) (*Services, error) {
	logger, logCloser, err := logging.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	s := &Services{Logger: logger, logCloser: logCloser}

	s.DB, err = sqlite.New(cfg.DBPath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	records, err := s.openRecordStore(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	blobs, err := openBlobStore(logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Clock, err = clock.NewIntervalClock(cfg.TickInterval, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.ActivityRepo = sqlite.NewActivityRepository(s.DB)
	s.AuthService = service.NewAuthService(sqlite.NewClientRepository(s.DB), cfg.JWTSecretKey, cfg.JWTAlgorithm, cfg.TokenTTL)

	activity := logging.Fanout{
		logging.NewStoredActivity(s.ActivityRepo, s.Clock.Now, logger),
		logging.NewZerologActivity(logger),
	}

	var engine *service.Engine
	instruments := metrics.New(s.Registry, func() bool { return engine != nil && engine.Running() })

	engine, err = service.NewEngine(service.Deps{
		Backups:          sqlite.NewBackupRepository(s.DB),
		Configs:          sqlite.NewConfigRepository(s.DB),
		Restores:         sqlite.NewRestoreRepository(s.DB),
		Records:          records,
		Blobs:            blobs,
		Auth:             service.ScopeAuth{},
		Clock:            s.Clock,
		Activity:         activity,
		Metrics:          instruments,
		Collections:      cfg.Collections,
		ManifestPath:     cfg.FileManifestPath,
		ExpiredAuditDays: cfg.ExpiredAuditDays,
		Logger:           logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	s.Engine = engine

	return s, nil
}

func (s *Services) openRecordStore(ctx context.Context) (port.RecordStore, error) {
	switch cfg.RecordStore {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.Pool = pool
		metrics.RegisterPgxPoolMetrics(s.Registry, pool)
		return postgres.NewRecordStore(ctx, pool)
	case "memory":
		s.Logger.Warn().Msg("using the in-memory record store, live data is lost on exit")
		return memory.NewRecordStore(), nil
	default:
		return sqlite.NewRecordStore(s.DB), nil
	}
}

func openBlobStore(logger zerolog.Logger) (port.BlobStore, error) {
	if cfg.BlobStore == "s3" {
		return blob.NewS3Store(blob.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		}, logger)
	}
	return blob.NewFSStore(cfg.BlobDir)
}

// Close releases all resources
func (s *Services) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.logCloser != nil {
		s.logCloser.Close()
	}
}

// operatorContext runs a command as the local operator, which holds every
// capability.
func operatorContext(ctx context.Context) context.Context {
	return service.WithActor(ctx, service.LocalOperator)
}
