// Package container provides dependency injection and lifecycle management
// for the provisioning service.
package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/dispatcher"
	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/application/service"
	"github.com/garyjia/b2b-provisioning/internal/application/workflow"
	"github.com/garyjia/b2b-provisioning/internal/config"
	"github.com/garyjia/b2b-provisioning/internal/infrastructure/external/backoffice"
	infraLark "github.com/garyjia/b2b-provisioning/internal/infrastructure/external/lark"
	"github.com/garyjia/b2b-provisioning/internal/infrastructure/messaging"
	"github.com/garyjia/b2b-provisioning/internal/infrastructure/persistence/repository"
	"github.com/garyjia/b2b-provisioning/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/b2b-provisioning/migrations"
	"github.com/garyjia/b2b-provisioning/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqldb.DB
}

// ClientBundle holds the back-office clients.
type ClientBundle struct {
	Cases     port.CaseLookup
	Directory port.UserDirectory
	Registry  port.EquipmentRegistry
}

// ProvideDatabase opens the configured database and runs pending migrations
// when auto_migrate is set.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == string(database.DriverSQLite) {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(database.Config{
		Driver:          database.Driver(cfg.Driver),
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		migrator := database.NewMigrator(db, logger)
		if err := migrator.RunMigrations(context.Background(), migrations.FS); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqldb.NewDB(db, logger),
	}, nil
}

// ProvideRepositories creates all repositories on top of the transaction manager.
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Requests:  repository.NewInstallRequestRepository(db, logger),
		Users:     repository.NewUserAccountRepository(db, logger),
		Equipment: repository.NewEquipmentRepository(db, logger),
		History:   repository.NewHistoryRepository(db, logger),
	}, nil
}

// ProvideBackofficeClients creates the case, directory and registry clients.
func ProvideBackofficeClients(cfg *config.BackofficeConfig, logger *zap.Logger) (*ClientBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backoffice config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	clientCfg := backoffice.Config{
		CaseURL:      cfg.CaseURL,
		DirectoryURL: cfg.DirectoryURL,
		EquipmentURL: cfg.EquipmentURL,
		Token:        cfg.Token,
		Timeout:      cfg.Timeout,
		RetryCount:   cfg.RetryCount,
	}

	return &ClientBundle{
		Cases:     backoffice.NewCaseClient(clientCfg, logger.Named("cases")),
		Directory: backoffice.NewDirectoryClient(clientCfg, logger.Named("directory")),
		Registry:  backoffice.NewRegistryClient(clientCfg, logger.Named("registry")),
	}, nil
}

// ProvideNotifier creates the Lark notifier. Returns nil when notifications are disabled.
func ProvideNotifier(cfg *config.LarkConfig, logger *zap.Logger) (port.Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lark config is required")
	}
	if !cfg.Enabled {
		logger.Info("Lark notifications disabled")
		return nil, nil
	}

	client := infraLark.NewSDKClient(infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		ChatID:    cfg.ChatID,
		Timeout:   cfg.APITimeout,
	}, logger)
	return infraLark.NewNotifier(client, cfg.ChatID, logger.Named("lark")), nil
}

// ProvideStreamPublisher connects to Redis. Returns nil when the event stream is disabled.
func ProvideStreamPublisher(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*messaging.StreamPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if !cfg.Enabled {
		logger.Info("Redis event stream disabled")
		return nil, nil
	}

	streamCfg := messaging.StreamConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Stream:   cfg.Stream,
		MaxLen:   cfg.MaxLen,
	}
	publisher := messaging.NewStreamPublisher(messaging.NewRedisClient(streamCfg), streamCfg, logger.Named("stream"))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := publisher.Ping(pingCtx); err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return publisher, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&dispatcherLoggerAdapter{logger: logger.Named("dispatcher")}),
	), nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	Clients    *ClientBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Config     *config.WorkflowConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Clients == nil {
		return nil, fmt.Errorf("back-office clients are required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return workflow.NewEngine(workflow.Deps{
		Requests:  deps.Repos.Requests,
		Users:     deps.Repos.Users,
		Equipment: deps.Repos.Equipment,
		History:   deps.Repos.History,
		Tx:        deps.TxManager,
		Cases:     deps.Clients.Cases,
		Directory: deps.Clients.Directory,
		Registry:  deps.Clients.Registry,
	},
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithActionTimeout(deps.Config.ActionTimeout),
		workflow.WithFinalizeWithoutSchedule(deps.Config.AllowFinalizeWithoutSchedule),
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger.Named("workflow")}),
	)
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Engine     workflow.Engine
	Dispatcher dispatcher.Dispatcher
	Notifier   port.Notifier
	Publisher  *messaging.StreamPublisher
	Logger     *zap.Logger
}

// ProvideServices creates the application services and subscribes the
// event consumers to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}
	bundle := &ServiceBundle{
		Requests: service.NewRequestService(deps.Engine, serviceLogger),
	}

	if deps.Notifier != nil {
		bundle.Notification = service.NewNotificationService(deps.Notifier, serviceLogger)
		bundle.Notification.Register(deps.Dispatcher)
	}
	if deps.Publisher != nil {
		deps.Publisher.Register(deps.Dispatcher)
	}

	return bundle, nil
}
