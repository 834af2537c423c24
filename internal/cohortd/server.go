package cohortd

import (
	"context"
	"fmt"
	"log"

	"github.com/kiosk404/cohort/internal/cohortd/config"
	"github.com/kiosk404/cohort/internal/cohortd/handler/middleware"
	"github.com/kiosk404/cohort/internal/cohortd/options"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation"
	delegationEntity "github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	delegationService "github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/events"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona"
	"github.com/kiosk404/cohort/internal/cohortd/service/review"
	"github.com/kiosk404/cohort/internal/cohortd/service/tools"
	genericapiserver "github.com/kiosk404/cohort/internal/pkg/server"
	storage "github.com/kiosk404/cohort/internal/pkg/storage/boltdb"
	"github.com/kiosk404/cohort/pkg/http/shutdown"
	"github.com/kiosk404/cohort/pkg/http/shutdown/posixsignal"
	"github.com/kiosk404/cohort/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// healthService is the gRPC health service name reported by cohortd.
const healthService = "cohort.v1.Delegation"

type apiServer struct {
	gs               *shutdown.GracefulShutdown
	gRPCAPIServer    *genericapiserver.GRPCAPIServer
	genericAPIServer *genericapiserver.GenericAPIServer
	grpcEnabled      bool
	authConfig       *middleware.AuthConfig

	db               *storage.DB
	eventsModule     *events.Module
	ledgerModule     *ledger.Module
	llmModule        *llm.Module
	personaModule    *persona.Module
	toolsModule      *tools.Module
	reviewModule     *review.Module
	batchModule      *batch.Module
	delegationModule *delegation.Module
}

type preparedAPIServer struct {
	*apiServer
}

// ExtraConfig defines extra configuration for the API server.
type ExtraConfig struct {
	Addr       string
	MaxMsgSize int
	Enabled    bool
}

type completedExtraConfig struct {
	*ExtraConfig
}

// Complete fills in any fields not set that are required to have valid data and can be derived from other fields.
func (c *ExtraConfig) complete() *completedExtraConfig {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8791"
	}

	return &completedExtraConfig{c}
}

// New create a grpcAPIServer instance.
func (c *completedExtraConfig) New() (*genericapiserver.GRPCAPIServer, error) {
	opts := []grpc.ServerOption{grpc.MaxRecvMsgSize(c.MaxMsgSize)}
	grpcServer := grpc.NewServer(opts...)

	reflection.Register(grpcServer)

	return genericapiserver.NewGRPCAPIServer(grpcServer, c.Addr), nil
}

func createAPIServer(cfg *config.Config) (*apiServer, error) {
	gs := shutdown.New()
	gs.AddShutdownManager(posixsignal.NewPosixSignalManager())

	genericConfig, err := buildGenericConfig(cfg)
	if err != nil {
		return nil, err
	}

	extraConfig, err := buildExtraConfig(cfg)
	if err != nil {
		return nil, err
	}

	genericServer, err := genericConfig.Complete().New()
	if err != nil {
		return nil, err
	}
	extraServer, err := extraConfig.complete().New()
	if err != nil {
		return nil, err
	}

	server := &apiServer{
		gs:               gs,
		genericAPIServer: genericServer,
		gRPCAPIServer:    extraServer,
		grpcEnabled:      extraConfig.Enabled,
		authConfig: &middleware.AuthConfig{
			Enabled:    cfg.AuthOptions.Enabled,
			Token:      cfg.AuthOptions.Token,
			AllowLocal: cfg.AuthOptions.AllowLocal,
		},
	}
	if err := server.initModules(context.Background(), cfg); err != nil {
		server.closeModules()
		return nil, err
	}

	return server, nil
}

// initModules builds the domain modules in dependency order. On error the
// modules built so far are left on s for closeModules.
func (s *apiServer) initModules(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreOptions.Type == options.StoreBoltDB {
		db, err := storage.Open(cfg.StoreOptions.BoltDBPath)
		if err != nil {
			return fmt.Errorf("failed to open store %q: %w", cfg.StoreOptions.BoltDBPath, err)
		}
		s.db = db
		logger.Info("[Cohortd] BoltDB store opened at %s", cfg.StoreOptions.BoltDBPath)
	} else {
		logger.Warn("[Cohortd] in-memory store selected, tasks do not survive a restart")
	}

	var err error
	eventsCfg := &events.Config{
		BufferSize:    cfg.EventOptions.BufferSize,
		NATSURL:       cfg.EventOptions.NATSURL,
		SubjectPrefix: cfg.EventOptions.SubjectPrefix,
		DB:            s.db,
	}
	if s.eventsModule, err = eventsCfg.Complete().New(ctx); err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}

	ledgerCfg := &ledger.Config{
		Driver:    cfg.LedgerOptions.Driver,
		Path:      cfg.LedgerOptions.Path,
		Publisher: s.eventsModule.Bus,
	}
	if s.ledgerModule, err = ledgerCfg.Complete().New(); err != nil {
		return fmt.Errorf("failed to initialize cost ledger: %w", err)
	}

	llmCfg := &llm.Config{
		ModelOptions:        cfg.ModelOptions,
		BatchDiscount:       cfg.BatchOptions.Discount,
		DeferredConcurrency: cfg.BatchOptions.DeferredConcurrency,
	}
	if s.llmModule, err = llmCfg.Complete().New(ctx, s.ledgerModule.Recorder); err != nil {
		return fmt.Errorf("failed to initialize LLM module: %w", err)
	}
	logger.Info("[Cohortd] LLM module initialized successfully")

	personaCfg := &persona.Config{
		Dir:      cfg.PersonaOptions.Dir,
		Watch:    cfg.PersonaOptions.Watch,
		Debounce: cfg.PersonaOptions.Debounce,
	}
	if s.personaModule, err = personaCfg.Complete().New(ctx, s.llmModule.Gateway); err != nil {
		return fmt.Errorf("failed to load personas from %q: %w", cfg.PersonaOptions.Dir, err)
	}

	toolsCfg := &tools.Config{
		SandboxRoot:   cfg.ToolOptions.SandboxRoot,
		MCPConfigFile: cfg.ToolOptions.MCPConfigFile,
	}
	if s.toolsModule, err = toolsCfg.Complete().New(ctx); err != nil {
		return fmt.Errorf("failed to initialize tools: %w", err)
	}

	var reviewer delegationService.Reviewer
	if cfg.ReviewOptions.Enabled {
		reviewCfg := &review.Config{
			RubricDir:        cfg.ReviewOptions.RubricDir,
			DefaultThreshold: cfg.ReviewOptions.DefaultThreshold,
			DefaultReviewer:  cfg.ReviewOptions.DefaultReviewer,
		}
		if s.reviewModule, err = reviewCfg.Complete().New(s.llmModule.Gateway, s.personaModule.Catalog); err != nil {
			return fmt.Errorf("failed to initialize quality gate: %w", err)
		}
		reviewer = s.reviewModule.Gate
	} else {
		logger.Warn("[Cohortd] quality gate disabled, artifacts are delivered unreviewed")
	}

	batchCfg := &batch.Config{
		Debounce:         cfg.BatchOptions.Debounce,
		MaxWait:          cfg.BatchOptions.MaxWait,
		MaxBatchSize:     cfg.BatchOptions.MaxBatchSize,
		PollInterval:     cfg.BatchOptions.PollInterval,
		MaxFetchAttempts: cfg.BatchOptions.MaxFetchAttempts,
		MemberTimeout:    cfg.BatchOptions.MemberTimeout,
		DB:               s.db,
	}
	if s.batchModule, err = batchCfg.Complete().New(ctx, s.llmModule.Gateway, s.ledgerModule.Recorder, s.eventsModule.Bus); err != nil {
		return fmt.Errorf("failed to initialize batch engine: %w", err)
	}

	delegationCfg := &delegation.Config{
		ReworkLimit:      cfg.DelegationOptions.ReworkLimit,
		SequentialWindow: cfg.DelegationOptions.SequentialWindow,
		MaxConcurrency:   cfg.DelegationOptions.MaxConcurrency,
		SubtaskTimeout:   cfg.DelegationOptions.SubtaskTimeout,
		// A stale job is only expired on the first poll past the member timeout.
		BatchTimeout: cfg.BatchOptions.MemberTimeout + cfg.BatchOptions.PollInterval,
		ToolBudget:   cfg.DelegationOptions.ToolBudget,
		Routing: &delegationEntity.RoutingPolicy{
			Margin:   cfg.DelegationOptions.AmbiguityMargin,
			MinScore: cfg.DelegationOptions.MinScore,
		},
		ReviewCollapsed: cfg.DelegationOptions.ReviewCollapsed,
		Recover:         cfg.DelegationOptions.Recover,
		DB:              s.db,
	}
	s.delegationModule, err = delegationCfg.Complete().New(ctx, delegationService.Dependencies{
		Gateway:  s.llmModule.Gateway,
		Personas: s.personaModule.Catalog,
		Tools:    s.toolsModule.Invoker,
		Reviewer: reviewer,
		Bus:      s.eventsModule.Bus,
		Batch:    s.batchModule.Engine,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize delegation engine: %w", err)
	}
	logger.Info("[Cohortd] delegation engine initialized successfully")
	return nil
}

// closeModules releases modules in reverse construction order.
func (s *apiServer) closeModules() {
	if s.delegationModule != nil {
		s.delegationModule.Close()
	}
	if s.batchModule != nil {
		s.batchModule.Close()
	}
	if s.toolsModule != nil {
		s.toolsModule.Close()
	}
	if s.personaModule != nil {
		s.personaModule.Close()
	}
	if s.llmModule != nil {
		s.llmModule.Close()
	}
	if s.ledgerModule != nil {
		if err := s.ledgerModule.Close(); err != nil {
			logger.Warn("[Cohortd] failed to close cost ledger: %v", err)
		}
	}
	if s.eventsModule != nil {
		s.eventsModule.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logger.Warn("[Cohortd] failed to close store: %v", err)
		}
	}
}

func (s *apiServer) PrepareRun() preparedAPIServer {
	initRouter(s.genericAPIServer.Engine, &routerDeps{
		tasks:      s.delegationModule.Engine,
		taskCosts:  s.ledgerModule.Ledger,
		personas:   s.personaModule.Catalog,
		costs:      s.ledgerModule.Ledger,
		batches:    s.batchModule.Engine,
		models:     s.llmModule.Gateway,
		authConfig: s.authConfig,
	})

	s.gs.AddShutdownCallback(shutdown.Func(func(string) error {
		if s.grpcEnabled {
			s.gRPCAPIServer.SetServingStatus(healthService, false)
		}
		s.closeModules()
		if s.grpcEnabled {
			s.gRPCAPIServer.Stop()
		}
		s.genericAPIServer.Close()
		return nil
	}))
	return preparedAPIServer{s}
}

func (s preparedAPIServer) Run() error {
	if s.grpcEnabled {
		s.gRPCAPIServer.SetServingStatus(healthService, true)
		go s.gRPCAPIServer.Run()
	}

	// start shutdown managers
	if err := s.gs.Start(); err != nil {
		log.Fatalf("start shutdown manager failed: %s", err.Error())
	}

	return s.genericAPIServer.Run()
}

func buildGenericConfig(cfg *config.Config) (genericConfig *genericapiserver.Config, lastErr error) {
	genericConfig = genericapiserver.NewConfig()
	if lastErr = cfg.GenericServerRunOptions.ApplyTo(genericConfig); lastErr != nil {
		return
	}

	return
}

func buildExtraConfig(cfg *config.Config) (*ExtraConfig, error) {
	return &ExtraConfig{
		Addr:       fmt.Sprintf("%s:%d", cfg.GRPCOptions.BindAddress, cfg.GRPCOptions.BindPort),
		MaxMsgSize: cfg.GRPCOptions.MaxMsgSize,
		Enabled:    cfg.GRPCOptions.Enabled,
	}, nil
}
