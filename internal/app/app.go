// Package app wires the service together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "ai-voice-command-service/internal/api/grpc"
	"ai-voice-command-service/internal/config"
	"ai-voice-command-service/internal/events"
	httpapi "ai-voice-command-service/internal/http"
	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/observability"
	"ai-voice-command-service/internal/observability/logging"
	"ai-voice-command-service/internal/observability/metrics"
	"ai-voice-command-service/internal/schema"
	"ai-voice-command-service/internal/service/capture"
	"ai-voice-command-service/internal/service/conversation"
	"ai-voice-command-service/internal/service/gate"
	"ai-voice-command-service/internal/service/refine"
	"ai-voice-command-service/internal/service/refine/llm"
	"ai-voice-command-service/internal/service/refine/mock"
	"ai-voice-command-service/internal/service/trigger"
	"ai-voice-command-service/internal/store"
)

const shutdownTimeout = 15 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      *zerolog.Logger
	Cfg         *config.Config

	Store     store.Store
	Refiner   refine.Refiner
	Publisher *events.Publisher
	Engine    *conversation.Engine
	Consumer  *events.Consumer

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	obsServer  *observability.Server
}

// New constructs the application from the provided configuration. It
// opens the store but does not start listening.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{Cfg: cfg}
	a.setupLogger()

	m := metrics.DefaultMetrics

	phrases, err := trigger.LoadFile(cfg.Triggers.PhrasesFile)
	if err != nil {
		return nil, err
	}

	a.Store, err = openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a.Refiner, err = newRefiner(cfg.Refine)
	if err != nil {
		a.Store.Close()
		return nil, err
	}

	a.Publisher = events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicCharts:      cfg.Kafka.TopicCharts,
		TopicAutomations: cfg.Kafka.TopicAutomations,
		Principal:        cfg.Kafka.Principal,
	})

	policy := gate.DefaultPolicy()
	policy.ChartMinConfidence = cfg.Gate.ChartMinConfidence
	policy.AutomationMinConfidence = cfg.Gate.AutomationMinConfidence

	a.Engine, err = conversation.New(conversation.Config{
		Triggers: phrases,
		Limits: capture.Limits{
			MaxDuration: cfg.CaptureLimits.MaxDuration,
			MaxLines:    cfg.CaptureLimits.MaxLines,
		},
		Policy:        policy,
		IdleTTL:       cfg.Conversation.IdleTTL,
		RefineTimeout: cfg.Refine.Timeout,
		InboxSize:     cfg.Conversation.InboxSize,
		MaxBlockBytes: cfg.CaptureLimits.MaxBlockBytes,
	}, conversation.Deps{
		Refiner:   a.Refiner,
		Store:     a.Store,
		Publisher: a.Publisher,
		Metrics:   m,
	})
	if err != nil {
		a.Publisher.Close()
		a.Store.Close()
		return nil, fmt.Errorf("conversation engine: %w", err)
	}

	validator := schema.New(schema.Limits{
		MaxTextBytes: cfg.CaptureLimits.MaxTextBytes,
		MaxIDBytes:   schema.DefaultLimits().MaxIDBytes,
	})

	a.Consumer = events.NewConsumer(events.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.TopicChunks,
		GroupID:     cfg.Kafka.GroupID,
		Enabled:     cfg.Kafka.Enabled,
		MaxInFlight: cfg.Kafka.MaxInFlight,
	}, validator, a.handleChunk)

	a.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	a.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.health)
	grpcapi.Register(a.grpcServer, a.Engine, validator, m)
	reflection.Register(a.grpcServer)

	a.httpServer = &http.Server{
		Addr: ":" + cfg.HTTP.Port,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Engine:       a.Engine,
			Validator:    validator,
			Metrics:      m,
			Ready:        a.Engine.Ready,
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	a.obsServer = observability.NewServer(":"+cfg.Observability.MetricsPort, a.Engine.Ready)

	a.Logger.Info().
		Str("store", cfg.Store.Driver).
		Str("refiner", a.Refiner.Name()).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("AI voice command service application created")
	return a, nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	a.Logger = logging.WithComponent("application")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite", "":
		s, err := store.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newRefiner(cfg config.RefineConfig) (refine.Refiner, error) {
	switch cfg.Provider {
	case "mock":
		return mock.New(), nil
	case "llm":
		if cfg.Endpoint == "" {
			return nil, errors.New("REFINE_ENDPOINT is required for the llm refiner")
		}
		return llm.New(llm.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
		}), nil
	default:
		return nil, fmt.Errorf("unknown refine provider %q", cfg.Provider)
	}
}

// handleChunk advances state in partition order and defers the finish
// step so a slow refinement does not hold up the partition.
func (a *Application) handleChunk(ctx context.Context, c models.Chunk) (func(context.Context), error) {
	step, err := a.Engine.Advance(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(step.Captures) == 0 && len(step.Commands) == 0 {
		return nil, nil
	}
	return func(ctx context.Context) { a.Engine.Finish(ctx, step) }, nil
}

// Run serves gRPC, HTTP and the Kafka consumer until ctx is cancelled,
// then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("AI voice command service starting")

	grpcLis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		a.Shutdown()
		return fmt.Errorf("listen grpc: %w", err)
	}

	a.obsServer.Start()
	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().Str("port", a.Cfg.Service.GRPCPort).Msg("gRPC server started")
		if err := a.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.Logger.Info().Str("port", a.Cfg.HTTP.Port).Msg("HTTP server started")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Consumer.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.stopServers()
		return nil
	})

	err = g.Wait()
	a.Shutdown()
	return err
}

func (a *Application) stopServers() {
	a.Logger.Info().Msg("Stopping servers")
	a.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("HTTP server shutdown")
	}

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpcServer.Stop()
	}

	if err := a.obsServer.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Observability server shutdown")
	}
}

// Shutdown releases everything after the servers and consumer stopped.
// Queued chunks are drained before the store closes.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("AI voice command service shutting down")

	if err := a.Consumer.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Consumer close")
	}
	if err := a.Engine.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Engine close")
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Publisher close")
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Store close")
	}
}
