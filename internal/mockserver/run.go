package mockserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuanbt/vickyboard/internal/agent"
	"github.com/tuanbt/vickyboard/internal/auth"
	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/metrics"
	"github.com/tuanbt/vickyboard/internal/orchestrator"
	"github.com/tuanbt/vickyboard/internal/task"
	"github.com/tuanbt/vickyboard/internal/tasklog"
	"golang.org/x/sync/errgroup"
)

// Backend is a fully wired development backend.
type Backend struct {
	Server       *Server
	Orchestrator *orchestrator.Orchestrator
	Auth         *auth.AuthService
	Store        *task.Manager
}

// NewBackend wires the task store, the scheduler and the HTTP server for cfg.
// workDir is the working directory of task commands.
func NewBackend(cfg *config.MockConfig, logger *slog.Logger, workDir string) (*Backend, error) {
	store := task.NewManager(cfg.TasksFile)
	if err := store.EnsureFile(); err != nil {
		return nil, fmt.Errorf("failed to prepare tasks file: %w", err)
	}

	authService, err := auth.NewAuthService(&auth.Config{
		JWTSecret:           cfg.JWTSecret,
		Issuer:              "vickyboard-mock",
		AccessTokenDuration: time.Duration(cfg.TokenTTLMinutes) * time.Minute,
		Users:               cfg.Users,
	})
	if err != nil {
		return nil, err
	}

	broker := NewBroker(logger.With("component", "broker"))
	book := tasklog.NewBook()
	m := metrics.New()
	driver := agent.New(cfg, logger.With("component", "driver"), workDir)
	orch := orchestrator.New(cfg, store, driver, broker, book, m, logger.With("component", "orchestrator"))

	srv := New(cfg, Deps{
		Store:        store,
		Orchestrator: orch,
		Broker:       broker,
		Logs:         book,
		Auth:         authService,
		Metrics:      m,
	}, logger.With("component", "http"))

	return &Backend{
		Server:       srv,
		Orchestrator: orch,
		Auth:         authService,
		Store:        store,
	}, nil
}

// Run serves the API and runs tasks until ctx is done.
func (b *Backend) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Orchestrator.Run(ctx)
	})
	g.Go(func() error {
		return b.Server.ListenAndServe(ctx)
	})
	return g.Wait()
}
