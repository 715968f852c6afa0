package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tuanbt/vickyboard/cmd/vickyboard/tui"
	"github.com/tuanbt/vickyboard/internal/dashboard"
	"github.com/tuanbt/vickyboard/internal/logger"
)

func (a *app) runTUI(ctx context.Context) error {
	// The terminal belongs to the UI, so logs only go to the file.
	log, closer, err := logger.NewEmbeddedLogger(a.cfg, "vickyboard")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var current atomic.Pointer[dashboard.Session]
	client, err := dashboard.NewClient(ctx, a.cfg, log, func() {
		if s := current.Load(); s != nil {
			log.Info("access token changed, refreshing")
			s.Reconnect(ctx)
		}
	})
	if err != nil {
		return err
	}

	session := dashboard.NewSession(ctx, client, a.cfg, log)
	defer session.Close()
	current.Store(session)

	if err := session.Bootstrap(ctx); err != nil {
		if errors.Is(err, dashboard.ErrNotSignedIn) {
			return fmt.Errorf("%w: set token or token_file in %s", err, a.configPath)
		}
		return err
	}
	session.Start(ctx)
	log.Info("dashboard started", "api_url", a.cfg.APIURL, "user", session.User().FullName)

	p := tea.NewProgram(tui.New(ctx, session), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running vickyboard: %w", err)
	}
	return nil
}
