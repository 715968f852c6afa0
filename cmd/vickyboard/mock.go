package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tuanbt/vickyboard/internal/logger"
	"github.com/tuanbt/vickyboard/internal/mockserver"
)

func (a *app) mockCommand() *cobra.Command {
	var (
		listen  string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a local development backend speaking the vicky API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if listen != "" {
				cfg.Mock.Listen = listen
			}
			if workers > 0 {
				cfg.Mock.NumWorkers = workers
			}

			pwd, _ := os.Getwd()
			if !filepath.IsAbs(cfg.Mock.TasksFile) {
				cfg.Mock.TasksFile = filepath.Join(pwd, cfg.Mock.TasksFile)
			}
			if !filepath.IsAbs(cfg.LogDirectory) {
				cfg.LogDirectory = filepath.Join(pwd, cfg.LogDirectory)
			}

			log, closer, err := logger.NewSystemLogger(cfg, "mock")
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer closer.Close()

			backend, err := mockserver.NewBackend(&cfg.Mock, log, pwd)
			if err != nil {
				return err
			}

			token, expires, err := backend.Auth.Issue("admin")
			if err != nil {
				return fmt.Errorf("failed to issue development token: %w", err)
			}
			log.Info("mock backend starting",
				"listen", cfg.Mock.Listen,
				"api_url", "http://"+cfg.Mock.Listen+mockserver.APIPrefix,
				"tasks_file", cfg.Mock.TasksFile,
				"workers", cfg.Mock.NumWorkers,
			)
			log.Info("development token issued", "user", "admin", "token", token, "expires", expires)

			ctx, cancel := signalContext(cmd.Context(), log)
			defer cancel()

			if err := backend.Run(ctx); err != nil {
				return err
			}
			log.Info("mock backend stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override the listen address")
	cmd.Flags().IntVar(&workers, "workers", 0, "Override the number of workers")
	return cmd
}
