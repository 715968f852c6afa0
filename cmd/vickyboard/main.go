package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tuanbt/vickyboard/internal/api"
	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/dashboard"
	"github.com/tuanbt/vickyboard/internal/logger"
)

var version = "dev"

// app carries the state shared by all commands.
type app struct {
	configPath string
	envFile    string
	apiURL     string
	token      string

	cfg *config.Config
}

func main() {
	a := &app{}
	if err := a.rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "vickyboard",
		Short:         "Terminal dashboard for the vicky task server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "vickyboard.yaml", "Path to config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before the config")
	flags.StringVar(&a.apiURL, "api-url", "", "Override the API URL")
	flags.StringVar(&a.token, "token", "", "Override the access token")

	root.AddCommand(
		a.tuiCommand(),
		a.listCommand(),
		a.countCommand(),
		a.showCommand(),
		a.confirmCommand(),
		a.cancelCommand(),
		a.logsCommand(),
		a.eventsCommand(),
		a.groupsCommand(),
		a.locksCommand(),
		a.whoamiCommand(),
		a.webConfigCommand(),
		a.mockCommand(),
	)
	return root
}

func (a *app) loadConfig() error {
	if a.envFile != "" {
		if _, err := os.Stat(a.envFile); err == nil {
			if err := godotenv.Load(a.envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", a.envFile, err)
			}
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.APIURL = a.apiURL
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	a.cfg = cfg
	return nil
}

// client builds an API client for one-shot commands.
func (a *app) client(ctx context.Context) (*api.Client, error) {
	return dashboard.NewClient(ctx, a.cfg, logger.NewConsoleLogger(a.cfg), nil)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func exactlyOneID(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("expected exactly one task id")
	}
	return nil
}
