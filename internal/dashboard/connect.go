package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tuanbt/vickyboard/internal/api"
	"github.com/tuanbt/vickyboard/internal/auth"
	"github.com/tuanbt/vickyboard/internal/config"
)

// Tokens builds the token source from the configuration: the inline token first, then
// the token file. The returned FileToken is nil when no token file is configured.
func Tokens(cfg *config.Config, logger *slog.Logger) (auth.TokenSource, *auth.FileToken, error) {
	chain := auth.Chain{auth.StaticToken(cfg.Token)}
	if cfg.TokenFile == "" {
		return chain, nil, nil
	}
	file, err := auth.NewFileToken(cfg.TokenFile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token file: %w", err)
	}
	return append(chain, file), file, nil
}

// NewClient creates the API client for cfg. When a token file is configured it is watched
// until ctx is done, and onTokenChange runs after every reload.
func NewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, onTokenChange func()) (*api.Client, error) {
	tokens, file, err := Tokens(cfg, logger)
	if err != nil {
		return nil, err
	}
	if file != nil {
		go func() {
			if err := file.Watch(ctx, func() {
				if onTokenChange != nil {
					onTokenChange()
				}
			}); err != nil {
				logger.Warn("token file watch stopped", "path", cfg.TokenFile, "error", err)
			}
		}()
	}

	return api.New(cfg.APIURL, tokens,
		api.WithLogger(logger.With("component", "api")),
		api.WithRequestTimeout(cfg.RequestTimeout()),
	)
}
