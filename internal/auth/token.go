package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when an authenticated request is attempted without a token.
var ErrNoToken = errors.New("no access token available")

// TokenSource supplies the bearer token for API requests.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token, e.g. from a flag or environment variable.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() (string, error) {
	return checkToken(strings.TrimSpace(string(s)), time.Now())
}

// Chain tries each source in order and returns the first token found.
type Chain []TokenSource

// Token implements TokenSource.
func (c Chain) Token() (string, error) {
	lastErr := ErrNoToken
	for _, src := range c {
		if src == nil {
			continue
		}
		tok, err := src.Token()
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoToken) {
			lastErr = err
		}
	}
	return "", lastErr
}

// FileToken reads the token from a file and reloads it whenever the file changes.
type FileToken struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewFileToken creates a FileToken and performs the initial read. A missing file is not
// an error; Token reports ErrNoToken until the file appears.
func NewFileToken(path string, logger *slog.Logger) (*FileToken, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token file: %w", err)
	}
	f := &FileToken{path: abs, logger: logger}
	if err := f.Load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load re-reads the token file.
func (f *FileToken) Load() error {
	data, err := os.ReadFile(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read token file: %w", err)
	}

	f.mu.Lock()
	f.token = strings.TrimSpace(string(data))
	f.mu.Unlock()
	return nil
}

// Token implements TokenSource.
func (f *FileToken) Token() (string, error) {
	f.mu.RLock()
	tok := f.token
	f.mu.RUnlock()
	return checkToken(tok, time.Now())
}

// Watch reloads the token whenever the file is written, created or replaced, and calls
// onChange after each reload. It blocks until ctx is cancelled.
func (f *FileToken) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors and secret managers that replace the file are seen.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to watch token directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := f.Load(); err != nil {
				f.logger.Warn("failed to reload token file", "path", f.path, "error", err)
				continue
			}
			f.logger.Debug("token file reloaded", "path", f.path)
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("token watcher error", "error", err)
		}
	}
}

// ParseClaims decodes a JWT without verifying its signature. The dashboard is not the
// token's audience; it only reads the name and expiry.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// checkToken rejects empty and expired tokens. Opaque (non-JWT) tokens pass as is.
func checkToken(token string, now time.Time) (string, error) {
	if token == "" {
		return "", ErrNoToken
	}
	claims, err := ParseClaims(token)
	if err != nil {
		return token, nil
	}
	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time) {
		return "", ErrExpiredToken
	}
	return token, nil
}
