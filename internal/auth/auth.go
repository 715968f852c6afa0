// Package auth supplies bearer tokens to the API client and issues development tokens
// for the mock backend.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tuanbt/vickyboard/internal/task"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
)

// AuthService authenticates development users and signs HS256 access tokens for them.
type AuthService struct {
	config     *Config
	users      map[string]*account
	usersMutex sync.RWMutex
}

type account struct {
	username string
	password []byte
}

// NewAuthService hashes the configured users' passwords.
func NewAuthService(cfg *Config) (*AuthService, error) {
	s := &AuthService{
		config: cfg,
		users:  make(map[string]*account, len(cfg.Users)),
	}

	names := make([]string, 0, len(cfg.Users))
	for name := range cfg.Users {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.AddUser(name, cfg.Users[name]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddUser registers or replaces a user.
func (s *AuthService) AddUser(username, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.usersMutex.Lock()
	defer s.usersMutex.Unlock()
	s.users[username] = &account{username: username, password: hashed}
	return nil
}

// Login checks the credentials and returns a signed access token.
func (s *AuthService) Login(req LoginRequest) (*AuthResponse, error) {
	s.usersMutex.RLock()
	acc, exists := s.users[req.Username]
	s.usersMutex.RUnlock()

	if !exists {
		return nil, ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword(acc.password, []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.Issue(acc.username)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      task.User{FullName: acc.username, Role: task.RoleAdmin},
	}, nil
}

// Issue signs an access token for username without checking a password.
func (s *AuthService) Issue(username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.AccessTokenDuration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name:              username,
		PreferredUsername: username,
		Role:              task.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies the signature and expiry of a token.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
