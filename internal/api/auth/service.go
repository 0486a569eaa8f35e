package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tasktracker/internal/model"
	"tasktracker/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidInput       = errors.New("invalid input")
)

// UserStore 凭据存储接口。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	UserByUsername(ctx context.Context, username string) (*model.User, error)
}

// Denylist 已注销令牌记录。
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Identity 令牌中携带的用户身份。
type Identity struct {
	ID       uint
	Username string
}

// Options 令牌签发参数。
type Options struct {
	Secret     string
	TokenTTL   time.Duration // 0 表示不写入 exp
	RevokeTTL  time.Duration // 不过期令牌注销记录的保留时间
	BcryptCost int
}

// Service 负责注册、登录签发与令牌校验。
type Service struct {
	users    UserStore
	denylist Denylist
	secret   []byte
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

type tokenClaims struct {
	UserID   uint   `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// NewService 创建 Auth Service，denylist 可为 nil。
func NewService(users UserStore, denylist Denylist, opts Options, logger *slog.Logger) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:    users,
		denylist: denylist,
		secret:   []byte(opts.Secret),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Register 创建用户并返回新 ID。
func (s *Service) Register(ctx context.Context, username, email, password string) (uint, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, ErrInvalidInput
	}

	_, err := s.users.UserByUsername(ctx, username)
	if err == nil {
		return 0, ErrUsernameTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("query user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// 并发注册时由唯一索引兜底
		if errors.Is(err, store.ErrDuplicate) {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return user.ID, nil
}

// Authenticate 校验用户名密码并签发令牌。
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", Identity{}, ErrInvalidCredentials
	}

	user, err := s.users.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", Identity{}, fmt.Errorf("query user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", Identity{}, ErrInvalidCredentials
	}

	id := Identity{ID: user.ID, Username: user.Username}
	token, err := s.issueToken(id)
	if err != nil {
		return "", Identity{}, fmt.Errorf("sign token: %w", err)
	}
	return token, id, nil
}

func (s *Service) issueToken(id Identity) (string, error) {
	now := s.now()
	claims := tokenClaims{
		UserID:   id.ID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.opts.TokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.opts.TokenTTL))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify 校验令牌并返回身份。
func (s *Service) Verify(ctx context.Context, token string) (Identity, error) {
	claims, err := s.parse(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: claims.UserID, Username: claims.Username}, nil
}

// Revoke 注销令牌，直到其自身过期（不过期令牌保留 RevokeTTL）。
func (s *Service) Revoke(ctx context.Context, token string) error {
	claims, err := s.parse(ctx, token)
	if err != nil {
		return err
	}
	if s.denylist == nil || claims.RegisteredClaims.ID == "" {
		return nil
	}

	ttl := s.opts.RevokeTTL
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.denylist.Revoke(ctx, claims.RegisteredClaims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *Service) parse(ctx context.Context, token string) (*tokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == 0 {
		return nil, ErrInvalidToken
	}

	if s.denylist != nil && claims.RegisteredClaims.ID != "" {
		revoked, err := s.denylist.IsRevoked(ctx, claims.RegisteredClaims.ID)
		if err != nil {
			// Redis 不可用时放行
			if s.logger != nil {
				s.logger.Warn("denylist lookup failed", slog.String("error", err.Error()))
			}
		} else if revoked {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}
