package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"tasktracker/internal/api/auth"
	"tasktracker/internal/api/middleware"
	"tasktracker/internal/config"
	"tasktracker/internal/model"
	"tasktracker/internal/pkg/cache"
	"tasktracker/internal/pkg/metrics"
	"tasktracker/internal/pkg/notify"
	"tasktracker/internal/pkg/ratelimit"
	"tasktracker/internal/pkg/revoke"
	"tasktracker/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接池、可选的 Redis 客户端、邮件发件箱以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *store.DB
	rdb     *redis.Client
	router  *gin.Engine
	auth    *auth.Handler
	authSvc *auth.Service
	tasks   TaskStore
	cache   DashboardCache
	outbox  *notify.Outbox
}

// TaskStore 任务存储接口，所有操作均按 ownerID 限定。
type TaskStore interface {
	Insert(ctx context.Context, name string, priority model.Priority, ownerID uint) (*model.Task, error)
	ListAll(ctx context.Context, ownerID uint) ([]model.Task, error)
	Update(ctx context.Context, id uint, name string, priority model.Priority, ownerID uint) (bool, error)
	Delete(ctx context.Context, id uint, ownerID uint) (bool, error)
	SearchByName(ctx context.Context, substring string, ownerID uint) ([]model.Task, error)
	Aggregate(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, error)
}

// DashboardCache 仪表盘快照缓存接口。
//
// Get 同时返回当前代数；Set 仅在代数未被 Invalidate 推进时写入。
type DashboardCache interface {
	Get(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, int64, bool, error)
	Set(ctx context.Context, ownerID uint, gen int64, snap *model.DashboardSnapshot) (bool, error)
	Invalidate(ctx context.Context, ownerID uint) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开数据库连接池并执行自动迁移
// 2. 连接 Redis（未配置地址时跳过，限流、注销与缓存随之关闭）
// 3. 启动邮件发件箱
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = db.Close()
			return nil, err
		}
	}

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	s := &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		tasks:  db.Tasks(),
	}

	var denylist auth.Denylist
	var limiter auth.LoginLimiter
	if rdb != nil {
		denylist = revoke.NewDenylist(rdb)
		if l := ratelimit.NewRedisRateLimiter(rdb, "", cfg.Security.LoginRate, cfg.Security.LoginBurst); l != nil {
			limiter = l
		}
		if c := cache.NewDashboardCache(rdb, cfg.App.DashboardCacheTTL); c != nil {
			s.cache = c
		}
	}

	var mailer auth.WelcomeMailer
	s.outbox = notify.NewOutbox(notify.NewEmailNotifier(cfg.Email, logger), cfg.App.MailWorkers, cfg.App.MailQueueCapacity, logger)
	if s.outbox != nil {
		// 发件箱独立于请求上下文，关闭时由 Close 负责排空
		s.outbox.Start(context.Background())
		mailer = s.outbox
	}

	s.authSvc = auth.NewService(db.Users(), denylist, auth.Options{
		Secret:     cfg.Security.JWTSecret,
		TokenTTL:   cfg.Security.TokenTTL,
		RevokeTTL:  cfg.Security.RevokeTTL,
		BcryptCost: cfg.Security.BcryptCost,
	}, logger)
	s.auth = auth.NewHandler(s.authSvc, limiter, mailer, logger)

	gin.SetMode(gin.ReleaseMode)
	s.buildRouter()

	logger.Info("api server initialized",
		slog.String("db_driver", cfg.Database.Driver),
		slog.Bool("redis", rdb != nil),
		slog.Bool("mail", s.outbox != nil),
		slog.Bool("dashboard_cache", s.cache != nil))
	return s, nil
}

func (s *Server) buildRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))
	s.router = r
	s.registerRoutes()
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 排空邮件队列并关闭缓存与数据库连接。
func (s *Server) Close() error {
	var firstErr error
	if err := s.outbox.Shutdown(5 * time.Second); err != nil {
		s.logger.Warn("mail queue shutdown", slog.String("error", err.Error()))
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	for _, prefix := range []string{"", "/api"} {
		s.router.POST(prefix+"/login", s.auth.Login)
		s.router.POST(prefix+"/signup", s.auth.Signup)
	}

	authed := s.router.Group("/api")
	authed.Use(middleware.AuthMiddleware(s.authSvc))
	authed.POST("/logout", s.auth.Logout)
	authed.GET("/dashboard", s.handleDashboard)
	authed.GET("/getAll", s.handleListTasks)
	authed.POST("/insert", s.handleInsertTask)
	authed.PATCH("/update", s.handleUpdateTask)
	authed.DELETE("/delete/:id", s.handleDeleteTask)
	authed.GET("/search/:name", s.handleSearchTasks)

	if s.cfg != nil && s.cfg.App.StaticDir != "" {
		s.router.NoRoute(s.serveStatic(s.cfg.App.StaticDir))
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "database"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// serveStatic 托管前端页面，未命中的 GET 请求回落到 index.html。
func (s *Server) serveStatic(dir string) gin.HandlerFunc {
	fs := gin.Dir(dir, false)
	fileServer := http.FileServer(fs)
	index := filepath.Join(dir, "index.html")

	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if c.Request.Method != http.MethodGet || strings.HasPrefix(p, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Not found"})
			return
		}
		if f, err := fs.Open(path.Clean(p)); err == nil {
			_ = f.Close()
			fileServer.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.File(index)
	}
}

func (s *Server) storeError(c *gin.Context, op string, message string, err error) {
	s.logger.Error(op, slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": message, "error": err.Error()})
}

func (s *Server) invalidateDashboard(ctx context.Context, ownerID uint) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.cache.Invalidate(ctx, ownerID); err != nil {
		s.logger.Warn("dashboard cache invalidate failed", slog.String("error", err.Error()))
	}
}

// ownerID 读取认证中间件写入的用户 ID。
func ownerID(c *gin.Context) (uint, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Authentication required"})
		return 0, false
	}
	return id, true
}

var errInvalidTaskID = errors.New("invalid task id")
