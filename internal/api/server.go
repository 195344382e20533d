package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"voltify/internal/ai"
	"voltify/internal/api/auth"
	"voltify/internal/api/middleware"
	"voltify/internal/config"
	"voltify/internal/digest"
	"voltify/internal/model"
	"voltify/internal/pkg/completion"
	"voltify/internal/pkg/dispatch"
	"voltify/internal/pkg/metrics"
	"voltify/internal/pkg/notify"
	"voltify/internal/pkg/ratelimit"
	"voltify/internal/store"
	"voltify/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 所有组件都在 NewServer 中显式构造并注入，没有进程级单例，
// 测试时可以用桩替换任意依赖。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine

	auth        *auth.Handler
	tasks       *task.Service
	recommender *ai.Recommender
	broadcaster *digest.Broadcaster
	pool        *dispatch.Pool

	loginLimiter     *ratelimit.Limiter
	recommendLimiter *ratelimit.Limiter
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis（限流）
// 3. 构造通知、补全、任务服务等组件
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	var notifier notify.Notifier
	switch cfg.App.NotifyChannel {
	case "email":
		notifier = notify.NewEmailNotifier(&cfg.Email, logger)
	default:
		notifier = notify.NewTelegramNotifier(&cfg.Telegram, logger)
	}

	pool := dispatch.NewPool(logger, cfg.App.NotifyWorkers, cfg.App.NotifyQueue)
	pool.SetErrorHandler(func(err error) {
		logger.Warn("notification delivery failed", slog.String("error", err.Error()))
	})

	taskStore := store.NewTaskStore(db)
	userStore := store.NewUserStore(db)
	completer := completion.NewClient(&cfg.OpenAI)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		router: r,

		auth:        auth.NewHandler(userStore, cfg.Security.JWTSecret, cfg.Security.TokenTTL, logger),
		tasks:       task.NewService(taskStore, userStore, notifier, pool, logger, cfg.App.NotifyTimeout),
		recommender: ai.NewRecommender(completer, cfg.OpenAI.Timeout, cfg.OpenAI.RecommendMaxTokens, logger),
		broadcaster: digest.NewBroadcaster(userStore, taskStore, completer, notifier, logger,
			cfg.App.DigestInterval, cfg.OpenAI.DigestMaxTokens, cfg.OpenAI.DigestTemperature),
		pool: pool,

		loginLimiter:     ratelimit.NewLimiter(rdb, "voltify:ratelimit:", cfg.App.LoginRatePerMin/60.0, cfg.App.LoginRatePerMin),
		recommendLimiter: ratelimit.NewLimiter(rdb, "voltify:ratelimit:", cfg.App.RecommendRatePerHour/3600.0, cfg.App.RecommendRatePerHour),
	}
	s.registerRoutes()
	return s, nil
}

// Start 启动后台组件（通知派发池、周期性摘要广播）。
func (s *Server) Start(ctx context.Context) {
	s.pool.Start(ctx)
	if s.cfg.App.DigestEnabled {
		s.broadcaster.Start(ctx)
	}
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接，并等待在途通知发送完成。
func (s *Server) Close() error {
	var firstErr error
	if err := s.pool.Shutdown(5 * time.Second); err != nil {
		firstErr = err
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/register", s.auth.Register)
	authGroup.POST("/login",
		middleware.RateLimit(s.loginLimiter, "login", middleware.KeyByClientIP, s.logger),
		s.auth.Login)
	authGroup.POST("/logout", s.auth.Logout)
	authGroup.GET("/me",
		middleware.AuthMiddleware(s.cfg.Security.JWTSecret),
		s.auth.Me)

	// 摘要广播由运维令牌保护，不走用户认证（定时任务/cron 调用）
	s.router.POST("/api/tasks/weekly-summary", s.handleWeeklySummary)

	tasks := s.router.Group("/api/tasks")
	tasks.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	tasks.GET("", s.handleListTasks)
	tasks.POST("", s.handleCreateTask)
	tasks.GET("/:id", s.handleGetTask)
	tasks.PUT("/:id", s.handleUpdateTask)
	tasks.DELETE("/:id", s.handleDeleteTask)
	tasks.POST("/update-chat-id", s.handleUpdateChatID)

	aiGroup := s.router.Group("/api/ai")
	aiGroup.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	aiGroup.POST("/recommend",
		middleware.RateLimit(s.recommendLimiter, "recommend", middleware.KeyByIdentity, s.logger),
		s.handleRecommend)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createTaskRequest 创建任务的请求参数。
//
// 不含 status/owner 字段：调用方试图传入的同名值在绑定阶段即被丢弃。
type createTaskRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	DueDate       string `json:"due_date"`
	Category      string `json:"category"`
	EstimatedTime string `json:"estimated_time"`
}

// updateTaskRequest 部分更新的请求参数，所有字段可选。
type updateTaskRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	DueDate       *string `json:"due_date"`
	Status        *string `json:"status"`
	Category      *string `json:"category"`
	EstimatedTime *string `json:"estimated_time"`
}

type updateChatIDRequest struct {
	TelegramChatID string `json:"telegram_chat_id"`
}

type recommendRequest struct {
	Description string `json:"description"`
}

// taskResponse 任务的对外表示，overdue 为读取时计算的衍生字段。
type taskResponse struct {
	ID            uint      `json:"id"`
	Owner         string    `json:"owner"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	DueDate       string    `json:"due_date"`
	Status        string    `json:"status"`
	Category      string    `json:"category"`
	EstimatedTime string    `json:"estimated_time"`
	Overdue       bool      `json:"overdue"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTaskResponse(t *model.Task, now time.Time) taskResponse {
	return taskResponse{
		ID:            t.ID,
		Owner:         t.Owner,
		Title:         t.Title,
		Description:   t.Description,
		DueDate:       t.DueDate,
		Status:        t.Status,
		Category:      t.Category,
		EstimatedTime: t.EstimatedTime,
		Overdue:       t.IsOverdue(now),
		CreatedAt:     t.CreatedAt,
	}
}

// writeServiceError 把服务层错误映射为 HTTP 状态码。
func (s *Server) writeServiceError(c *gin.Context, err error) {
	var missing *task.MissingFieldError
	var external *task.ExternalServiceError
	switch {
	case errors.Is(err, task.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.As(err, &missing):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or empty field: " + missing.Field})
	case errors.As(err, &external):
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI service unavailable"})
	default:
		s.logger.Error("request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// handleListTasks 返回当前用户的任务列表，支持 status/category 精确过滤。
//
// GET /api/tasks?status=open&category=work
func (s *Server) handleListTasks(c *gin.Context) {
	identity := middleware.Identity(c)
	tasks, err := s.tasks.List(c.Request.Context(), identity, c.Query("status"), c.Query("category"))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	now := time.Now()
	resp := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, toTaskResponse(&tasks[i], now))
	}
	c.JSON(http.StatusOK, resp)
}

// handleCreateTask 创建任务。
//
// POST /api/tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.tasks.Create(c.Request.Context(), middleware.Identity(c), task.CreateInput{
		Title:         req.Title,
		Description:   req.Description,
		DueDate:       req.DueDate,
		Category:      req.Category,
		EstimatedTime: req.EstimatedTime,
	})
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTaskResponse(created, time.Now()))
}

// handleGetTask 返回单个任务。
//
// GET /api/tasks/:id
func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	t, err := s.tasks.Get(c.Request.Context(), middleware.Identity(c), id)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(t, time.Now()))
}

// handleUpdateTask 对任务应用部分更新。
//
// PUT /api/tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := s.tasks.Update(c.Request.Context(), middleware.Identity(c), id, task.Patch{
		Title:         req.Title,
		Description:   req.Description,
		DueDate:       req.DueDate,
		Status:        req.Status,
		Category:      req.Category,
		EstimatedTime: req.EstimatedTime,
	})
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(updated, time.Now()))
}

// handleDeleteTask 删除任务。
//
// DELETE /api/tasks/:id
func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	if err := s.tasks.Delete(c.Request.Context(), middleware.Identity(c), id); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}

// handleUpdateChatID 绑定或覆盖当前用户的通知目的地。
//
// POST /api/tasks/update-chat-id
func (s *Server) handleUpdateChatID(c *gin.Context) {
	var req updateChatIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tasks.SetNotificationDestination(c.Request.Context(), middleware.Identity(c), req.TelegramChatID); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Telegram chat ID updated"})
}

// handleWeeklySummary 触发一次全量摘要广播。
//
// POST /api/tasks/weekly-summary
//
// 原始实现没有任何身份校验，这里改为运维令牌保护；
// 未配置令牌时该入口整体关闭。单用户失败不影响整体结果。
func (s *Server) handleWeeklySummary(c *gin.Context) {
	adminToken := s.cfg.Security.AdminToken
	if adminToken == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "summary broadcast disabled"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Admin-Token")), []byte(adminToken)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid admin token"})
		return
	}

	s.broadcaster.Broadcast(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Summaries sent"})
}

// handleRecommend 返回任务描述的 AI 分类与耗时建议。
//
// POST /api/ai/recommend
func (s *Server) handleRecommend(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.recommender.Recommend(c.Request.Context(), middleware.Identity(c), req.Description)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendation": result})
}

// parseTaskID 解析路径中的任务 id。非法 id 等同于任务不存在。
func parseTaskID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return 0, false
	}
	return uint(id), true
}
