package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voltify/internal/api/middleware"
	"voltify/internal/model"
	"voltify/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// UserStore 是认证层依赖的用户存储契约。
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	Insert(ctx context.Context, user *model.User) error
}

// Handler 提供注册与登录接口。
type Handler struct {
	users     UserStore
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handler{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

type registerRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	TelegramChatID string `json:"telegram_chat_id"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Register 创建新用户。用户名唯一，注册后不可变更。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// 与任务创建相同的校验风格：按声明顺序报告第一个缺失字段
	if strings.TrimSpace(req.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or empty field: username"})
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or empty field: password"})
		return
	}

	username := strings.TrimSpace(req.Username)

	if _, err := h.users.FindByUsername(c.Request.Context(), username); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := model.User{
		Username:       username,
		Password:       string(hash),
		TelegramChatID: strings.TrimSpace(req.TelegramChatID),
	}
	if err := h.users.Insert(c.Request.Context(), &user); err != nil {
		h.logger.Error("create user failed", slog.String("username", username), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	h.logger.Info("user registered", slog.String("username", username))
	c.JSON(http.StatusCreated, gin.H{"message": "User registered"})
}

// Login 校验用户凭证并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or empty field: username"})
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or empty field: password"})
		return
	}

	username := strings.TrimSpace(req.Username)
	h.logger.Info("login attempt", slog.String("username", username))

	user, err := h.users.FindByUsername(c.Request.Context(), username)
	if err != nil {
		h.logger.Warn("failed login attempt", slog.String("username", username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		h.logger.Warn("failed login attempt", slog.String("username", username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.issueToken(username)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("username", username), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	h.logger.Info("user logged in", slog.String("username", username))
	c.JSON(http.StatusOK, tokenResponse{Token: token, Username: username})
}

// Logout 处理注销请求（JWT 无状态，直接返回成功）。
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me 返回当前请求的已认证身份。
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"username": middleware.Identity(c)})
}

func (h *Handler) issueToken(username string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
