package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 上下文键
const (
	ctxRequestID = "request_id"
	ctxUserID    = "user_id"
	ctxUserName  = "user_name"
	ctxFactory   = "factory"
	ctxRoles     = "roles"
)

// Logger 访问日志；skipPaths 下的请求（探活、看板长连接）只在出错时记录
func Logger(logger *zap.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if _, quiet := skip[c.FullPath()]; quiet && status < 400 {
			return
		}

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		if uid := UserID(c); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if f := Factory(c); f != "" {
			fields = append(fields, zap.String("factory", f))
		}

		switch {
		case status >= 500:
			logger.Error("Server error", fields...)
		case status >= 400:
			logger.Warn("Client error", fields...)
		default:
			logger.Info("Request", fields...)
		}
	}
}

// Recovery panic 恢复，记录堆栈后返回 500
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered interface{}) {
		logger.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Stack("stack"),
		)
		abort(c, http.StatusInternalServerError, 50000, "Internal server error")
	})
}

// CORS 跨域，车间看板与终端均为独立前端
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID 透传或生成 X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// AdminRole 拥有全部角色的管理员
const AdminRole = "mes_admin"

// JWTClaims 由统一登录签发；fac 为操作员所属工厂，可为空
type JWTClaims struct {
	UserID  string   `json:"uid"`
	Name    string   `json:"name"`
	Factory string   `json:"fac,omitempty"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

func bearerToken(c *gin.Context) string {
	if scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok && scheme == "Bearer" {
		return token
	}
	// EventSource 无法设置请求头
	return c.Query("token")
}

// JWTAuth 校验 HS256 令牌并把操作员信息写入上下文
func JWTAuth(secret string) gin.HandlerFunc {
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abort(c, http.StatusUnauthorized, 40102, "Invalid or expired token")
			return
		}
		if claims.UserID == "" {
			abort(c, http.StatusUnauthorized, 40103, "Invalid token claims")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUserName, claims.Name)
		c.Set(ctxFactory, claims.Factory)
		c.Set(ctxRoles, claims.Roles)
		c.Next()
	}
}

// RequireRole 满足任一角色即可通过，管理员始终放行
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		held := c.GetStringSlice(ctxRoles)
		if len(held) == 0 {
			abort(c, http.StatusForbidden, 40310, "No roles found")
			return
		}
		for _, r := range held {
			if r == AdminRole {
				c.Next()
				return
			}
			for _, want := range roles {
				if r == want {
					c.Next()
					return
				}
			}
		}
		abort(c, http.StatusForbidden, 40312, "Role required: "+strings.Join(roles, "|"))
	}
}

// UserID 当前登录用户ID，未认证时为空
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// Factory 令牌中的所属工厂
func Factory(c *gin.Context) string {
	return c.GetString(ctxFactory)
}

func abort(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": msg})
}
