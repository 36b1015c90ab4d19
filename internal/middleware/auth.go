package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ashwinyue/next-prompt/internal/config"
)

const subjectKey = "subject"

// RequireAdmin 要求携带管理员角色的 JWT
func RequireAdmin(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    -1,
				"message": "Missing Authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    -1,
				"message": "Invalid Authorization header format",
			})
			return
		}

		claims, err := ParseToken(cfg.JWTSecret, strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    -1,
				"message": "Invalid or expired token",
			})
			return
		}

		role, _ := claims["role"].(string)
		if role != cfg.AdminRole {
			c.AbortWithStatusJSON(403, gin.H{
				"code":    -1,
				"message": "Admin role required",
			})
			return
		}

		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			c.Set(subjectKey, sub)
		}
		c.Next()
	}
}

// ParseToken 校验 HS256 令牌并返回声明
func ParseToken(secret, tokenString string) (jwt.MapClaims, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// SignToken 签发 HS256 令牌
func SignToken(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// GetSubject 从上下文获取令牌主体
func GetSubject(c *gin.Context) (string, bool) {
	v, exists := c.Get(subjectKey)
	if !exists {
		return "", false
	}
	sub, ok := v.(string)
	return sub, ok
}
