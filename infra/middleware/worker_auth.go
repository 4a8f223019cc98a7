package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mail_worker/pkg/apperr"
	"mail_worker/pkg/cache"
	"mail_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenBlacklist reports revoked token ids (jti).
type TokenBlacklist interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisTokenBlacklist stores revoked jtis until the token would expire anyway.
type RedisTokenBlacklist struct {
	cache *cache.RedisCache
}

func NewRedisTokenBlacklist(c *cache.RedisCache) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{cache: c}
}

// Revoke blacklists jti for ttl.
func (b *RedisTokenBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return b.cache.Set(ctx, "token:blacklist:"+jti, "1", ttl)
}

func (b *RedisTokenBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return b.cache.Exists(ctx, "token:blacklist:"+jti)
}

// AuthConfig configures JWTAuth. Blacklist may be nil.
type AuthConfig struct {
	Secret    string
	Blacklist TokenBlacklist
	// ClockSkew tolerated on iat; defaults to one minute.
	ClockSkew time.Duration
}

// JWTAuth validates HS256 bearer tokens and stores user_id (uuid.UUID) in Locals.
func JWTAuth(cfg AuthConfig) fiber.Handler {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = time.Minute
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
	)

	return func(c *fiber.Ctx) error {
		// CORS preflight
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}
		if cfg.Secret == "" {
			logger.Error("[JWTAuth] secret not configured")
			return apperr.Internal("authentication not configured")
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return []byte(cfg.Secret), nil
		})
		if err != nil {
			logger.WithError(err).Debug("[JWTAuth] token rejected")
			if errors.Is(err, jwt.ErrTokenExpired) {
				return apperr.InvalidToken("token expired")
			}
			return apperr.InvalidToken("invalid token")
		}

		if iat, err := claims.GetIssuedAt(); err == nil && iat != nil && iat.After(time.Now().Add(cfg.ClockSkew)) {
			return apperr.InvalidToken("token issued in the future")
		}

		if jti, _ := claims["jti"].(string); jti != "" && cfg.Blacklist != nil {
			revoked, err := cfg.Blacklist.IsRevoked(c.Context(), jti)
			if err != nil {
				// 블랙리스트 조회 실패는 통과 (Redis 장애 시)
				logger.WithError(err).Warn("[JWTAuth] blacklist lookup failed")
			} else if revoked {
				return apperr.InvalidToken("token has been revoked")
			}
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return apperr.InvalidToken("missing subject")
		}
		userID, err := uuid.Parse(sub)
		if err != nil {
			return apperr.InvalidToken(fmt.Sprintf("invalid subject %q", sub))
		}

		c.Locals("user_id", userID)
		if email, ok := claims["email"].(string); ok {
			c.Locals("user_email", email)
		}
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
