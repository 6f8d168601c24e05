package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/config"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/utils/response"
)

const identityKey = "identity"

// JWTAuth creates a JWT authentication middleware
func JWTAuth() gin.HandlerFunc {
	return JWTAuthWithConfig(config.Load())
}

// JWTAuthWithConfig validates the bearer token and stores a capability
// tagged identity on the context.
func JWTAuthWithConfig(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "Authorization header is required", nil, nil)
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "authorization header format must be Bearer {token}", nil, nil)
			c.Abort()
			return
		}

		id, err := parseToken(parts[1], cfg.JWT.Secret)
		if err != nil {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "invalid or expired token", nil, nil)
			c.Abort()
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}

func parseToken(tokenString, secret string) (identity.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return identity.Identity{}, jwt.ErrSignatureInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return identity.Identity{}, jwt.ErrInvalidKey
	}
	if tokenType, ok := claims["type"]; !ok || tokenType != "access" {
		return identity.Identity{}, jwt.ErrInvalidKey
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return identity.Identity{}, jwt.ErrInvalidKey
	}
	role, _ := claims["role"].(string)

	var extra []identity.Capability
	if raw, ok := claims["caps"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				extra = append(extra, identity.Capability(s))
			}
		}
	}

	return identity.New(userID, identity.ParseRole(role), extra...), nil
}

// SetIdentity stores the caller for CurrentIdentity and the capability checks.
func SetIdentity(c *gin.Context, id identity.Identity) {
	c.Set(identityKey, id)
	c.Set("user_id", id.ID)
	c.Set("user_role", string(id.Role))
}

// CurrentIdentity returns the identity stored by JWTAuth.
func CurrentIdentity(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}

// RequireCapability rejects callers whose identity lacks every listed
// capability.
func RequireCapability(caps ...identity.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "identity not found in context", nil, nil)
			c.Abort()
			return
		}

		for _, cp := range caps {
			if id.Can(cp) {
				c.Next()
				return
			}
		}

		response.RespondJSON(c, "error", http.StatusForbidden, "Insufficient permissions", nil, nil)
		c.Abort()
	}
}

// RequireRoles middleware checks if user has any of the required roles
func RequireRoles(requiredRoles ...identity.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "user role not found in context", nil, nil)
			c.Abort()
			return
		}

		for _, role := range requiredRoles {
			if id.Role == role {
				c.Next()
				return
			}
		}

		response.RespondJSON(c, "error", http.StatusForbidden, "Insufficient permissions", nil, nil)
		c.Abort()
	}
}

// RequireAdmin middleware that requires admin role
func RequireAdmin() gin.HandlerFunc {
	return RequireRoles(identity.RoleAdmin)
}
