package security

import (
	"net/http"
	"strings"

	"ChatRelay/tools/security"

	"github.com/gin-gonic/gin"
)

// —— context key ——
const (
	CtxUserIDKey = "authUserId" // string
)

type Options struct {
	Secret                    []byte
	EnableAuthorizationBearer bool // 默认 true
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		Secret:                    secret,
		EnableAuthorizationBearer: true,
	}
}

// Middleware Bearer JWT 校验；通过后把 userId 放进 gin context
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := security.Verify(security.DefaultOptions(opts.Secret), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}
