package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/branchchat/internal/auth"
	"github.com/suPer8Hu/branchchat/internal/common"
)

const OwnerIDKey = "owner_id"

// AuthRequired accepts "Authorization: Bearer <jwt>" and stores the token
// subject as the caller's owner id.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			common.FailAbort(c, http.StatusUnauthorized, 40100, "missing authorization")
			return
		}
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			common.FailAbort(c, http.StatusUnauthorized, 40100, "invalid authorization header")
			return
		}
		owner, err := auth.ParseJWT(strings.TrimSpace(parts[1]), secret, auth.AudienceAPI)
		if err != nil {
			common.FailAbort(c, http.StatusUnauthorized, 40101, "invalid token")
			return
		}
		c.Set(OwnerIDKey, owner)
		c.Next()
	}
}

func OwnerID(c *gin.Context) string {
	return c.GetString(OwnerIDKey)
}
