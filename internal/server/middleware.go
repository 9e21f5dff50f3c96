package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/casebill/internal/orgcontext"
)

const (
	HeaderOrg  = "X-Org-ID"
	HeaderUser = "X-User-ID"
)

// TenantContext moves the tenant headers into the request context. Every API call must
// name an organization; the acting user is optional.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderOrg)))
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID.Int64())
		if raw := strings.TrimSpace(c.GetHeader(HeaderUser)); raw != "" {
			userID, err := snowflake.ParseString(raw)
			if err != nil || userID == 0 {
				AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
				return
			}
			ctx = orgcontext.WithUserID(ctx, userID.Int64())
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
