package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	obscontext "github.com/smallbiznis/atrium/internal/observability/context"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
)

const (
	contextAccountKey = "account"
	contextTenantKey  = "tenant_id"
)

// AuthRequired resolves the session cookie to an account and stores it on
// the request context. Requests without a live session are rejected.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		account, _, err := s.identitySvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAccount), account.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAccountKey, account)
		c.Next()
	}
}

// TenantContext parses the :tenant_id route parameter and propagates it for
// audit attribution. Membership checks stay in the services.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Param("tenant_id"))
		tenantID, err := snowflake.ParseString(raw)
		if err != nil || tenantID == 0 {
			AbortWithError(c, tenantdomain.ErrInvalidTenant)
			return
		}

		ctx := obscontext.WithTenantID(c.Request.Context(), tenantID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextTenantKey, tenantID)
		c.Next()
	}
}

func (s *Server) accountFromContext(c *gin.Context) (*identitydomain.Account, bool) {
	value, ok := c.Get(contextAccountKey)
	if !ok {
		return nil, false
	}
	account, ok := value.(*identitydomain.Account)
	if !ok || account == nil {
		return nil, false
	}
	return account, true
}

func (s *Server) tenantIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextTenantKey)
	if !ok {
		return 0, false
	}
	tenantID, ok := value.(snowflake.ID)
	if !ok || tenantID == 0 {
		return 0, false
	}
	return tenantID, true
}

func parseAccountParam(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("account_id"))
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("account_id", "invalid_account_id", "invalid account id")
	}
	return id, nil
}
