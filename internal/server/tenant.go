package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
)

type createTenantRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) CreateTenant(c *gin.Context) {
	account, ok := s.accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		AbortWithError(c, newValidationError("name", "required", "name is required"))
		return
	}

	resp, err := s.tenantSvc.Create(c.Request.Context(), account.ID, tenantdomain.CreateTenantRequest{
		Name:     req.Name,
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListTenants(c *gin.Context) {
	account, ok := s.accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	tenants, err := s.tenantSvc.ListByAccount(c.Request.Context(), account.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

func (s *Server) GetTenant(c *gin.Context) {
	account, ok := s.accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	tenantID, ok := s.tenantIDFromContext(c)
	if !ok {
		AbortWithError(c, tenantdomain.ErrInvalidTenant)
		return
	}

	// Non-members get the same answer as a missing tenant.
	if _, err := s.membershipSvc.GetMember(c.Request.Context(), tenantID, account.ID); err != nil {
		AbortWithError(c, tenantdomain.ErrTenantNotFound)
		return
	}

	resp, err := s.tenantSvc.GetByID(c.Request.Context(), tenantID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
