package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/role"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

type changeRoleRequest struct {
	Role string `json:"role"`
}

type updatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type memberResponse struct {
	AccountID   string    `json:"account_id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	InvitedBy   *string   `json:"invited_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newMemberResponse(m *membershipdomain.Membership) memberResponse {
	resp := memberResponse{
		AccountID: m.AccountID.String(),
		Role:      m.Role.String(),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.InvitedBy != nil {
		inviter := m.InvitedBy.String()
		resp.InvitedBy = &inviter
	}
	if set, err := m.PermissionSet(); err == nil {
		resp.Permissions = set.Strings()
	} else {
		resp.Permissions = []string{}
	}
	return resp
}

func (s *Server) ListMembers(c *gin.Context) {
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

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	members, pageInfo, err := s.membershipSvc.ListMembers(c.Request.Context(), tenantID, account.ID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]memberResponse, 0, len(members))
	for i := range members {
		resp := newMemberResponse(&members[i].Membership)
		resp.Email = members[i].Email
		resp.DisplayName = members[i].DisplayName
		out = append(out, resp)
	}

	c.JSON(http.StatusOK, gin.H{
		"members":   out,
		"page_info": pageInfo,
	})
}

func (s *Server) GetMember(c *gin.Context) {
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
	accountID, err := parseAccountParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The actor must be a member themselves before inspecting others.
	if _, err := s.membershipSvc.GetMember(c.Request.Context(), tenantID, account.ID); err != nil {
		AbortWithError(c, membershipdomain.ErrForbidden)
		return
	}

	member, err := s.membershipSvc.GetMember(c.Request.Context(), tenantID, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newMemberResponse(member))
}

func (s *Server) ChangeMemberRole(c *gin.Context) {
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
	accountID, err := parseAccountParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	newRole, err := role.Parse(req.Role)
	if err != nil {
		AbortWithError(c, membershipdomain.ErrInvalidRole)
		return
	}

	member, err := s.membershipSvc.ChangeRole(c.Request.Context(), tenantID, account.ID, accountID, newRole)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newMemberResponse(member))
}

func (s *Server) UpdateMemberPermissions(c *gin.Context) {
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
	accountID, err := parseAccountParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updatePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	perms := role.NewSet()
	for _, raw := range req.Permissions {
		p := role.Permission(strings.TrimSpace(raw))
		if !p.Valid() {
			AbortWithError(c, membershipdomain.ErrInvalidPermission)
			return
		}
		perms.Add(p)
	}

	member, err := s.membershipSvc.UpdatePermissions(c.Request.Context(), tenantID, account.ID, accountID, perms)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newMemberResponse(member))
}

func (s *Server) RemoveMember(c *gin.Context) {
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
	accountID, err := parseAccountParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.membershipSvc.RemoveMember(c.Request.Context(), tenantID, account.ID, accountID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
