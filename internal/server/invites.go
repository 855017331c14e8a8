package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/role"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

type createInviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

type inviteResponse struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	InvitedBy string    `json:"invited_by"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func newInviteResponse(invite *membershipdomain.Invite) inviteResponse {
	return inviteResponse{
		ID:        invite.ID.String(),
		TenantID:  invite.TenantID.String(),
		Email:     invite.Email,
		Role:      invite.Role.String(),
		InvitedBy: invite.InvitedBy.String(),
		ExpiresAt: invite.ExpiresAt,
		CreatedAt: invite.CreatedAt,
	}
}

func (s *Server) CreateInvite(c *gin.Context) {
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

	var req createInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inviteRole, err := role.Parse(req.Role)
	if err != nil {
		AbortWithError(c, membershipdomain.ErrInvalidRole)
		return
	}

	result, err := s.membershipSvc.Invite(c.Request.Context(), membershipdomain.InviteInput{
		TenantID: tenantID,
		ActorID:  account.ID,
		Email:    req.Email,
		Role:     inviteRole,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// A known account was linked on the spot; there is no token to hand out.
	if result.Membership != nil {
		c.JSON(http.StatusCreated, gin.H{
			"member":         newMemberResponse(result.Membership),
			"is_new_account": false,
		})
		return
	}

	// The raw token is surfaced exactly once, in this response. Only its
	// hash is stored, so it cannot be recovered later.
	c.JSON(http.StatusCreated, gin.H{
		"invite":         newInviteResponse(result.Invite),
		"token":          result.Token,
		"is_new_account": result.IsNewAccount,
	})
}

func (s *Server) ListInvites(c *gin.Context) {
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

	invites, pageInfo, err := s.membershipSvc.ListInvites(c.Request.Context(), tenantID, account.ID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]inviteResponse, 0, len(invites))
	for i := range invites {
		out = append(out, newInviteResponse(&invites[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"invites":   out,
		"page_info": pageInfo,
	})
}

func (s *Server) CancelInvite(c *gin.Context) {
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

	inviteID, err := snowflake.ParseString(strings.TrimSpace(c.Param("invite_id")))
	if err != nil || inviteID == 0 {
		AbortWithError(c, newValidationError("invite_id", "invalid_invite_id", "invalid invite id"))
		return
	}

	if err := s.membershipSvc.CancelInvite(c.Request.Context(), tenantID, account.ID, inviteID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) AcceptInvite(c *gin.Context) {
	account, ok := s.accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req acceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, newValidationError("token", "required", "token is required"))
		return
	}

	member, err := s.membershipSvc.AcceptInvite(c.Request.Context(), account.ID, strings.TrimSpace(req.Token))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := newMemberResponse(member)
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": member.TenantID.String(),
		"member":    resp,
	})
}
