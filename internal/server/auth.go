package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
)

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func newAccountResponse(account *identitydomain.Account) accountResponse {
	return accountResponse{
		ID:          account.ID.String(),
		Email:       account.Email,
		DisplayName: account.DisplayName,
		Metadata:    account.Metadata,
		CreatedAt:   account.CreatedAt,
	}
}

func (s *Server) Register(c *gin.Context) {
	if !s.cfg.Bootstrap.AllowSignUp {
		AbortWithError(c, identitydomain.ErrSignUpDisabled)
		return
	}

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.identitySvc.Register(c.Request.Context(), identitydomain.RegisterInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newAccountResponse(account))
}

func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	if s.limiter.Enabled() {
		allowed, err := s.limiter.AllowLogin(c.Request.Context(), email)
		if err == nil && !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
	}

	result, err := s.identitySvc.Login(c.Request.Context(), identitydomain.LoginInput{
		Email:     email,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		if s.auditSvc != nil {
			_ = s.auditSvc.AuditLog(c.Request.Context(), nil, string(auditdomain.ActorTypeAccount), nil, "account.login_failed", "account", nil, map[string]any{
				"email": email,
			})
		}
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, result.Token, result.Session.ExpiresAt)

	if s.auditSvc != nil {
		accountID := result.Account.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, string(auditdomain.ActorTypeAccount), &accountID, "account.login", "account", &accountID, map[string]any{
			"email": email,
		})
	}

	c.JSON(http.StatusOK, newAccountResponse(result.Account))
}

func (s *Server) Logout(c *gin.Context) {
	token, ok := s.sessions.ReadToken(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.identitySvc.Logout(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) Me(c *gin.Context) {
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

	c.JSON(http.StatusOK, gin.H{
		"account": newAccountResponse(account),
		"tenants": tenants,
	})
}
