package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	identityrepo "github.com/smallbiznis/atrium/internal/identity/repository"
	identityservice "github.com/smallbiznis/atrium/internal/identity/service"
	"github.com/smallbiznis/atrium/internal/identity/session"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/atrium/internal/membership/repository"
	membershipservice "github.com/smallbiznis/atrium/internal/membership/service"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/atrium/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/atrium/internal/tenant/service"
	"github.com/smallbiznis/atrium/pkg/db"
)

type serverTestEnv struct {
	srv *Server
	db  *gorm.DB
}

func newServerTestEnv(t *testing.T) *serverTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&identitydomain.Account{},
		&identitydomain.Session{},
		&tenantdomain.Tenant{},
		&membershipdomain.Membership{},
		&membershipdomain.Invite{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	cfg := config.Config{
		HTTPAddr: ":0",
		Bootstrap: config.BootstrapConfig{
			AllowSignUp: true,
		},
	}

	accountRepo, sessionRepo := identityrepo.New(dbConn)
	identitySvc := identityservice.New(log, accountRepo, sessionRepo, node, clk)

	enforcer, err := authorization.NewEnforcer(dbConn)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{
		DB:       dbConn,
		Log:      log,
		Enforcer: enforcer,
	})

	memberRepo := membershiprepo.NewRepository(dbConn)
	ledger := membershiprepo.NewInviteLedger(dbConn)
	tenantRepo := tenantrepo.NewRepository(dbConn)
	tenantSvc := tenantservice.NewService(dbConn, log, tenantRepo, memberRepo, authzSvc, node, clk)

	membershipSvc := membershipservice.NewService(membershipservice.Params{
		DB:       dbConn,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     memberRepo,
		Ledger:   ledger,
		Identity: identitySvc,
		Tenants:  tenantRepo,
		Authz:    authzSvc,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:           engine,
		Cfg:           cfg,
		DB:            dbConn,
		GenID:         node,
		Sessions:      session.NewManager(cfg),
		IdentitySvc:   identitySvc,
		TenantSvc:     tenantSvc,
		MembershipSvc: membershipSvc,
		AuthzSvc:      authzSvc,
	})

	return &serverTestEnv{srv: srv, db: dbConn}
}

func (e *serverTestEnv) do(t *testing.T, method, path, sid string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: sid})
	}

	rec := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func (e *serverTestEnv) signup(t *testing.T, email string) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email":        email,
		"display_name": "Test Account",
		"password":     "correct horse battery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"email":    email,
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == session.DefaultCookieName && cookie.Value != "" {
			return cookie.Value
		}
	}
	t.Fatal("no session cookie set on login")
	return ""
}

func (e *serverTestEnv) createTenant(t *testing.T, sid, name string) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/tenants", sid, gin.H{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := newServerTestEnv(t)
	sid := env.signup(t, "owner@example.com")

	rec := env.do(t, http.MethodGet, "/auth/me", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Account accountResponse `json:"account"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "owner@example.com", resp.Account.Email)
}

func TestLoginBadPassword(t *testing.T) {
	env := newServerTestEnv(t)
	env.signup(t, "owner@example.com")

	rec := env.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "owner@example.com",
		"password": "not the password",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unauthorized", resp.Error.Type)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newServerTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/tenants", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/tenants", "bogus-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInviteFlowOverHTTP(t *testing.T) {
	env := newServerTestEnv(t)
	ownerSID := env.signup(t, "owner@example.com")
	tenantID := env.createTenant(t, ownerSID, "Acme")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tenants/%s/invites", tenantID), ownerSID, gin.H{
		"email": "newhire@example.com",
		"role":  "manager",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Invite       inviteResponse `json:"invite"`
		Token        string         `json:"token"`
		IsNewAccount bool           `json:"is_new_account"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Token)
	require.True(t, created.IsNewAccount)
	require.Equal(t, "MANAGER", created.Invite.Role)

	// Issuing the invite provisioned a credential-less account, so a fresh
	// registration for the same email conflicts.
	rec = env.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email":        "newhire@example.com",
		"display_name": "New Hire",
		"password":     "another fine password",
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// The owner cannot redeem an invite addressed to someone else, and the
	// attempt still spends the token.
	rec = env.do(t, http.MethodPost, "/api/v1/invites/accept", ownerSID, gin.H{"token": created.Token})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "validation_error", resp.Error.Type)
	require.Equal(t, "invalid_token", resp.Error.Errors[0].Code)
}

func TestListMembersRequiresMembershipOverHTTP(t *testing.T) {
	env := newServerTestEnv(t)
	ownerSID := env.signup(t, "owner@example.com")
	strangerSID := env.signup(t, "stranger@example.com")
	tenantID := env.createTenant(t, ownerSID, "Acme")

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tenants/%s/members", tenantID), ownerSID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tenants/%s/members", tenantID), strangerSID, nil)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestChangeRoleOverHTTP(t *testing.T) {
	env := newServerTestEnv(t)
	ownerSID := env.signup(t, "owner@example.com")
	memberSID := env.signup(t, "member@example.com")
	tenantID := env.createTenant(t, ownerSID, "Acme")

	var member identitydomain.Account
	require.NoError(t, env.db.Where("email = ?", "member@example.com").First(&member).Error)

	// The address already has an account, so the invite links it as a
	// member on the spot with no token round trip.
	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tenants/%s/invites", tenantID), ownerSID, gin.H{
		"email": "member@example.com",
		"role":  "viewer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Member       *memberResponse `json:"member"`
		Token        string          `json:"token"`
		IsNewAccount bool            `json:"is_new_account"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.False(t, created.IsNewAccount)
	require.Empty(t, created.Token)
	require.NotNil(t, created.Member)
	require.Equal(t, "VIEWER", created.Member.Role)

	// A viewer holds no manage-users permission.
	rec = env.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/tenants/%s/members/%s/role", tenantID, member.ID), memberSID, gin.H{
		"role": "admin",
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/tenants/%s/members/%s/role", tenantID, member.ID), ownerSID, gin.H{
		"role": "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated memberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, "ADMIN", updated.Role)
}

func TestSignUpDisabled(t *testing.T) {
	env := newServerTestEnv(t)
	env.srv.cfg.Bootstrap.AllowSignUp = false

	rec := env.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email":        "someone@example.com",
		"display_name": "Someone",
		"password":     "long enough password",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}
