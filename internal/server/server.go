package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/atrium/internal/audit"
	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/identity"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	"github.com/smallbiznis/atrium/internal/identity/session"
	"github.com/smallbiznis/atrium/internal/membership"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/observability"
	obsmiddleware "github.com/smallbiznis/atrium/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	obstracing "github.com/smallbiznis/atrium/internal/observability/tracing"
	"github.com/smallbiznis/atrium/internal/providers/email"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	"github.com/smallbiznis/atrium/internal/tenant"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	email.Module,
	ratelimit.Module,
	identity.Module,
	session.Module,
	tenant.Module,
	membership.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	sessions      *session.Manager
	identitySvc   identitydomain.Service
	tenantSvc     tenantdomain.Service
	membershipSvc membershipdomain.Service
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	limiter       *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	Sessions      *session.Manager
	IdentitySvc   identitydomain.Service
	TenantSvc     tenantdomain.Service
	MembershipSvc membershipdomain.Service
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service `optional:"true"`
	Limiter       *ratelimit.Limiter  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		sessions:      p.Sessions,
		identitySvc:   p.IdentitySvc,
		tenantSvc:     p.TenantSvc,
		membershipSvc: p.MembershipSvc,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		limiter:       p.Limiter,
	}

	s.registerAuthRoutes()
	s.registerAPIRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/register", s.Register)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", s.AuthRequired())

	api.POST("/tenants", s.CreateTenant)
	api.GET("/tenants", s.ListTenants)
	api.POST("/invites/accept", s.AcceptInvite)

	scoped := api.Group("/tenants/:tenant_id", s.TenantContext())
	scoped.GET("", s.GetTenant)

	scoped.GET("/members", s.ListMembers)
	scoped.GET("/members/:account_id", s.GetMember)
	scoped.PATCH("/members/:account_id/role", s.ChangeMemberRole)
	scoped.PUT("/members/:account_id/permissions", s.UpdateMemberPermissions)
	scoped.DELETE("/members/:account_id", s.RemoveMember)

	scoped.POST("/invites", s.CreateInvite)
	scoped.GET("/invites", s.ListInvites)
	scoped.DELETE("/invites/:invite_id", s.CancelInvite)

	scoped.GET("/audit-logs", s.ListAuditLogs)
}
