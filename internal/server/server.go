package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stackfleet/conductor/internal/authorization"
	"github.com/stackfleet/conductor/internal/config"
	eventlogdomain "github.com/stackfleet/conductor/internal/eventlog/domain"
	"github.com/stackfleet/conductor/internal/observability"
	obslogger "github.com/stackfleet/conductor/internal/observability/logger"
	obsmetrics "github.com/stackfleet/conductor/internal/observability/metrics"
	"github.com/stackfleet/conductor/internal/provisioning"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	"github.com/stackfleet/conductor/internal/ratelimit"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	"github.com/stackfleet/conductor/internal/structure"
	structuredomain "github.com/stackfleet/conductor/internal/structure/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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
	engine           *gin.Engine
	cfg              config.Config
	log              *zap.Logger
	db               *gorm.DB
	authzSvc         authorization.Service
	structureSvc     structuredomain.Service
	resourceSvc      resourcedomain.Service
	quotaSvc         quotadomain.Service
	eventSvc         eventlogdomain.Service
	resolver         *structure.Resolver
	orchestrator     *provisioning.Orchestrator
	provisionLimiter *ratelimit.ProvisionLimiter
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	Log              *zap.Logger
	DB               *gorm.DB
	AuthzSvc         authorization.Service
	StructureSvc     structuredomain.Service
	ResourceSvc      resourcedomain.Service
	QuotaSvc         quotadomain.Service
	EventSvc         eventlogdomain.Service
	Resolver         *structure.Resolver
	Orchestrator     *provisioning.Orchestrator
	ProvisionLimiter *ratelimit.ProvisionLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		log:              p.Log.Named("http.server"),
		db:               p.DB,
		authzSvc:         p.AuthzSvc,
		structureSvc:     p.StructureSvc,
		resourceSvc:      p.ResourceSvc,
		quotaSvc:         p.QuotaSvc,
		eventSvc:         p.EventSvc,
		resolver:         p.Resolver,
		orchestrator:     p.Orchestrator,
		provisionLimiter: p.ProvisionLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.ActorRequired())

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)
	api.DELETE("/customers/:id", s.DeleteCustomer)
	api.POST("/customers/:id/members", s.AddCustomerMember)

	// -------- Projects --------
	api.GET("/projects", s.ListProjects)
	api.POST("/projects", s.CreateProject)
	api.GET("/projects/:id", s.GetProjectByID)
	api.DELETE("/projects/:id", s.DeleteProject)

	// -------- Service project links --------
	api.GET("/links", s.ListLinks)
	api.POST("/links", s.CreateLink)
	api.GET("/links/:id", s.GetLinkByID)
	api.DELETE("/links/:id", s.DeleteLink)

	// -------- Resources --------
	api.GET("/resources", s.ListResources)
	api.POST("/resources", s.CreateResource)
	api.GET("/resources/:id", s.GetResourceByID)
	api.POST("/resources/:id/provision", s.ProvisionResource)
	api.POST("/resources/:id/start", s.StartResource)
	api.POST("/resources/:id/stop", s.StopResource)
	api.POST("/resources/:id/restart", s.RestartResource)
	api.POST("/resources/:id/destroy", s.DestroyResource)

	// -------- Quotas --------
	api.GET("/quotas", s.ListQuotas)
	api.PUT("/quotas/:owner_type/:owner_id/:name", s.SetQuotaLimit)

	// -------- Events --------
	api.GET("/events", s.ListEvents)

	if s.cfg.Environment != "production" {
		api.POST("/test/cleanup", s.TestCleanup)
	}
}
