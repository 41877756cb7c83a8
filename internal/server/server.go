package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	"github.com/smallbiznis/famlink/internal/config"
	lifecycledomain "github.com/smallbiznis/famlink/internal/lifecycle/domain"
	"github.com/smallbiznis/famlink/internal/observability"
	obsmiddleware "github.com/smallbiznis/famlink/internal/observability/logger"
	obstracing "github.com/smallbiznis/famlink/internal/observability/tracing"
	slotdomain "github.com/smallbiznis/famlink/internal/slotledger/domain"
	syncdomain "github.com/smallbiznis/famlink/internal/syncjob/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
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
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	accountSvc   accountdomain.Service
	lifecycleSvc lifecycledomain.Service
	slotSvc      slotdomain.Service
	syncSvc      syncdomain.Scheduler
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	AccountSvc   accountdomain.Service
	LifecycleSvc lifecycledomain.Service
	SlotSvc      slotdomain.Service
	SyncSvc      syncdomain.Scheduler
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		accountSvc:   p.AccountSvc,
		lifecycleSvc: p.LifecycleSvc,
		slotSvc:      p.SlotSvc,
		syncSvc:      p.SyncSvc,
	}
}

func registerRoutes(s *Server) {
	s.registerFamilyRoutes()
	s.registerSyncRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerFamilyRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/accounts", s.CreateAccount)
	v1.GET("/accounts/:id", s.GetAccount)

	family := v1.Group("/family/:owner_id")
	family.GET("/members", s.ListFamilyMembers)
	family.POST("/members", s.CreateFamilyMember)
	family.DELETE("/members", s.RemoveFamilyMembers)
	family.GET("/slots", s.GetSlotSummary)
	family.POST("/slots/purchase", s.PurchaseSlots)
}

func (s *Server) registerSyncRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/sync/jobs", s.ListSyncJobs)
	v1.POST("/sync/jobs/:id/retry", s.RetrySyncJob)
}
