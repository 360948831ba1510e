package server

import (
	"context"
	"net/http"
	"time"

	"github.com/andora/tokenledger/internal/account"
	"github.com/andora/tokenledger/internal/agentconfig"
	agentdomain "github.com/andora/tokenledger/internal/agentconfig/domain"
	"github.com/andora/tokenledger/internal/config"
	"github.com/andora/tokenledger/internal/eventcache"
	eventdomain "github.com/andora/tokenledger/internal/eventcache/domain"
	"github.com/andora/tokenledger/internal/monitoring"
	monitoringdomain "github.com/andora/tokenledger/internal/monitoring/domain"
	"github.com/andora/tokenledger/internal/observability"
	obsmiddleware "github.com/andora/tokenledger/internal/observability/logger"
	obsmetrics "github.com/andora/tokenledger/internal/observability/metrics"
	obstracing "github.com/andora/tokenledger/internal/observability/tracing"
	"github.com/andora/tokenledger/internal/ratelimit"
	"github.com/andora/tokenledger/internal/reporting"
	reportingdomain "github.com/andora/tokenledger/internal/reporting/domain"
	"github.com/andora/tokenledger/internal/usage"
	usagedomain "github.com/andora/tokenledger/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	account.Module,
	usage.Module,
	monitoring.Module,
	agentconfig.Module,
	eventcache.Module,
	reporting.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(debug bool, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           debug,
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
	return NewEngine(obsCfg.Debug(), httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	genID         *snowflake.Node
	usageSvc      usagedomain.Service
	monitoringSvc monitoringdomain.Service
	agentSvc      agentdomain.Service
	eventCacheSvc eventdomain.Service
	reportingSvc  reportingdomain.Service
	obsMetrics    *obsmetrics.Metrics
	recordLimiter *ratelimit.RecordLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	GenID         *snowflake.Node
	UsageSvc      usagedomain.Service
	MonitoringSvc monitoringdomain.Service
	AgentSvc      agentdomain.Service
	EventCacheSvc eventdomain.Service
	ReportingSvc  reportingdomain.Service
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
	RecordLimiter *ratelimit.RecordLimiter  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		genID:         p.GenID,
		usageSvc:      p.UsageSvc,
		monitoringSvc: p.MonitoringSvc,
		agentSvc:      p.AgentSvc,
		eventCacheSvc: p.EventCacheSvc,
		reportingSvc:  p.ReportingSvc,
		obsMetrics:    p.ObsMetrics,
		recordLimiter: p.RecordLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/usage/record", s.RecordRateLimit(), s.RecordUsage)

	v1.GET("/agents/configs", s.ListAgentConfigs)
	v1.GET("/agents/:agent/config", s.GetAgentConfig)
	v1.PATCH("/agents/:agent/config", s.UpdateAgentConfig)
	v1.GET("/agents/:agent/prompts", s.ListAgentPrompts)
	v1.GET("/agents/:agent/prompts/:key", s.GetAgentPrompt)
	v1.PUT("/agents/:agent/prompts/:key", s.UpsertAgentPrompt)
	v1.POST("/agents/:agent/performance", s.TrackAgentPerformance)
	v1.GET("/agents/:agent/analytics", s.GetAgentAnalytics)
	v1.POST("/prompts/render", s.RenderPrompt)
	v1.POST("/caches/clear", s.ClearCaches)

	v1.GET("/monitoring/alerts", s.GetAlerts)
	v1.GET("/monitoring/stats", s.GetSystemStats)
	v1.GET("/monitoring/users/:id/pattern", s.AnalyzeUserPattern)
	v1.GET("/monitoring/users/:id/usage", s.GetUserUsageBreakdown)

	v1.PUT("/brands/:brand/calendar/:key", s.PutEventCalendar)
	v1.GET("/brands/:brand/calendar/:key", s.GetEventCalendar)
	v1.POST("/calendar-cache/purge", s.PurgeEventCalendar)
	v1.GET("/brands/:brand/usage/monthly", s.GetMonthlySummary)
}
