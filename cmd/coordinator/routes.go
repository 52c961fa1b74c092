package main

import (
	"context"
	"net/http"
	"time"

	"judgehub/internal/auth"
	"judgehub/internal/common/http/middleware"
	"judgehub/internal/common/metrics"
	contestController "judgehub/internal/contest/controller"
	instanceController "judgehub/internal/instance/controller"
	runnerController "judgehub/internal/runner/controller"
	runnerService "judgehub/internal/runner/service"
	solutionController "judgehub/internal/solution/controller"
	"judgehub/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

type routeDeps struct {
	metrics   *metrics.Metrics
	tokens    *auth.TokenService
	runners   *runnerService.RunnerService
	limiter   *auth.RateLimiter
	rateLimit RateLimitConfig
	health    []healthCheck

	runner   *runnerController.RunnerController
	solution *solutionController.SolutionController
	instance *instanceController.InstanceController
	contest  *contestController.ContestController
}

func buildHTTPServer(cfg *AppConfig, deps routeDeps) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContextMiddleware())
	router.Use(middleware.AccessLog(deps.metrics))

	registerRoutes(router, cfg, deps)

	var handler http.Handler = router
	if cfg.Server.Gzip {
		handler = gzhttp.GzipHandler(router)
	}
	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func registerRoutes(router *gin.Engine, cfg *AppConfig, deps routeDeps) {
	router.GET("/healthz", healthHandler(deps.health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	api.POST("/runner/register", deps.runner.Register)
	runner := api.Group("/runner", auth.RunnerAuth(deps.runners))
	runner.GET("/ping", deps.runner.Ping)

	poll := func(kind string) gin.HandlerFunc {
		return auth.RunnerRateLimit(deps.limiter, kind+":poll", deps.rateLimit.PollMax)
	}

	runner.POST("/solution/poll", poll(metrics.KindSolution), deps.solution.Poll)
	runner.PATCH("/solution/:solutionId/task/:taskId", deps.solution.Patch)
	runner.POST("/solution/:solutionId/task/:taskId/complete", deps.solution.Complete)

	runner.POST("/instance/poll", poll(metrics.KindInstance), deps.instance.Poll)
	runner.PATCH("/instance/:instanceId/task/:taskId", deps.instance.Patch)
	runner.POST("/instance/:instanceId/task/:taskId/complete", deps.instance.Complete)

	runner.POST("/ranklist/poll", poll(metrics.KindRanklist), deps.contest.PollRanklist)
	ranklist := runner.Group("/ranklist/:contestId/task/:taskId")
	ranklist.GET("/problems", deps.contest.Problems)
	ranklist.GET("/participants", deps.contest.Participants)
	ranklist.GET("/solutions", deps.contest.Solutions)
	ranklist.GET("/upload-urls", deps.contest.UploadURLs)
	ranklist.POST("/complete", deps.contest.CompleteRanklist)

	user := api.Group("", auth.PrincipalAuth(deps.tokens))
	user.POST("/solutions", deps.solution.Create)
	user.GET("/solutions/:id", deps.solution.Get)
	user.GET("/statuses", deps.solution.Statuses)
	user.POST("/solutions/:id/submit", deps.solution.Submit)
	user.POST("/solutions/:id/rejudge", deps.solution.Rejudge)
	user.POST("/problems/:problemId/solutions/submit-all", deps.solution.SubmitAll)
	user.POST("/problems/:problemId/solutions/rejudge-all", deps.solution.RejudgeAll)

	user.POST("/instances", deps.instance.Create)
	user.GET("/instances/:id", deps.instance.Get)
	user.POST("/instances/:id/destroy", deps.instance.Destroy)

	user.GET("/contests/:id", deps.contest.Get)
	user.PUT("/contests/:id/stages", deps.contest.UpdateStages)
	user.POST("/contests/:id/ranklist/invalidate", deps.contest.InvalidateRanklist)

	internal := router.Group("/internal", auth.InternalToken(cfg.Auth.InternalToken))
	internal.POST("/contests/status-sweep", deps.contest.Sweep)
}

func healthHandler(checks []healthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		status := gin.H{}
		healthy := true
		for _, hc := range checks {
			if err := hc.check(ctx); err != nil {
				healthy = false
				status[hc.name] = err.Error()
				logger.Warn(ctx, "health check failed", zap.String("check", hc.name), zap.Error(err))
				continue
			}
			status[hc.name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
