package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"judgehub/internal/auth"
	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	"judgehub/internal/common/metrics"
	"judgehub/internal/common/mq"
	"judgehub/internal/common/storage"
	"judgehub/internal/common/validate"
	contestController "judgehub/internal/contest/controller"
	contestRepo "judgehub/internal/contest/repository"
	contestService "judgehub/internal/contest/service"
	instanceController "judgehub/internal/instance/controller"
	instanceRepo "judgehub/internal/instance/repository"
	instanceService "judgehub/internal/instance/service"
	problemRepo "judgehub/internal/problem/repository"
	runnerController "judgehub/internal/runner/controller"
	runnerRepo "judgehub/internal/runner/repository"
	runnerService "judgehub/internal/runner/service"
	solutionController "judgehub/internal/solution/controller"
	solutionRepo "judgehub/internal/solution/repository"
	solutionService "judgehub/internal/solution/service"
	"judgehub/internal/store/memory"
	"judgehub/internal/task"
	"judgehub/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/coordinator.yaml"

// stores bundles the repositories of the selected store driver.
type stores struct {
	solutions    solutionRepo.SolutionRepository
	instances    instanceRepo.InstanceRepository
	contests     contestRepo.ContestRepository
	participants contestRepo.ParticipantRepository
	runners      runnerRepo.RunnerRepository
	problems     problemRepo.ProblemRepository
	ping         func(ctx context.Context) error
	close        func() error
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()

	// Redis is optional: without it runner records are not cached, polls are
	// not rate limited and every coordinator sweeps.
	var (
		cacheClient cache.Cache
		redisCache  *cache.RedisCache
	)
	if appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(ctx, "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		cacheClient = redisCache
	}

	st, err := openStores(ctx, appCfg, cacheClient)
	if err != nil {
		logger.Error(ctx, "init store failed", zap.String("driver", appCfg.Store.Driver), zap.Error(err))
		return
	}
	defer func() {
		_ = st.close()
	}()

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Enabled() {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(ctx, "init minio failed", zap.Error(err))
			return
		}
		objStorage = minioStorage
	} else {
		logger.Warn(ctx, "object storage is not configured; judging and ranklist polls will be refused")
	}

	var producer mq.Producer
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(ctx, "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = kafkaProducer.Close()
		}()
		producer = kafkaProducer
	}
	solutionEvents := mq.NewEventPublisher(producer, appCfg.Events.SolutionTopic)
	ranklistEvents := mq.NewEventPublisher(producer, appCfg.Events.RanklistTopic)

	m := metrics.New(prometheus.DefaultRegisterer, metrics.Labels("coordinator"))
	checker := auth.TokenChecker{}
	validator := validate.New()
	clock := task.SystemClock

	var heartbeat cache.BasicOps
	var limiter *auth.RateLimiter
	var sweepLock cache.LockOps
	var statuses solutionService.StatusStore
	if cacheClient != nil {
		heartbeat = cacheClient
		limiter = auth.NewRateLimiter(cacheClient, appCfg.Runner.RateLimit.Window, 0)
		sweepLock = cacheClient
		statuses = problemRepo.NewStatusRepository(cacheClient)
	}

	runnerSvc := runnerService.NewRunnerService(st.runners, heartbeat, appCfg.Runner.Config, clock)
	contestSvc := contestService.NewContestService(st.contests, checker, ranklistEvents, clock)

	solutionSvc, err := solutionService.NewSolutionService(solutionService.Config{
		Solutions:    st.solutions,
		Problems:     st.problems,
		Checker:      checker,
		Contests:     st.contests,
		Participants: st.participants,
		Ranklists:    contestSvc,
		Statuses:     statuses,
		Storage:      objStorage,
		Events:       solutionEvents,
		Metrics:      m,
		Clock:        clock,
		ClaimTTL:     appCfg.Solution.ClaimTTL,
		PresignTTL:   appCfg.Solution.PresignTTL,
	})
	if err != nil {
		logger.Error(ctx, "init solution service failed", zap.Error(err))
		return
	}

	instanceSvc, err := instanceService.NewInstanceService(st.instances, st.problems, st.contests, checker, m, clock, appCfg.Instance.ClaimTTL)
	if err != nil {
		logger.Error(ctx, "init instance service failed", zap.Error(err))
		return
	}

	ranklistSvc, err := contestService.NewRanklistService(contestService.RanklistConfig{
		Contests:     st.contests,
		Participants: st.participants,
		Solutions:    st.solutions,
		Problems:     st.problems,
		Storage:      objStorage,
		Metrics:      m,
		Clock:        clock,
		PageSize:     appCfg.Ranklist.PageSize,
		PresignTTL:   appCfg.Ranklist.PresignTTL,
	})
	if err != nil {
		logger.Error(ctx, "init ranklist service failed", zap.Error(err))
		return
	}

	driver := contestService.NewStageDriver(st.contests, sweepLock, contestSvc, m, clock, appCfg.Sweep)

	var tokens *auth.TokenService
	if appCfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenService(appCfg.Auth.JWTSecret, appCfg.Auth.Issuer)
	} else {
		logger.Warn(ctx, "jwt secret is empty; user and admin endpoints are disabled")
	}

	health := []healthCheck{{name: "store", check: st.ping}}
	if redisCache != nil {
		health = append(health, healthCheck{name: "redis", check: redisCache.Ping})
	}

	httpServer := buildHTTPServer(appCfg, routeDeps{
		metrics:   m,
		tokens:    tokens,
		runners:   runnerSvc,
		limiter:   limiter,
		health:    health,
		runner:    runnerController.NewRunnerController(runnerSvc, validator),
		solution:  solutionController.NewSolutionController(solutionSvc, validator),
		instance:  instanceController.NewInstanceController(instanceSvc, validator),
		contest:   contestController.NewContestController(contestSvc, ranklistSvc, driver, validator),
		rateLimit: appCfg.Runner.RateLimit,
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go driver.Run(shutdownCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "coordinator http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("store", appCfg.Store.Driver),
		)
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}
	stop()

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *AppConfig, cacheClient cache.Cache) (*stores, error) {
	if cfg.Store.Driver == storeMemory {
		mem := memory.New()
		if cfg.Store.SeedFile != "" {
			if err := seedMemoryStore(ctx, mem, cfg.Store.SeedFile); err != nil {
				return nil, err
			}
		}
		logger.Warn(ctx, "using the in-memory store; state is lost on restart")
		return &stores{
			solutions:    mem.Solutions,
			instances:    mem.Instances,
			contests:     mem.Contests,
			participants: mem.Participants,
			runners:      mem.Runners,
			problems:     mem.Problems,
			ping:         func(context.Context) error { return nil },
			close:        func() error { return nil },
		}, nil
	}

	mysqlDB, err := db.NewMySQLWithConfig(&cfg.MySQL)
	if err != nil {
		return nil, err
	}
	return &stores{
		solutions:    solutionRepo.NewSolutionRepository(mysqlDB),
		instances:    instanceRepo.NewInstanceRepository(mysqlDB),
		contests:     contestRepo.NewContestRepository(mysqlDB),
		participants: contestRepo.NewParticipantRepository(mysqlDB),
		runners:      runnerRepo.NewRunnerRepository(mysqlDB, cacheClient),
		problems:     problemRepo.NewProblemRepository(mysqlDB, cacheClient),
		ping:         mysqlDB.Ping,
		close:        mysqlDB.Close,
	}, nil
}
