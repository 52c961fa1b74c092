package main

import (
	"fmt"
	"os"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	"judgehub/internal/common/mq"
	"judgehub/internal/common/storage"
	contestService "judgehub/internal/contest/service"
	runnerService "judgehub/internal/runner/service"
	"judgehub/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	storeMySQL  = "mysql"
	storeMemory = "memory"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// Gzip compresses responses for clients that accept it.
	Gzip bool `yaml:"gzip"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// SeedFile loads problems and contests into the memory store at startup.
	SeedFile string `yaml:"seedFile"`
}

// AuthConfig holds principal and internal endpoint credentials.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwtSecret"`
	Issuer        string `yaml:"issuer"`
	InternalToken string `yaml:"internalToken"`
}

// RateLimitConfig bounds runner poll frequency.
type RateLimitConfig struct {
	Window  time.Duration `yaml:"window"`
	PollMax int           `yaml:"pollMax"`
}

// RunnerConfig holds runner registration and liveness settings.
type RunnerConfig struct {
	runnerService.Config `yaml:",inline"`
	RateLimit            RateLimitConfig `yaml:"rateLimit"`
}

// SolutionConfig holds solution judging settings.
type SolutionConfig struct {
	ClaimTTL   time.Duration `yaml:"claimTTL"`
	PresignTTL time.Duration `yaml:"presignTTL"`
}

// InstanceConfig holds instance lifecycle settings.
type InstanceConfig struct {
	ClaimTTL time.Duration `yaml:"claimTTL"`
}

// RanklistConfig holds ranklist export settings.
type RanklistConfig struct {
	PageSize   int           `yaml:"pageSize"`
	PresignTTL time.Duration `yaml:"presignTTL"`
}

// EventsConfig names the topics events are published to.
type EventsConfig struct {
	SolutionTopic string `yaml:"solutionTopic"`
	RanklistTopic string `yaml:"ranklistTopic"`
}

// AppConfig holds coordinator configuration.
type AppConfig struct {
	Server   ServerConfig               `yaml:"server"`
	Logger   logger.Config              `yaml:"logger"`
	Store    StoreConfig                `yaml:"store"`
	MySQL    db.MySQLConfig             `yaml:"mysql"`
	Redis    cache.RedisConfig          `yaml:"redis"`
	MinIO    storage.MinIOConfig        `yaml:"minio"`
	Kafka    mq.KafkaConfig             `yaml:"kafka"`
	Events   EventsConfig               `yaml:"events"`
	Auth     AuthConfig                 `yaml:"auth"`
	Runner   RunnerConfig               `yaml:"runner"`
	Solution SolutionConfig             `yaml:"solution"`
	Instance InstanceConfig             `yaml:"instance"`
	Ranklist RanklistConfig             `yaml:"ranklist"`
	Sweep    contestService.SweepConfig `yaml:"sweep"`
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	switch cfg.Store.Driver {
	case "":
		cfg.Store.Driver = storeMySQL
	case storeMySQL, storeMemory:
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == storeMySQL && cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}

	if cfg.Runner.RateLimit.Window == 0 {
		cfg.Runner.RateLimit.Window = time.Second
	}
	if cfg.Events.SolutionTopic == "" {
		cfg.Events.SolutionTopic = "judgehub.solution"
	}
	if cfg.Events.RanklistTopic == "" {
		cfg.Events.RanklistTopic = "judgehub.ranklist"
	}
	if cfg.Solution.PresignTTL == 0 {
		cfg.Solution.PresignTTL = cfg.MinIO.PresignTTL
	}
	if cfg.Ranklist.PresignTTL == 0 {
		cfg.Ranklist.PresignTTL = cfg.MinIO.PresignTTL
	}
	return &cfg, nil
}
