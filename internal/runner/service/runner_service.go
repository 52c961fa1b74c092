package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	stderrors "errors"
	"strings"
	"time"

	"judgehub/internal/auth"
	"judgehub/internal/common/cache"
	"judgehub/internal/runner/model"
	"judgehub/internal/runner/repository"
	"judgehub/internal/task"
	pkgerrors "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAuthCacheTTL      = time.Minute
	defaultAuthCacheSize     = 4096
	defaultHeartbeatInterval = 30 * time.Second
	heartbeatKeyPrefix       = "runner:heartbeat:"
)

// Config holds configuration for RunnerService.
type Config struct {
	// RegistrationTokens maps a registration secret to the organization the
	// registering runner joins.
	RegistrationTokens map[string]string `yaml:"registrationTokens"`
	AuthCacheTTL       time.Duration     `yaml:"authCacheTTL"`
	AuthCacheSize      int               `yaml:"authCacheSize"`
	HeartbeatInterval  time.Duration     `yaml:"heartbeatInterval"`
}

// RunnerService registers and authenticates runners.
type RunnerService struct {
	runners   repository.RunnerRepository
	heartbeat cache.BasicOps
	verified  *auth.LRUCache[*model.Runner]
	config    Config
	now       task.Clock
}

// NewRunnerService creates a new RunnerService. heartbeat may be nil, in
// which case every authenticated call records liveness.
func NewRunnerService(runners repository.RunnerRepository, heartbeat cache.BasicOps, cfg Config, now task.Clock) *RunnerService {
	if cfg.AuthCacheTTL == 0 {
		cfg.AuthCacheTTL = defaultAuthCacheTTL
	}
	if cfg.AuthCacheSize == 0 {
		cfg.AuthCacheSize = defaultAuthCacheSize
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if now == nil {
		now = task.SystemClock
	}
	return &RunnerService{
		runners:   runners,
		heartbeat: heartbeat,
		verified:  auth.NewLRUCache[*model.Runner](cfg.AuthCacheSize, cfg.AuthCacheTTL),
		config:    cfg,
		now:       now,
	}
}

// RegisterInput is the body of a registration call.
type RegisterInput struct {
	Token   string   `json:"token" validate:"required"`
	Name    string   `json:"name" validate:"required,max=128"`
	Labels  []string `json:"labels" validate:"required,min=1,max=64,dive,label,max=128"`
	Version string   `json:"version" validate:"max=64"`
}

// Registration is returned once; the key is never stored in clear.
type Registration struct {
	RunnerID  string `json:"runnerId"`
	RunnerKey string `json:"runnerKey"`
}

// Register creates a runner in the organization the token belongs to.
func (s *RunnerService) Register(ctx context.Context, input RegisterInput) (Registration, error) {
	orgID, ok := s.lookupRegistration(input.Token)
	if !ok {
		return Registration{}, pkgerrors.New(pkgerrors.RunnerRegistrationDenied)
	}
	key, err := randomKey()
	if err != nil {
		return Registration{}, pkgerrors.Wrap(err, pkgerrors.InternalServerError)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return Registration{}, pkgerrors.Wrap(err, pkgerrors.InternalServerError)
	}
	now := s.now()
	runner := &model.Runner{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		Name:       strings.TrimSpace(input.Name),
		Labels:     input.Labels,
		KeyHash:    string(hash),
		Version:    input.Version,
		CreatedAt:  now,
		AccessedAt: now,
	}
	if err := s.runners.Create(ctx, runner); err != nil {
		return Registration{}, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	logger.Info(ctx, "runner registered",
		zap.String("runner_id", runner.ID),
		zap.String("org_id", orgID),
		zap.Strings("labels", runner.Labels),
	)
	return Registration{RunnerID: runner.ID, RunnerKey: key}, nil
}

// Authenticate verifies the runner's key and records liveness.
func (s *RunnerService) Authenticate(ctx context.Context, runnerID, key string) (*model.Runner, error) {
	cacheKey := fingerprint(runnerID, key)
	if runner, ok := s.verified.Get(cacheKey); ok {
		s.touch(ctx, runner.ID)
		return runner, nil
	}

	runner, err := s.runners.Get(ctx, runnerID)
	if err != nil {
		if stderrors.Is(err, repository.ErrRunnerNotFound) {
			return nil, pkgerrors.New(pkgerrors.RunnerKeyInvalid)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	if bcrypt.CompareHashAndPassword([]byte(runner.KeyHash), []byte(key)) != nil {
		return nil, pkgerrors.New(pkgerrors.RunnerKeyInvalid)
	}
	s.verified.Set(cacheKey, runner)
	s.touch(ctx, runner.ID)
	return runner, nil
}

// touch refreshes accessedAt at most once per heartbeat interval.
func (s *RunnerService) touch(ctx context.Context, runnerID string) {
	if s.heartbeat != nil {
		first, err := s.heartbeat.SetNX(ctx, heartbeatKeyPrefix+runnerID, 1, s.config.HeartbeatInterval)
		if err == nil && !first {
			return
		}
	}
	if err := s.runners.Touch(ctx, runnerID, s.now()); err != nil {
		logger.Warn(ctx, "record runner heartbeat failed", zap.Error(err))
	}
}

func (s *RunnerService) lookupRegistration(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for secret, orgID := range s.config.RegistrationTokens {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1 {
			return orgID, true
		}
	}
	return "", false
}

func fingerprint(runnerID, key string) string {
	sum := sha256.Sum256([]byte(runnerID + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
