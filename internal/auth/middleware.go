package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"judgehub/internal/common/http/middleware"
	runnerModel "judgehub/internal/runner/model"
	pkgerrors "judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	RunnerIDHeader      = "X-Runner-Id"
	RunnerKeyHeader     = "X-Runner-Key"
	InternalTokenHeader = "X-Internal-Token"

	principalKey = "auth.principal"
	runnerKey    = "auth.runner"
)

// RunnerAuthenticator verifies a runner's pre-shared key.
type RunnerAuthenticator interface {
	Authenticate(ctx context.Context, runnerID, key string) (*runnerModel.Runner, error)
}

// PrincipalAuth requires a valid bearer token.
func PrincipalAuth(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}
		p, err := tokens.Authenticate(extractBearerToken(c.GetHeader("Authorization")))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(principalKey, p)
		middleware.SetContextValue(c, contextkey.UserID, p.UserID)
		middleware.SetContextValue(c, contextkey.OrgID, p.OrgID)
		c.Next()
	}
}

// RunnerAuth requires valid runner credentials.
func RunnerAuth(authenticator RunnerAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		runnerID := strings.TrimSpace(c.GetHeader(RunnerIDHeader))
		key := c.GetHeader(RunnerKeyHeader)
		if runnerID == "" || key == "" {
			response.AbortWithErrorCode(c, pkgerrors.RunnerKeyInvalid, "runner credentials are required")
			return
		}
		runner, err := authenticator.Authenticate(c.Request.Context(), runnerID, key)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(runnerKey, runner)
		middleware.SetContextValue(c, contextkey.RunnerID, runner.ID)
		middleware.SetContextValue(c, contextkey.OrgID, runner.OrgID)
		c.Next()
	}
}

// InternalToken guards endpoints meant for schedulers inside the deployment.
func InternalToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(InternalTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "invalid internal token")
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal set by PrincipalAuth.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// RunnerFrom returns the runner set by RunnerAuth.
func RunnerFrom(c *gin.Context) (*runnerModel.Runner, bool) {
	v, ok := c.Get(runnerKey)
	if !ok {
		return nil, false
	}
	r, ok := v.(*runnerModel.Runner)
	return r, ok
}

// Authorize fails with a permission error unless p holds bit on target.
func Authorize(ctx context.Context, checker Checker, p Principal, target Target, bit Capability) error {
	if checker == nil {
		return pkgerrors.New(pkgerrors.PermissionDenied)
	}
	mask, err := checker.Capabilities(ctx, p, target)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
	}
	if !HasCapability(mask, bit) {
		return pkgerrors.New(pkgerrors.InsufficientPermission)
	}
	return nil
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
