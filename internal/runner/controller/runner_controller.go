package controller

import (
	"judgehub/internal/auth"
	"judgehub/internal/common/validate"
	"judgehub/internal/runner/service"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RunnerController handles runner registration and identity endpoints.
type RunnerController struct {
	runnerService *service.RunnerService
	validator     *validate.Validator
}

// NewRunnerController creates a new RunnerController.
func NewRunnerController(runnerService *service.RunnerService, validator *validate.Validator) *RunnerController {
	return &RunnerController{runnerService: runnerService, validator: validator}
}

// Register creates a runner from a registration token.
func (h *RunnerController) Register(c *gin.Context) {
	var req service.RegisterInput
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	reg, err := h.runnerService.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, reg)
}

// Ping echoes the authenticated runner's identity.
func (h *RunnerController) Ping(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	response.Success(c, PingResponse{
		RunnerID: runner.ID,
		OrgID:    runner.OrgID,
		Name:     runner.Name,
		Labels:   runner.Labels,
	})
}

// PingResponse defines the ping payload.
type PingResponse struct {
	RunnerID string   `json:"runnerId"`
	OrgID    string   `json:"orgId"`
	Name     string   `json:"name"`
	Labels   []string `json:"labels"`
}
