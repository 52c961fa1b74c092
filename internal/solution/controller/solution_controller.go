package controller

import (
	"context"

	"judgehub/internal/auth"
	"judgehub/internal/common/validate"
	"judgehub/internal/solution/model"
	"judgehub/internal/solution/service"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SolutionController exposes solution endpoints to users, admins and runners.
type SolutionController struct {
	solutionService *service.SolutionService
	validator       *validate.Validator
}

// NewSolutionController creates a new SolutionController.
func NewSolutionController(solutionService *service.SolutionService, validator *validate.Validator) *SolutionController {
	return &SolutionController{solutionService: solutionService, validator: validator}
}

// BulkQuery selects the contest a bulk reset is limited to.
type BulkQuery struct {
	ContestID string `form:"contestId" validate:"omitempty,max=64"`
}

// Create handles POST /solutions.
func (h *SolutionController) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req service.CreateInput
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	created, err := h.solutionService.Create(c.Request.Context(), p, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, created)
}

// Get handles GET /solutions/:id.
func (h *SolutionController) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sol, err := h.solutionService.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sol)
}

// Statuses handles GET /statuses.
func (h *SolutionController) Statuses(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	statuses, err := h.solutionService.Statuses(c.Request.Context(), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, statuses)
}

// Submit handles POST /solutions/:id/submit.
func (h *SolutionController) Submit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.solutionService.Submit(c.Request.Context(), p, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Rejudge handles POST /solutions/:id/rejudge.
func (h *SolutionController) Rejudge(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.solutionService.Rejudge(c.Request.Context(), p, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SubmitAll handles POST /problems/:problemId/solutions/submit-all.
func (h *SolutionController) SubmitAll(c *gin.Context) {
	h.bulk(c, h.solutionService.SubmitAll)
}

// RejudgeAll handles POST /problems/:problemId/solutions/rejudge-all.
func (h *SolutionController) RejudgeAll(c *gin.Context) {
	h.bulk(c, h.solutionService.RejudgeAll)
}

type bulkFunc func(ctx context.Context, p auth.Principal, problemID, contestID string) (*service.BulkResult, error)

func (h *SolutionController) bulk(c *gin.Context, fn bulkFunc) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var q BulkQuery
	if err := h.validator.BindQuery(c, &q); err != nil {
		response.Error(c, err)
		return
	}
	res, err := fn(c.Request.Context(), p, c.Param("problemId"), q.ContestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Poll handles POST /runner/solution/poll.
func (h *SolutionController) Poll(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	t, err := h.solutionService.Poll(c.Request.Context(), runner)
	if err != nil {
		response.Error(c, err)
		return
	}
	if t == nil {
		response.NoTask(c)
		return
	}
	response.Success(c, t)
}

// Patch handles PATCH /runner/solution/:solutionId/task/:taskId.
func (h *SolutionController) Patch(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	var req model.Patch
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.solutionService.Patch(c.Request.Context(), runner, c.Param("solutionId"), c.Param("taskId"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Complete handles POST /runner/solution/:solutionId/task/:taskId/complete.
func (h *SolutionController) Complete(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	if err := h.solutionService.Complete(c.Request.Context(), runner, c.Param("solutionId"), c.Param("taskId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func principal(c *gin.Context) (auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
	}
	return p, ok
}
