package controller

import (
	"judgehub/internal/auth"
	"judgehub/internal/common/validate"
	"judgehub/internal/contest/service"
	"judgehub/pkg/repository"
	"judgehub/pkg/utils/logger"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContestController exposes contest admin, ranklist runner and sweep endpoints.
type ContestController struct {
	contestService  *service.ContestService
	ranklistService *service.RanklistService
	driver          *service.StageDriver
	validator       *validate.Validator
}

// NewContestController creates a new ContestController.
func NewContestController(contestService *service.ContestService, ranklistService *service.RanklistService, driver *service.StageDriver, validator *validate.Validator) *ContestController {
	return &ContestController{
		contestService:  contestService,
		ranklistService: ranklistService,
		driver:          driver,
		validator:       validator,
	}
}

// CursorQuery is the resume position of a ranklist export.
type CursorQuery struct {
	Since  int64  `form:"since" json:"since" validate:"gte=0"`
	LastID string `form:"lastId" json:"lastId" validate:"max=64"`
}

func (q CursorQuery) cursor() repository.Cursor {
	return repository.Cursor{Since: q.Since, LastID: q.LastID}
}

// Get handles GET /contests/:id.
func (h *ContestController) Get(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	contest, err := h.contestService.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, contest)
}

// UpdateStages handles PUT /contests/:id/stages.
func (h *ContestController) UpdateStages(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	var req service.StagesInput
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.contestService.UpdateStages(c.Request.Context(), p, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// InvalidateRanklist handles POST /contests/:id/ranklist/invalidate.
func (h *ContestController) InvalidateRanklist(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	var req service.InvalidateInput
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.contestService.Invalidate(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Sweep handles POST /internal/contests/status-sweep. Per-contest failures
// are reported in the result and retried by the next sweep.
func (h *ContestController) Sweep(c *gin.Context) {
	res, err := h.driver.Sweep(c.Request.Context())
	if err != nil && res == nil {
		response.Error(c, err)
		return
	}
	if err != nil {
		logger.Warn(c.Request.Context(), "status sweep incomplete", zap.Error(err))
	}
	response.Success(c, res)
}

// PollRanklist handles POST /runner/ranklist/poll.
func (h *ContestController) PollRanklist(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	t, err := h.ranklistService.Poll(c.Request.Context(), runner)
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

// Problems handles GET /runner/ranklist/:contestId/task/:taskId/problems.
func (h *ContestController) Problems(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	problems, err := h.ranklistService.Problems(c.Request.Context(), runner, c.Param("contestId"), c.Param("taskId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problems)
}

// Participants handles GET /runner/ranklist/:contestId/task/:taskId/participants.
func (h *ContestController) Participants(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	var q CursorQuery
	if err := h.validator.BindQuery(c, &q); err != nil {
		response.Error(c, err)
		return
	}
	page, err := h.ranklistService.Participants(c.Request.Context(), runner, c.Param("contestId"), c.Param("taskId"), q.cursor())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

// Solutions handles GET /runner/ranklist/:contestId/task/:taskId/solutions.
func (h *ContestController) Solutions(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	var q CursorQuery
	if err := h.validator.BindQuery(c, &q); err != nil {
		response.Error(c, err)
		return
	}
	page, err := h.ranklistService.Solutions(c.Request.Context(), runner, c.Param("contestId"), c.Param("taskId"), q.cursor())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

// UploadURLs handles GET /runner/ranklist/:contestId/task/:taskId/upload-urls.
func (h *ContestController) UploadURLs(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	urls, err := h.ranklistService.UploadURLs(c.Request.Context(), runner, c.Param("contestId"), c.Param("taskId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, urls)
}

// CompleteRanklist handles POST /runner/ranklist/:contestId/task/:taskId/complete.
func (h *ContestController) CompleteRanklist(c *gin.Context) {
	runner, ok := auth.RunnerFrom(c)
	if !ok {
		response.Unauthorized(c, "runner is not authenticated")
		return
	}
	var req service.CompleteInput
	if err := h.validator.BindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.ranklistService.Complete(c.Request.Context(), runner, c.Param("contestId"), c.Param("taskId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
