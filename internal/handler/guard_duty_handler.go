package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-guard-api/internal/models"
	"github.com/noah-isme/sma-guard-api/internal/service"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
	"github.com/noah-isme/sma-guard-api/pkg/response"
)

// GuardDutyHandler exposes guard duty orchestration and reporting.
type GuardDutyHandler struct {
	guards *service.GuardDutyService
	finder *service.SubstituteFinder
}

// NewGuardDutyHandler constructs handler.
func NewGuardDutyHandler(guards *service.GuardDutyService, finder *service.SubstituteFinder) *GuardDutyHandler {
	return &GuardDutyHandler{guards: guards, finder: finder}
}

// Assign godoc
// @Summary Assign substitutes for every lesson vacated by an activity
// @Description Idempotent: re-running only fills missing guard duties.
// @Tags GuardDuties
// @Produce json
// @Param id path string true "Activity ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 504 {object} response.Envelope "Partial summary in error.details"
// @Router /activities/{id}/guard-duties [post]
func (h *GuardDutyHandler) Assign(c *gin.Context) {
	if !h.authorizeActivity(c) {
		return
	}
	summary, err := h.guards.AssignForActivity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// ListByActivity godoc
// @Summary List guard duties generated for an activity
// @Tags GuardDuties
// @Produce json
// @Param id path string true "Activity ID"
// @Success 200 {object} response.Envelope
// @Router /activities/{id}/guard-duties [get]
func (h *GuardDutyHandler) ListByActivity(c *gin.Context) {
	if !h.authorizeActivity(c) {
		return
	}
	duties, err := h.guards.ListByActivity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, duties, nil)
}

// ListByInstitute godoc
// @Summary List an institute's guard duties
// @Tags GuardDuties
// @Produce json
// @Param id path string true "Institute ID"
// @Param status query string false "assigned, pending_assignment or completed"
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /institutes/{id}/guard-duties [get]
func (h *GuardDutyHandler) ListByInstitute(c *gin.Context) {
	instituteID := c.Param("id")
	if err := authorizeInstitute(c, instituteID); err != nil {
		response.Error(c, err)
		return
	}
	from, to, err := dateRange(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.GuardDutyFilter{
		InstituteID: instituteID,
		Status:      models.GuardDutyStatus(c.Query("status")),
		From:        from,
		To:          to,
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}

	duties, pagination, err := h.guards.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, duties, pagination)
}

// Stats godoc
// @Summary Guard duty statistics for an institute
// @Tags GuardDuties
// @Produce json
// @Param id path string true "Institute ID"
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Success 200 {object} response.Envelope
// @Router /institutes/{id}/guard-duties/stats [get]
func (h *GuardDutyHandler) Stats(c *gin.Context) {
	instituteID := c.Param("id")
	if err := authorizeInstitute(c, instituteID); err != nil {
		response.Error(c, err)
		return
	}
	from, to, err := dateRange(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	stats, err := h.guards.Stats(c.Request.Context(), instituteID, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// SearchSubstitute godoc
// @Summary Preview the substitute that would cover a lesson
// @Description Read-only; nothing is recorded.
// @Tags GuardDuties
// @Accept json
// @Produce json
// @Param payload body service.SubstituteSearchRequest true "Vacated lesson"
// @Success 200 {object} response.Envelope "data is null when nobody is free"
// @Router /guard-duties/substitutes/search [post]
func (h *GuardDutyHandler) SearchSubstitute(c *gin.Context) {
	var req service.SubstituteSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := authorizeInstitute(c, req.InstituteID); err != nil {
		response.Error(c, err)
		return
	}
	candidate, err := h.finder.Search(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidate, nil, map[string]interface{}{"found": candidate != nil})
}

func (h *GuardDutyHandler) authorizeActivity(c *gin.Context) bool {
	activity, err := h.guards.Activity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return false
	}
	if err := authorizeInstitute(c, activity.InstituteID); err != nil {
		response.Error(c, err)
		return false
	}
	return true
}

func dateRange(c *gin.Context) (*time.Time, *time.Time, error) {
	parse := func(key string) (*time.Time, error) {
		raw := c.Query(key)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be YYYY-MM-DD")
		}
		return &t, nil
	}
	from, err := parse("from")
	if err != nil {
		return nil, nil, err
	}
	to, err := parse("to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}
