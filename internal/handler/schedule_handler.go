package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-guard-api/internal/service"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
	"github.com/noah-isme/sma-guard-api/pkg/response"
)

// ScheduleHandler manages weekly timetable endpoints.
type ScheduleHandler struct {
	service *service.ScheduleService
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// List godoc
// @Summary List an institute's schedule slots
// @Tags Schedules
// @Produce json
// @Param instituteId query string false "Institute (defaults to the caller's)"
// @Param day query int false "Day of week, 0 = Sunday"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	instituteID, err := scopedInstitute(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	day, err := queryDay(c, "day")
	if err != nil {
		response.Error(c, err)
		return
	}
	slots, err := h.service.ListByInstitute(c.Request.Context(), instituteID, day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Get godoc
// @Summary Get a schedule slot
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	slot, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeInstitute(c, slot.InstituteID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// ListByClass godoc
// @Summary List schedules by class
// @Tags Schedules
// @Produce json
// @Param id path string true "Class ID"
// @Param instituteId query string false "Institute (defaults to the caller's)"
// @Param day query int false "Day of week, 0 = Sunday"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classes/{id}/schedules [get]
func (h *ScheduleHandler) ListByClass(c *gin.Context) {
	instituteID, err := scopedInstitute(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	day, err := queryDay(c, "day")
	if err != nil {
		response.Error(c, err)
		return
	}
	slots, err := h.service.ListByClass(c.Request.Context(), instituteID, c.Param("id"), day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// ListByTeacher godoc
// @Summary List schedules by teacher
// @Tags Schedules
// @Produce json
// @Param id path string true "Teacher ID"
// @Param instituteId query string false "Institute (defaults to the caller's)"
// @Param day query int false "Day of week, 0 = Sunday"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /teachers/{id}/schedules [get]
func (h *ScheduleHandler) ListByTeacher(c *gin.Context) {
	instituteID, err := scopedInstitute(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	day, err := queryDay(c, "day")
	if err != nil {
		response.Error(c, err)
		return
	}
	slots, err := h.service.ListByTeacher(c.Request.Context(), instituteID, c.Param("id"), day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// ListByRoom godoc
// @Summary List schedules by room
// @Tags Schedules
// @Produce json
// @Param room path string true "Room"
// @Param instituteId query string true "Institute"
// @Param day query int false "Day of week, 0 = Sunday"
// @Success 200 {object} response.Envelope
// @Router /rooms/{room}/schedules [get]
func (h *ScheduleHandler) ListByRoom(c *gin.Context) {
	instituteID := c.Query("instituteId")
	if err := authorizeInstitute(c, instituteID); err != nil {
		response.Error(c, err)
		return
	}
	day, err := queryDay(c, "day")
	if err != nil {
		response.Error(c, err)
		return
	}
	slots, err := h.service.ListByRoom(c.Request.Context(), instituteID, c.Param("room"), day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Availability godoc
// @Summary Check whether a teacher is free for a time range
// @Tags Schedules
// @Produce json
// @Param instituteId query string true "Institute"
// @Param teacherId query string true "Teacher"
// @Param day query int true "Day of week, 0 = Sunday"
// @Param start query string true "Start time HH:MM"
// @Param end query string true "End time HH:MM"
// @Success 200 {object} response.Envelope
// @Router /schedules/availability [get]
func (h *ScheduleHandler) Availability(c *gin.Context) {
	instituteID := c.Query("instituteId")
	if err := authorizeInstitute(c, instituteID); err != nil {
		response.Error(c, err)
		return
	}
	day, err := strconv.Atoi(c.Query("day"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "day is required"))
		return
	}
	result, err := h.service.IsTeacherAvailable(c.Request.Context(), instituteID, c.Query("teacherId"), day, c.Query("start"), c.Query("end"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Stats godoc
// @Summary Timetable statistics for an institute
// @Tags Schedules
// @Produce json
// @Param id path string true "Institute ID"
// @Success 200 {object} response.Envelope
// @Router /institutes/{id}/schedule-stats [get]
func (h *ScheduleHandler) Stats(c *gin.Context) {
	instituteID := c.Param("id")
	if err := authorizeInstitute(c, instituteID); err != nil {
		response.Error(c, err)
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), instituteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Create godoc
// @Summary Create schedule slot
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body service.CreateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Conflicting slots in error.details"
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req service.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := authorizeInstitute(c, req.InstituteID); err != nil {
		response.Error(c, err)
		return
	}
	slot, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// BulkCreate godoc
// @Summary Bulk create schedule slots
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body service.BulkCreateSchedulesRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules/bulk [post]
func (h *ScheduleHandler) BulkCreate(c *gin.Context) {
	var req service.BulkCreateSchedulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	for _, item := range req.Items {
		if err := authorizeInstitute(c, item.InstituteID); err != nil {
			response.Error(c, err)
			return
		}
	}
	result, err := h.service.BulkCreate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Update godoc
// @Summary Update schedule slot
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body service.UpdateScheduleRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules/{id} [patch]
func (h *ScheduleHandler) Update(c *gin.Context) {
	var req service.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	current, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeInstitute(c, current.InstituteID); err != nil {
		response.Error(c, err)
		return
	}
	slot, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Delete godoc
// @Summary Delete schedule slot
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 204
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	current, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeInstitute(c, current.InstituteID); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
