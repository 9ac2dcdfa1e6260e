package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-guard-api/internal/models"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
	"github.com/noah-isme/sma-guard-api/pkg/timeofday"
)

type scheduleRepository interface {
	conflictSource
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleSlot, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error)
	Create(ctx context.Context, slot *models.ScheduleSlot) error
	Update(ctx context.Context, slot *models.ScheduleSlot) error
	Delete(ctx context.Context, id string) error
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// CreateScheduleRequest describes payload for creating a slot.
type CreateScheduleRequest struct {
	InstituteID string `json:"institute_id" validate:"required"`
	TeacherID   string `json:"teacher_id" validate:"required"`
	ClassID     string `json:"class_id" validate:"required"`
	SubjectID   string `json:"subject_id" validate:"required"`
	DayOfWeek   *int   `json:"day_of_week" validate:"required,min=0,max=6"`
	StartTime   string `json:"start_time" validate:"required"`
	EndTime     string `json:"end_time" validate:"required"`
	Room        string `json:"room" validate:"max=64"`
	Notes       string `json:"notes"`
}

// UpdateScheduleRequest patches an existing slot. Nil fields keep their current value.
type UpdateScheduleRequest struct {
	TeacherID *string `json:"teacher_id" validate:"omitempty,min=1"`
	ClassID   *string `json:"class_id" validate:"omitempty,min=1"`
	SubjectID *string `json:"subject_id" validate:"omitempty,min=1"`
	DayOfWeek *int    `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	Room      *string `json:"room" validate:"omitempty,max=64"`
	Notes     *string `json:"notes"`
}

// BulkCreateSchedulesRequest holds multiple slots for creation.
type BulkCreateSchedulesRequest struct {
	Items          []CreateScheduleRequest `json:"items" validate:"required,min=1,dive"`
	PartialOnError bool                    `json:"partial_on_error"`
}

// BulkCreateSchedulesResult summarises bulk creation results.
type BulkCreateSchedulesResult struct {
	Created   []models.ScheduleSlot     `json:"created"`
	Conflicts []models.ScheduleConflict `json:"conflicts,omitempty"`
}

// AvailabilityResult answers whether a teacher is free for a time range.
type AvailabilityResult struct {
	Available bool                      `json:"available"`
	Conflicts []models.ScheduleConflict `json:"conflicts"`
}

// ScheduleService coordinates timetable writes and queries.
type ScheduleService struct {
	repo      scheduleRepository
	detector  *ConflictDetector
	cache     statsCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService instantiates ScheduleService. cache may be nil.
func NewScheduleService(repo scheduleRepository, cache statsCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		repo:      repo,
		detector:  NewConflictDetector(repo),
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger,
	}
}

// Detector exposes the conflict detector bound to the schedule store.
func (s *ScheduleService) Detector() *ConflictDetector {
	return s.detector
}

// Get returns a single slot.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	return s.load(ctx, id)
}

// ListByTeacher returns a teacher's slots within an institute, optionally for one weekday.
func (s *ScheduleService) ListByTeacher(ctx context.Context, instituteID, teacherID string, day *int) ([]models.ScheduleSlot, error) {
	return s.list(ctx, models.ScheduleFilter{InstituteID: instituteID, TeacherID: teacherID, DayOfWeek: day}, "failed to list teacher schedule")
}

// ListByClass returns a class's slots within an institute, optionally for one weekday.
func (s *ScheduleService) ListByClass(ctx context.Context, instituteID, classID string, day *int) ([]models.ScheduleSlot, error) {
	return s.list(ctx, models.ScheduleFilter{InstituteID: instituteID, ClassID: classID, DayOfWeek: day}, "failed to list class schedule")
}

// ListByInstitute returns an institute's slots, optionally for one weekday.
func (s *ScheduleService) ListByInstitute(ctx context.Context, instituteID string, day *int) ([]models.ScheduleSlot, error) {
	return s.list(ctx, models.ScheduleFilter{InstituteID: instituteID, DayOfWeek: day}, "failed to list institute schedule")
}

// ListByRoom returns the slots booked in a room, optionally for one weekday.
func (s *ScheduleService) ListByRoom(ctx context.Context, instituteID, room string, day *int) ([]models.ScheduleSlot, error) {
	if strings.TrimSpace(room) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "room is required")
	}
	return s.list(ctx, models.ScheduleFilter{InstituteID: instituteID, Room: room, DayOfWeek: day}, "failed to list room schedule")
}

func (s *ScheduleService) list(ctx context.Context, filter models.ScheduleFilter, failure string) ([]models.ScheduleSlot, error) {
	if filter.DayOfWeek != nil && !validDay(*filter.DayOfWeek) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "day must be between 0 and 6")
	}
	slots, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, failure)
	}
	return slots, nil
}

// Create inserts a new slot after conflict detection.
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleRequest) (*models.ScheduleSlot, error) {
	slot, err := s.slotFromRequest(req)
	if err != nil {
		return nil, err
	}

	if err := s.ensureNoConflict(ctx, slot, ""); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, &slot); err != nil {
		return nil, s.writeFailure(ctx, err, slot, "", "failed to create schedule slot")
	}

	s.invalidateStats(ctx, slot.InstituteID)
	s.logger.Debug("schedule slot created", zap.String("slot_id", slot.ID), zap.String("teacher_id", slot.TeacherID))
	return &slot, nil
}

// Update merges the patch into a slot and re-validates it when a scheduling field changed.
func (s *ScheduleService) Update(ctx context.Context, id string, req UpdateScheduleRequest) (*models.ScheduleSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}

	existing, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.TeacherID != nil {
		updated.TeacherID = *req.TeacherID
	}
	if req.ClassID != nil {
		updated.ClassID = *req.ClassID
	}
	if req.SubjectID != nil {
		updated.SubjectID = *req.SubjectID
	}
	if req.DayOfWeek != nil {
		updated.DayOfWeek = *req.DayOfWeek
	}
	if req.StartTime != nil {
		start, err := timeofday.Parse(*req.StartTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start_time")
		}
		updated.StartTime = start
	}
	if req.EndTime != nil {
		end, err := timeofday.Parse(*req.EndTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end_time")
		}
		updated.EndTime = end
	}
	if req.Room != nil {
		updated.Room = strings.TrimSpace(*req.Room)
	}
	if req.Notes != nil {
		updated.Notes = *req.Notes
	}
	if updated.TeacherID == "" || updated.ClassID == "" || updated.SubjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher, class and subject cannot be empty")
	}
	if err := updated.Range().Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time range")
	}

	if schedulingChanged(*existing, updated) {
		if err := s.ensureNoConflict(ctx, updated, existing.ID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, s.writeFailure(ctx, err, updated, existing.ID, "failed to update schedule slot")
	}

	s.invalidateStats(ctx, updated.InstituteID)
	return &updated, nil
}

// Delete removes a slot. Historical guard duties are untouched.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	existing, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule slot")
	}
	s.invalidateStats(ctx, existing.InstituteID)
	return nil
}

// BulkCreate inserts multiple slots, checking each against storage and earlier items of the batch.
func (s *ScheduleService) BulkCreate(ctx context.Context, req BulkCreateSchedulesRequest) (*BulkCreateSchedulesResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk schedule payload")
	}

	var accepted []models.ScheduleSlot
	var conflicts []models.ScheduleConflict

	for _, item := range req.Items {
		slot, err := s.slotFromRequest(item)
		if err != nil {
			return nil, err
		}
		slot.ID = uuid.NewString()

		stored, err := s.detector.Detect(ctx, candidateFromSlot(slot), "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule conflicts")
		}
		found := append(stored, DetectConflicts(candidateFromSlot(slot), accepted, "")...)
		if len(found) > 0 {
			conflicts = append(conflicts, found...)
			continue
		}
		accepted = append(accepted, slot)
	}

	if len(conflicts) > 0 && !req.PartialOnError {
		return nil, newConflictError(conflicts)
	}

	result := &BulkCreateSchedulesResult{Conflicts: conflicts}
	for i := range accepted {
		slot := accepted[i]
		if err := s.repo.Create(ctx, &slot); err != nil {
			return nil, s.writeFailure(ctx, err, slot, "", "failed to bulk create schedule slots")
		}
		result.Created = append(result.Created, slot)
	}

	institutes := make(map[string]struct{})
	for _, slot := range result.Created {
		institutes[slot.InstituteID] = struct{}{}
	}
	for institute := range institutes {
		s.invalidateStats(ctx, institute)
	}
	return result, nil
}

// IsTeacherAvailable reports whether a teacher has no slot overlapping [start, end) on a weekday.
func (s *ScheduleService) IsTeacherAvailable(ctx context.Context, instituteID, teacherID string, day int, start, end string) (*AvailabilityResult, error) {
	if instituteID == "" || teacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "institute and teacher are required")
	}
	if !validDay(day) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "day must be between 0 and 6")
	}
	r, err := timeofday.ParseRange(start, end)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time range")
	}

	conflicts, err := s.detector.DetectTeacher(ctx, instituteID, teacherID, day, r.Start, r.End, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check teacher availability")
	}
	if conflicts == nil {
		conflicts = []models.ScheduleConflict{}
	}
	return &AvailabilityResult{Available: len(conflicts) == 0, Conflicts: conflicts}, nil
}

// Stats aggregates the institute timetable by day name, teacher and class.
func (s *ScheduleService) Stats(ctx context.Context, instituteID string) (*models.ScheduleStats, error) {
	if instituteID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "institute is required")
	}

	key := scheduleStatsKey(instituteID)
	if s.cache != nil {
		var cached models.ScheduleStats
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	slots, err := s.repo.List(ctx, models.ScheduleFilter{InstituteID: instituteID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load institute schedule")
	}
	stats := aggregateSchedule(instituteID, slots)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, stats, s.cacheTTL)
	}
	return stats, nil
}

func aggregateSchedule(instituteID string, slots []models.ScheduleSlot) *models.ScheduleStats {
	stats := &models.ScheduleStats{
		InstituteID: instituteID,
		TotalSlots:  len(slots),
		ByDay:       make(map[string]int),
		ByTeacher:   make(map[string]int),
		ByClass:     make(map[string]int),
	}
	for _, slot := range slots {
		if validDay(slot.DayOfWeek) {
			stats.ByDay[models.DayNames[slot.DayOfWeek]]++
		}
		stats.ByTeacher[slot.TeacherID]++
		stats.ByClass[slot.ClassID]++
	}
	return stats
}

func (s *ScheduleService) slotFromRequest(req CreateScheduleRequest) (models.ScheduleSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.ScheduleSlot{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	r, err := timeofday.ParseRange(req.StartTime, req.EndTime)
	if err != nil {
		return models.ScheduleSlot{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time range")
	}
	return models.ScheduleSlot{
		InstituteID: req.InstituteID,
		TeacherID:   req.TeacherID,
		ClassID:     req.ClassID,
		SubjectID:   req.SubjectID,
		DayOfWeek:   *req.DayOfWeek,
		StartTime:   r.Start,
		EndTime:     r.End,
		Room:        strings.TrimSpace(req.Room),
		Notes:       req.Notes,
	}, nil
}

func (s *ScheduleService) load(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule slot")
	}
	return slot, nil
}

func (s *ScheduleService) ensureNoConflict(ctx context.Context, slot models.ScheduleSlot, excludeID string) error {
	conflicts, err := s.detector.Detect(ctx, candidateFromSlot(slot), excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule conflicts")
	}
	if len(conflicts) > 0 {
		return newConflictError(conflicts)
	}
	return nil
}

// writeFailure maps a storage-level overlap (a concurrent writer won the race) onto the conflict contract.
func (s *ScheduleService) writeFailure(ctx context.Context, err error, slot models.ScheduleSlot, excludeID, message string) error {
	if !errors.Is(err, models.ErrSlotOverlap) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
	s.logger.Warn("schedule slot rejected by exclusion constraint", zap.String("teacher_id", slot.TeacherID), zap.Error(err))
	conflicts, detectErr := s.detector.Detect(ctx, candidateFromSlot(slot), excludeID)
	if detectErr != nil || len(conflicts) == 0 {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "schedule conflict: slot overlaps an existing slot")
	}
	return newConflictError(conflicts)
}

func (s *ScheduleService) invalidateStats(ctx context.Context, instituteID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, scheduleStatsKey(instituteID))
}

func newConflictError(conflicts []models.ScheduleConflict) error {
	seen := make(map[models.ConflictDimension]bool)
	var dims []string
	for _, c := range conflicts {
		if !seen[c.Dimension] {
			seen[c.Dimension] = true
			dims = append(dims, string(c.Dimension))
		}
	}
	message := fmt.Sprintf("schedule conflict on %s", strings.Join(dims, ", "))
	domainErr := &models.ScheduleConflictError{Message: message, Conflicts: conflicts}
	appErr := appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, message)
	appErr.Details = conflicts
	return appErr
}

func schedulingChanged(before, after models.ScheduleSlot) bool {
	return before.DayOfWeek != after.DayOfWeek ||
		before.StartTime != after.StartTime ||
		before.EndTime != after.EndTime ||
		before.TeacherID != after.TeacherID ||
		before.ClassID != after.ClassID ||
		!strings.EqualFold(before.Room, after.Room)
}

func scheduleStatsKey(instituteID string) string {
	return "schedule-stats:" + instituteID
}

func validDay(day int) bool {
	return day >= 0 && day <= 6
}
