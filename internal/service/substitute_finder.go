package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-guard-api/internal/models"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
	"github.com/noah-isme/sma-guard-api/pkg/timeofday"
)

type teacherDirectory interface {
	ListActiveByInstitute(ctx context.Context, instituteID string) ([]models.Teacher, error)
}

type substituteScheduleReader interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleSlot, error)
	ListTeacherIDsBySubject(ctx context.Context, instituteID, subjectID string) ([]string, error)
}

// SubstituteQuery describes one vacated lesson.
type SubstituteQuery struct {
	InstituteID      string
	SubjectID        string
	ExcludeTeacherID string
	DayOfWeek        int
	Start            timeofday.Minutes
	End              timeofday.Minutes
}

// SubstituteSearchRequest is the HTTP payload for a read-only substitute search.
type SubstituteSearchRequest struct {
	InstituteID      string `json:"institute_id" validate:"required"`
	SubjectID        string `json:"subject_id" validate:"required"`
	ExcludeTeacherID string `json:"exclude_teacher_id" validate:"required"`
	DayOfWeek        *int   `json:"day_of_week" validate:"required,min=0,max=6"`
	StartTime        string `json:"start_time" validate:"required"`
	EndTime          string `json:"end_time" validate:"required"`
}

// SubstituteFinder ranks available teachers for a vacated lesson. It never mutates state.
type SubstituteFinder struct {
	teachers  teacherDirectory
	schedules substituteScheduleReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubstituteFinder wires the finder.
func NewSubstituteFinder(teachers teacherDirectory, schedules substituteScheduleReader, validate *validator.Validate, logger *zap.Logger) *SubstituteFinder {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubstituteFinder{teachers: teachers, schedules: schedules, validator: validate, logger: logger}
}

// Find returns the best substitute or nil when nobody is free.
func (f *SubstituteFinder) Find(ctx context.Context, q SubstituteQuery) (*models.SubstituteCandidate, error) {
	teachers, err := f.teachers.ListActiveByInstitute(ctx, q.InstituteID)
	if err != nil {
		return nil, fmt.Errorf("load candidate teachers: %w", err)
	}
	day := q.DayOfWeek
	daySlots, err := f.schedules.List(ctx, models.ScheduleFilter{InstituteID: q.InstituteID, DayOfWeek: &day})
	if err != nil {
		return nil, fmt.Errorf("load weekday timetable: %w", err)
	}
	subjectTeacherIDs, err := f.schedules.ListTeacherIDsBySubject(ctx, q.InstituteID, q.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("load subject teachers: %w", err)
	}
	subjectTeachers := make(map[string]struct{}, len(subjectTeacherIDs))
	for _, id := range subjectTeacherIDs {
		subjectTeachers[id] = struct{}{}
	}

	candidate := selectSubstitute(teachers, daySlots, subjectTeachers, q)
	if candidate == nil {
		f.logger.Debug("no substitute available",
			zap.String("institute_id", q.InstituteID),
			zap.Int("day_of_week", q.DayOfWeek),
			zap.Stringer("start", q.Start),
		)
	}
	return candidate, nil
}

// Search validates an HTTP request and runs Find.
func (f *SubstituteFinder) Search(ctx context.Context, req SubstituteSearchRequest) (*models.SubstituteCandidate, error) {
	if err := f.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid substitute search payload")
	}
	r, err := timeofday.ParseRange(req.StartTime, req.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid time range")
	}
	candidate, err := f.Find(ctx, SubstituteQuery{
		InstituteID:      req.InstituteID,
		SubjectID:        req.SubjectID,
		ExcludeTeacherID: req.ExcludeTeacherID,
		DayOfWeek:        *req.DayOfWeek,
		Start:            r.Start,
		End:              r.End,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search substitutes")
	}
	return candidate, nil
}

// selectSubstitute applies the tiers: same-subject teachers first, then anyone available,
// each ordered by workload score and then id.
func selectSubstitute(teachers []models.Teacher, daySlots []models.ScheduleSlot, subjectTeachers map[string]struct{}, q SubstituteQuery) *models.SubstituteCandidate {
	available := filterTeachers(teachers, func(t models.Teacher) bool {
		return t.Active && t.ID != q.ExcludeTeacherID && isAvailable(t, daySlots, q)
	})

	if pick := lowestWorkload(filterTeachers(available, func(t models.Teacher) bool {
		return isSubjectMatch(t, subjectTeachers)
	})); pick != nil {
		return toCandidate(*pick, models.ReasonSameSubject)
	}
	if pick := lowestWorkload(available); pick != nil {
		return toCandidate(*pick, models.ReasonAvailable)
	}
	return nil
}

func isAvailable(teacher models.Teacher, daySlots []models.ScheduleSlot, q SubstituteQuery) bool {
	candidate := SlotCandidate{
		InstituteID: q.InstituteID,
		TeacherID:   teacher.ID,
		DayOfWeek:   q.DayOfWeek,
		Start:       q.Start,
		End:         q.End,
	}
	return len(overlapping(models.DimensionTeacher, candidate, daySlots, "")) == 0
}

func isSubjectMatch(teacher models.Teacher, subjectTeachers map[string]struct{}) bool {
	_, ok := subjectTeachers[teacher.ID]
	return ok
}

func filterTeachers(teachers []models.Teacher, keep func(models.Teacher) bool) []models.Teacher {
	var out []models.Teacher
	for _, t := range teachers {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func lowestWorkload(teachers []models.Teacher) *models.Teacher {
	if len(teachers) == 0 {
		return nil
	}
	sorted := make([]models.Teacher, len(teachers))
	copy(sorted, teachers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].WorkloadScore != sorted[j].WorkloadScore {
			return sorted[i].WorkloadScore < sorted[j].WorkloadScore
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &sorted[0]
}

func toCandidate(t models.Teacher, reason models.SubstituteReason) *models.SubstituteCandidate {
	return &models.SubstituteCandidate{
		TeacherID:     t.ID,
		FullName:      t.FullName,
		WorkloadScore: t.WorkloadScore,
		Reason:        reason,
	}
}
