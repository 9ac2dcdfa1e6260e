package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-guard-api/internal/models"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
)

const dateLayout = "2006-01-02"

type activityRegistry interface {
	FindByID(ctx context.Context, id string) (*models.Activity, error)
	ListSupervisorIDs(ctx context.Context, activityID string) ([]string, error)
	ListEnrolledStudentIDs(ctx context.Context, activityID string) ([]string, error)
}

type enrollmentRoster interface {
	ListStudentIDsByClass(ctx context.Context, classID string) ([]string, error)
}

type guardTeacherReader interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Teacher, error)
}

type guardScheduleReader interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleSlot, error)
}

type guardDutyStore interface {
	FindByNaturalKey(ctx context.Context, key models.GuardDutyKey) (*models.GuardDuty, error)
	Record(ctx context.Context, duty *models.GuardDuty) (bool, error)
	List(ctx context.Context, filter models.GuardDutyFilter) ([]models.GuardDuty, int, error)
	ListByActivity(ctx context.Context, activityID string) ([]models.GuardDuty, error)
	Stats(ctx context.Context, instituteID string, from, to *time.Time) (*models.GuardDutyStats, error)
}

type substituteSearcher interface {
	Find(ctx context.Context, q SubstituteQuery) (*models.SubstituteCandidate, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

type notificationDispatcher interface {
	Dispatch(ctx context.Context, event models.NotificationEvent)
}

// GuardDutyDeps groups the collaborators of GuardDutyService.
type GuardDutyDeps struct {
	Activities activityRegistry
	Roster     enrollmentRoster
	Teachers   guardTeacherReader
	Schedules  guardScheduleReader
	Duties     guardDutyStore
	Finder     substituteSearcher
	Classes    classReader
	Subjects   subjectReader
	Notifier   notificationDispatcher
	Cache      statsCache
	Metrics    *MetricsService
}

// GuardDutyConfig tunes orchestration runs.
type GuardDutyConfig struct {
	RunTimeout    time.Duration
	StatsCacheTTL time.Duration
}

// GuardDutyService finds substitutes for every lesson vacated by an activity's supervisors.
type GuardDutyService struct {
	deps   GuardDutyDeps
	cfg    GuardDutyConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewGuardDutyService builds the orchestrator.
func NewGuardDutyService(deps GuardDutyDeps, cfg GuardDutyConfig, logger *zap.Logger) *GuardDutyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardDutyService{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// guardRun memoises lookups shared by the slots of one run.
type guardRun struct {
	activity     *models.Activity
	going        map[string]struct{}
	teacherNames map[string]string
	labels       map[string]string
	rosterSizes  map[string]int
	written      map[string]struct{}
}

// AssignForActivity covers every lesson the activity's supervisors would teach between its start and end dates.
// Rows written for earlier slots survive a failure on a later one. Re-running only fills missing rows.
func (s *GuardDutyService) AssignForActivity(ctx context.Context, activityID string) (*models.GuardAssignmentSummary, error) {
	if activityID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "activity id is required")
	}
	started := s.now()
	defer func() { s.deps.Metrics.ObserveGuardRun(s.now().Sub(started)) }()

	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	run, supervisorIDs, err := s.prepare(ctx, activityID)
	if err != nil {
		return nil, err
	}

	summary := &models.GuardAssignmentSummary{ActivityID: activityID, Details: []models.GuardAssignmentDetail{}}
	log := s.logger.With(zap.String("activity_id", activityID), zap.String("institute_id", run.activity.InstituteID))

	for _, date := range weekdaysBetween(run.activity.StartDate, run.activity.EndDate) {
		day := int(date.Weekday())
		for _, teacherID := range supervisorIDs {
			if err := ctx.Err(); err != nil {
				return summary, s.runAborted(err, summary)
			}

			slots, err := s.deps.Schedules.List(ctx, models.ScheduleFilter{TeacherID: teacherID, DayOfWeek: &day})
			if err != nil {
				log.Error("failed to load supervisor timetable", zap.String("teacher_id", teacherID), zap.String("date", date.Format(dateLayout)), zap.Error(err))
				continue
			}

			for _, slot := range slots {
				summary.TotalGuardsNeeded++
				detail, err := s.coverSlot(ctx, run, teacherID, date, slot)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return summary, s.runAborted(ctxErr, summary)
					}
					log.Error("failed to cover slot", zap.String("slot_id", slot.ID), zap.String("date", date.Format(dateLayout)), zap.Error(err))
					detail = s.describeFailure(ctx, run, teacherID, date, slot)
				}
				switch detail.Status {
				case models.GuardStatusAssigned, models.GuardStatusCompleted:
					summary.GuardsAssigned++
				default:
					summary.GuardsPending++
				}
				summary.Details = append(summary.Details, *detail)
			}
		}
	}

	s.invalidateStats(ctx, run.activity.InstituteID)
	log.Info("guard duty run finished",
		zap.Int("total", summary.TotalGuardsNeeded),
		zap.Int("assigned", summary.GuardsAssigned),
		zap.Int("pending", summary.GuardsPending),
	)
	return summary, nil
}

func (s *GuardDutyService) prepare(ctx context.Context, activityID string) (*guardRun, []string, error) {
	activity, err := s.deps.Activities.FindByID(ctx, activityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	if activity.EndDate.Before(activity.StartDate) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "activity ends before it starts")
	}

	supervisorIDs, err := s.deps.Activities.ListSupervisorIDs(ctx, activityID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity supervisors")
	}
	studentIDs, err := s.deps.Activities.ListEnrolledStudentIDs(ctx, activityID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity participants")
	}

	run := &guardRun{
		activity:     activity,
		going:        make(map[string]struct{}, len(studentIDs)),
		teacherNames: make(map[string]string),
		labels:       make(map[string]string),
		rosterSizes:  make(map[string]int),
		written:      make(map[string]struct{}),
	}
	for _, id := range studentIDs {
		run.going[id] = struct{}{}
	}

	supervisors, err := s.deps.Teachers.FindByIDs(ctx, supervisorIDs)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load supervising teachers")
	}
	for _, t := range supervisors {
		run.teacherNames[t.ID] = t.FullName
	}
	return run, supervisorIDs, nil
}

func (s *GuardDutyService) coverSlot(ctx context.Context, run *guardRun, teacherID string, date time.Time, slot models.ScheduleSlot) (*models.GuardAssignmentDetail, error) {
	key := models.GuardDutyKey{OriginalTeacherID: teacherID, ClassID: slot.ClassID, Date: date}
	existing, err := s.deps.Duties.FindByNaturalKey(ctx, key)
	switch {
	case err == nil:
		return s.describeExisting(ctx, run, existing, slot, nil)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lookup existing guard duty: %w", err)
	}

	remaining := s.remainingStudents(ctx, run, slot.ClassID)

	candidate, err := s.deps.Finder.Find(ctx, SubstituteQuery{
		InstituteID:      run.activity.InstituteID,
		SubjectID:        slot.SubjectID,
		ExcludeTeacherID: teacherID,
		DayOfWeek:        slot.DayOfWeek,
		Start:            slot.StartTime,
		End:              slot.EndTime,
	})
	if err != nil {
		return nil, fmt.Errorf("find substitute: %w", err)
	}

	slotID := slot.ID
	duty := models.GuardDuty{
		InstituteID:       run.activity.InstituteID,
		ActivityID:        run.activity.ID,
		OriginalTeacherID: teacherID,
		ClassID:           slot.ClassID,
		ScheduleSlotID:    &slotID,
		Date:              date,
		Status:            models.GuardStatusPendingAssignment,
	}
	if candidate != nil {
		substituteID := candidate.TeacherID
		duty.SubstituteTeacherID = &substituteID
		duty.Status = models.GuardStatusAssigned
		run.teacherNames[candidate.TeacherID] = candidate.FullName
	}

	created, err := s.deps.Duties.Record(ctx, &duty)
	if err != nil {
		return nil, fmt.Errorf("record guard duty: %w", err)
	}
	if !created {
		// a concurrent run inserted the same natural key first
		existing, err := s.deps.Duties.FindByNaturalKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reload guard duty: %w", err)
		}
		return s.describeExisting(ctx, run, existing, slot, &remaining)
	}

	run.written[duty.ID] = struct{}{}
	s.deps.Metrics.ObserveGuardAssignment(string(duty.Status))
	detail := s.describe(ctx, run, &duty, slot, &remaining)
	s.notify(ctx, duty, *detail)
	return detail, nil
}

// describeExisting reports a row already stored under the lesson's natural key. A row written for another
// lesson of the same class that day covers this lesson only when its substitute is also free at this time.
// Otherwise the lesson is reported pending, and escalated once when the row was written by this run.
func (s *GuardDutyService) describeExisting(ctx context.Context, run *guardRun, existing *models.GuardDuty, slot models.ScheduleSlot, remaining *int) (*models.GuardAssignmentDetail, error) {
	if existing.ScheduleSlotID == nil || *existing.ScheduleSlotID == slot.ID {
		return s.describe(ctx, run, existing, slot, remaining), nil
	}

	if existing.SubstituteTeacherID != nil {
		free, err := s.substituteFree(ctx, *existing.SubstituteTeacherID, slot)
		if err != nil {
			return nil, fmt.Errorf("check substitute availability: %w", err)
		}
		if free {
			return s.describe(ctx, run, existing, slot, remaining), nil
		}
	}

	uncovered := *existing
	uncovered.SubstituteTeacherID = nil
	uncovered.Status = models.GuardStatusPendingAssignment
	detail := s.describe(ctx, run, &uncovered, slot, remaining)
	detail.GuardDutyID = ""
	if _, ours := run.written[existing.ID]; ours {
		s.notify(ctx, uncovered, *detail)
	}
	return detail, nil
}

func (s *GuardDutyService) substituteFree(ctx context.Context, teacherID string, slot models.ScheduleSlot) (bool, error) {
	day := slot.DayOfWeek
	busy, err := s.deps.Schedules.List(ctx, models.ScheduleFilter{TeacherID: teacherID, DayOfWeek: &day})
	if err != nil {
		return false, err
	}
	for _, other := range busy {
		if other.Range().Overlaps(slot.Range()) {
			return false, nil
		}
	}
	return true, nil
}

// describeFailure reports a lesson whose processing failed so it still shows up in the summary.
func (s *GuardDutyService) describeFailure(ctx context.Context, run *guardRun, teacherID string, date time.Time, slot models.ScheduleSlot) *models.GuardAssignmentDetail {
	return &models.GuardAssignmentDetail{
		Date:                date.Format(dateLayout),
		OriginalTeacherID:   teacherID,
		OriginalTeacherName: s.teacherName(ctx, run, teacherID),
		ClassSubject:        s.classSubjectLabel(ctx, run, slot.ClassID, slot.SubjectID),
		TimeRange:           slot.Range().String(),
		Status:              models.GuardStatusError,
		RemainingStudents:   s.remainingStudents(ctx, run, slot.ClassID),
	}
}

func (s *GuardDutyService) describe(ctx context.Context, run *guardRun, duty *models.GuardDuty, slot models.ScheduleSlot, remaining *int) *models.GuardAssignmentDetail {
	if remaining == nil {
		n := s.remainingStudents(ctx, run, slot.ClassID)
		remaining = &n
	}
	detail := &models.GuardAssignmentDetail{
		GuardDutyID:         duty.ID,
		Date:                duty.Date.Format(dateLayout),
		OriginalTeacherID:   duty.OriginalTeacherID,
		OriginalTeacherName: s.teacherName(ctx, run, duty.OriginalTeacherID),
		SubstituteTeacherID: duty.SubstituteTeacherID,
		ClassSubject:        s.classSubjectLabel(ctx, run, slot.ClassID, slot.SubjectID),
		TimeRange:           slot.Range().String(),
		Status:              duty.Status,
		RemainingStudents:   *remaining,
	}
	if duty.SubstituteTeacherID != nil {
		name := s.teacherName(ctx, run, *duty.SubstituteTeacherID)
		detail.SubstituteTeacherName = &name
	}
	return detail
}

func (s *GuardDutyService) notify(ctx context.Context, duty models.GuardDuty, detail models.GuardAssignmentDetail) {
	if s.deps.Notifier == nil {
		return
	}
	event := models.NotificationEvent{
		GuardDutyID: duty.ID,
		InstituteID: duty.InstituteID,
		OccurredAt:  s.now().UTC(),
	}
	if duty.Status == models.GuardStatusAssigned {
		event.Type = models.NotificationGuardAssigned
		event.RecipientID = *duty.SubstituteTeacherID
		event.Title = "Guard duty assigned"
		event.Message = fmt.Sprintf("You are covering %s on %s %s for %s.", detail.ClassSubject, detail.Date, detail.TimeRange, detail.OriginalTeacherName)
	} else {
		event.Type = models.NotificationGuardAssignmentFailed
		event.RecipientID = models.AudienceManagement
		event.Title = "No substitute found"
		event.Message = fmt.Sprintf("No teacher is free to cover %s on %s %s while %s is away. Manual assignment required.", detail.ClassSubject, detail.Date, detail.TimeRange, detail.OriginalTeacherName)
	}
	s.deps.Notifier.Dispatch(ctx, event)
}

func (s *GuardDutyService) remainingStudents(ctx context.Context, run *guardRun, classID string) int {
	if n, ok := run.rosterSizes[classID]; ok {
		return n
	}
	students, err := s.deps.Roster.ListStudentIDsByClass(ctx, classID)
	if err != nil {
		s.logger.Warn("failed to load class roster", zap.String("class_id", classID), zap.Error(err))
		return 0
	}
	remaining := 0
	for _, id := range students {
		if _, going := run.going[id]; !going {
			remaining++
		}
	}
	run.rosterSizes[classID] = remaining
	return remaining
}

func (s *GuardDutyService) teacherName(ctx context.Context, run *guardRun, id string) string {
	if name, ok := run.teacherNames[id]; ok {
		return name
	}
	name := id
	if teachers, err := s.deps.Teachers.FindByIDs(ctx, []string{id}); err == nil && len(teachers) == 1 {
		name = teachers[0].FullName
	}
	run.teacherNames[id] = name
	return name
}

func (s *GuardDutyService) classSubjectLabel(ctx context.Context, run *guardRun, classID, subjectID string) string {
	key := classID + "|" + subjectID
	if label, ok := run.labels[key]; ok {
		return label
	}
	className, subjectName := classID, subjectID
	if s.deps.Classes != nil {
		if class, err := s.deps.Classes.FindByID(ctx, classID); err == nil {
			className = class.Name
		}
	}
	if s.deps.Subjects != nil {
		if subject, err := s.deps.Subjects.FindByID(ctx, subjectID); err == nil {
			subjectName = subject.Name
		}
	}
	label := className + " - " + subjectName
	run.labels[key] = label
	return label
}

func (s *GuardDutyService) runAborted(err error, summary *models.GuardAssignmentSummary) error {
	s.logger.Warn("guard duty run aborted",
		zap.String("activity_id", summary.ActivityID),
		zap.Int("processed", len(summary.Details)),
		zap.Error(err),
	)
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.WithDetails(appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, "guard duty run timed out"), summary)
	}
	return appErrors.WithDetails(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "guard duty run cancelled"), summary)
}

// Activity loads an activity so callers can check its institute before acting on it.
func (s *GuardDutyService) Activity(ctx context.Context, activityID string) (*models.Activity, error) {
	activity, err := s.deps.Activities.FindByID(ctx, activityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	return activity, nil
}

// ListByActivity returns the guard duties generated for an activity.
func (s *GuardDutyService) ListByActivity(ctx context.Context, activityID string) ([]models.GuardDuty, error) {
	duties, err := s.deps.Duties.ListByActivity(ctx, activityID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list guard duties")
	}
	return duties, nil
}

// List returns an institute's guard duties with pagination metadata.
func (s *GuardDutyService) List(ctx context.Context, filter models.GuardDutyFilter) ([]models.GuardDuty, *models.Pagination, error) {
	if filter.InstituteID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "institute is required")
	}
	switch filter.Status {
	case "", models.GuardStatusAssigned, models.GuardStatusPendingAssignment, models.GuardStatusCompleted:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown guard duty status")
	}
	duties, total, err := s.deps.Duties.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list guard duties")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return duties, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Stats summarises guard duties for an institute over an optional date range.
func (s *GuardDutyService) Stats(ctx context.Context, instituteID string, from, to *time.Time) (*models.GuardDutyStats, error) {
	if instituteID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "institute is required")
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}

	key := guardStatsKey(instituteID, from, to)
	if s.deps.Cache != nil {
		var cached models.GuardDutyStats
		if hit, err := s.deps.Cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	stats, err := s.deps.Duties.Stats(ctx, instituteID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute guard duty stats")
	}
	if stats.TotalGuards > 0 {
		stats.AssignmentRate = float64(stats.AssignedGuards+stats.CompletedGuards) / float64(stats.TotalGuards)
	}

	if s.deps.Cache != nil {
		_ = s.deps.Cache.Set(ctx, key, stats, s.cfg.StatsCacheTTL)
	}
	return stats, nil
}

func (s *GuardDutyService) invalidateStats(ctx context.Context, instituteID string) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Invalidate(ctx, "guard-stats:"+instituteID+":*"); err != nil {
		s.logger.Warn("failed to invalidate guard stats cache", zap.String("institute_id", instituteID), zap.Error(err))
	}
}

func guardStatsKey(instituteID string, from, to *time.Time) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format(dateLayout)
	}
	return fmt.Sprintf("guard-stats:%s:%s:%s", instituteID, bound(from), bound(to))
}

// weekdaysBetween lists the Monday to Friday dates in [start, end]. Institute holidays are not consulted.
func weekdaysBetween(start, end time.Time) []time.Time {
	first := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var dates []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			dates = append(dates, d)
		}
	}
	return dates
}
