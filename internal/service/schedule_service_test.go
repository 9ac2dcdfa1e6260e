package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-guard-api/internal/models"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
	"github.com/noah-isme/sma-guard-api/pkg/timeofday"
)

type fakeScheduleStore struct {
	slots        []models.ScheduleSlot
	seq          int
	listErr      error
	beforeCreate func(f *fakeScheduleStore)
	createErr    error
	createCalls  int
}

func (f *fakeScheduleStore) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleSlot, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.ScheduleSlot
	for _, s := range f.slots {
		switch {
		case filter.InstituteID != "" && s.InstituteID != filter.InstituteID,
			filter.TeacherID != "" && s.TeacherID != filter.TeacherID,
			filter.ClassID != "" && s.ClassID != filter.ClassID,
			filter.SubjectID != "" && s.SubjectID != filter.SubjectID,
			filter.Room != "" && !strings.EqualFold(strings.TrimSpace(s.Room), strings.TrimSpace(filter.Room)),
			filter.DayOfWeek != nil && s.DayOfWeek != *filter.DayOfWeek:
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeScheduleStore) FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	for _, s := range f.slots {
		if s.ID == id {
			cp := s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeScheduleStore) ListForConflict(ctx context.Context, instituteID string, dayOfWeek int, dimension models.ConflictDimension, key, excludeID string) ([]models.ScheduleSlot, error) {
	var out []models.ScheduleSlot
	for _, s := range f.slots {
		if s.InstituteID != instituteID || s.DayOfWeek != dayOfWeek || (excludeID != "" && s.ID == excludeID) {
			continue
		}
		var match bool
		switch dimension {
		case models.DimensionTeacher:
			match = s.TeacherID == key
		case models.DimensionClass:
			match = s.ClassID == key
		case models.DimensionRoom:
			match = strings.EqualFold(strings.TrimSpace(s.Room), key)
		}
		if match {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) ListTeacherIDsBySubject(ctx context.Context, instituteID, subjectID string) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, s := range f.slots {
		if s.InstituteID == instituteID && s.SubjectID == subjectID && !seen[s.TeacherID] {
			seen[s.TeacherID] = true
			ids = append(ids, s.TeacherID)
		}
	}
	return ids, nil
}

func (f *fakeScheduleStore) Create(ctx context.Context, slot *models.ScheduleSlot) error {
	f.createCalls++
	if f.beforeCreate != nil {
		f.beforeCreate(f)
	}
	if f.createErr != nil {
		return f.createErr
	}
	if slot.ID == "" {
		f.seq++
		slot.ID = fmt.Sprintf("slot-%d", f.seq)
	}
	f.slots = append(f.slots, *slot)
	return nil
}

func (f *fakeScheduleStore) Update(ctx context.Context, slot *models.ScheduleSlot) error {
	for i := range f.slots {
		if f.slots[i].ID == slot.ID {
			f.slots[i] = *slot
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeScheduleStore) Delete(ctx context.Context, id string) error {
	for i := range f.slots {
		if f.slots[i].ID == id {
			f.slots = append(f.slots[:i], f.slots[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeStatsCache struct {
	entries     map[string][]byte
	hits        int
	invalidated []string
}

func newFakeStatsCache() *fakeStatsCache {
	return &fakeStatsCache{entries: map[string][]byte{}}
}

func (c *fakeStatsCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *fakeStatsCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *fakeStatsCache) Invalidate(ctx context.Context, pattern string) error {
	c.invalidated = append(c.invalidated, pattern)
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	for key := range c.entries {
		if key == pattern || (wildcard && strings.HasPrefix(key, prefix)) {
			delete(c.entries, key)
		}
	}
	return nil
}

func newSlot(id, teacherID, classID, subjectID, room string, day int, start, end string) models.ScheduleSlot {
	return models.ScheduleSlot{
		ID:          id,
		InstituteID: "inst-1",
		TeacherID:   teacherID,
		ClassID:     classID,
		SubjectID:   subjectID,
		DayOfWeek:   day,
		StartTime:   timeofday.MustParse(start),
		EndTime:     timeofday.MustParse(end),
		Room:        room,
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func createRequest(teacherID, classID, room string, day int, start, end string) CreateScheduleRequest {
	return CreateScheduleRequest{
		InstituteID: "inst-1",
		TeacherID:   teacherID,
		ClassID:     classID,
		SubjectID:   "math",
		DayOfWeek:   intPtr(day),
		StartTime:   start,
		EndTime:     end,
		Room:        room,
	}
}

func newScheduleFixture(slots ...models.ScheduleSlot) (*ScheduleService, *fakeScheduleStore, *fakeStatsCache) {
	store := &fakeScheduleStore{slots: slots}
	cache := newFakeStatsCache()
	return NewScheduleService(store, cache, time.Minute, nil, zap.NewNop()), store, cache
}

func conflictsOf(t *testing.T, err error) []models.ScheduleConflict {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	conflicts, ok := appErr.Details.([]models.ScheduleConflict)
	require.True(t, ok, "conflict details should carry the conflicting slots")
	return conflicts
}

func TestScheduleServiceCreateStoresSlot(t *testing.T) {
	svc, store, _ := newScheduleFixture()

	slot, err := svc.Create(context.Background(), createRequest("t1", "c1", "R1", 1, "08:00", "09:00"))
	require.NoError(t, err)
	assert.NotEmpty(t, slot.ID)
	assert.Equal(t, timeofday.Minutes(480), slot.StartTime)
	assert.Len(t, store.slots, 1)
}

func TestScheduleServiceCreateRejectsTeacherOverlap(t *testing.T) {
	svc, store, _ := newScheduleFixture(newSlot("s1", "t1", "c1", "math", "R1", 1, "08:00", "09:00"))

	_, err := svc.Create(context.Background(), createRequest("t1", "c2", "R2", 1, "08:30", "09:30"))
	require.Error(t, err)

	conflicts := conflictsOf(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.DimensionTeacher, conflicts[0].Dimension)
	assert.Equal(t, "s1", conflicts[0].ConflictingSlot.ID)
	assert.Len(t, store.slots, 1)
	assert.Zero(t, store.createCalls)

	var domainErr *models.ScheduleConflictError
	assert.True(t, errors.As(err, &domainErr))
}

func TestScheduleServiceCreateAllowsTouchingSlots(t *testing.T) {
	svc, _, _ := newScheduleFixture(newSlot("s1", "t1", "c1", "math", "R1", 1, "08:00", "09:00"))

	_, err := svc.Create(context.Background(), createRequest("t1", "c1", "R1", 1, "09:00", "10:00"))
	require.NoError(t, err)
}

func TestScheduleServiceCreateAllowsOtherDay(t *testing.T) {
	svc, _, _ := newScheduleFixture(newSlot("s1", "t1", "c1", "math", "R1", 1, "08:00", "09:00"))

	_, err := svc.Create(context.Background(), createRequest("t1", "c1", "R1", 2, "08:00", "09:00"))
	require.NoError(t, err)
}

func TestScheduleServiceCreateReportsEveryDimensionInOrder(t *testing.T) {
	svc, _, _ := newScheduleFixture(
		newSlot("room", "t3", "c3", "art", "lab a", 1, "08:00", "09:00"),
		newSlot("class", "t2", "c1", "bio", "R2", 1, "08:15", "08:45"),
		newSlot("teacher", "t1", "c2", "math", "R3", 1, "08:30", "09:30"),
	)

	_, err := svc.Create(context.Background(), createRequest("t1", "c1", " Lab A ", 1, "08:00", "09:00"))
	conflicts := conflictsOf(t, err)
	require.Len(t, conflicts, 3)
	assert.Equal(t, models.DimensionTeacher, conflicts[0].Dimension)
	assert.Equal(t, models.DimensionClass, conflicts[1].Dimension)
	assert.Equal(t, models.DimensionRoom, conflicts[2].Dimension)
	assert.Equal(t, "room", conflicts[2].ConflictingSlot.ID)
}

func TestScheduleServiceCreateIgnoresEmptyRoom(t *testing.T) {
	svc, _, _ := newScheduleFixture(newSlot("s1", "t1", "c1", "math", "", 1, "08:00", "09:00"))

	_, err := svc.Create(context.Background(), createRequest("t2", "c2", "", 1, "08:00", "09:00"))
	require.NoError(t, err)
}

func TestScheduleServiceCreateValidatesInput(t *testing.T) {
	svc, _, _ := newScheduleFixture()

	cases := map[string]CreateScheduleRequest{
		"end before start": createRequest("t1", "c1", "", 1, "10:00", "09:00"),
		"empty range":      createRequest("t1", "c1", "", 1, "09:00", "09:00"),
		"bad time":         createRequest("t1", "c1", "", 1, "9am", "10:00"),
		"day out of range": createRequest("t1", "c1", "", 7, "08:00", "09:00"),
		"missing teacher":  createRequest("", "c1", "", 1, "08:00", "09:00"),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
}

func TestScheduleServiceCreateMapsStorageOverlap(t *testing.T) {
	svc, store, _ := newScheduleFixture()
	store.beforeCreate = func(f *fakeScheduleStore) {
		f.slots = append(f.slots, newSlot("racer", "t1", "c9", "math", "", 1, "08:00", "09:00"))
	}
	store.createErr = fmt.Errorf("create schedule slot: %w", models.ErrSlotOverlap)

	_, err := svc.Create(context.Background(), createRequest("t1", "c1", "", 1, "08:30", "09:30"))
	conflicts := conflictsOf(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "racer", conflicts[0].ConflictingSlot.ID)
}

func TestScheduleServiceUpdateExcludesItself(t *testing.T) {
	svc, store, _ := newScheduleFixture(newSlot("s1", "t1", "c1", "math", "R1", 1, "08:00", "09:00"))

	updated, err := svc.Update(context.Background(), "s1", UpdateScheduleRequest{StartTime: strPtr("08:30"), EndTime: strPtr("09:30")})
	require.NoError(t, err)
	assert.Equal(t, "08:30", updated.StartTime.String())
	assert.Equal(t, "09:30", store.slots[0].EndTime.String())
}

func TestScheduleServiceUpdateDetectsNewConflict(t *testing.T) {
	svc, _, _ := newScheduleFixture(
		newSlot("s1", "t1", "c1", "math", "", 1, "08:00", "09:00"),
		newSlot("s2", "t2", "c2", "math", "", 1, "10:00", "11:00"),
	)

	_, err := svc.Update(context.Background(), "s2", UpdateScheduleRequest{TeacherID: strPtr("t1"), StartTime: strPtr("08:30"), EndTime: strPtr("09:30")})
	conflicts := conflictsOf(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "s1", conflicts[0].ConflictingSlot.ID)
}

func TestScheduleServiceUpdateNotesSkipsDetection(t *testing.T) {
	store := &fakeScheduleStore{slots: []models.ScheduleSlot{newSlot("s1", "t1", "c1", "math", "", 1, "08:00", "09:00")}}
	svc := NewScheduleService(store, nil, 0, nil, nil)

	updated, err := svc.Update(context.Background(), "s1", UpdateScheduleRequest{Notes: strPtr("bring lab coats")})
	require.NoError(t, err)
	assert.Equal(t, "bring lab coats", updated.Notes)
}

func TestScheduleServiceUpdateRejectsEmptyReference(t *testing.T) {
	svc, _, _ := newScheduleFixture(newSlot("s1", "t1", "c1", "math", "", 1, "08:00", "09:00"))

	_, err := svc.Update(context.Background(), "s1", UpdateScheduleRequest{ClassID: strPtr("")})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestScheduleServiceUpdateAndDeleteMissingSlot(t *testing.T) {
	svc, _, _ := newScheduleFixture()

	_, err := svc.Update(context.Background(), "missing", UpdateScheduleRequest{Notes: strPtr("x")})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	err = svc.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestScheduleServiceDeleteInvalidatesStats(t *testing.T) {
	svc, store, cache := newScheduleFixture(newSlot("s1", "t1", "c1", "math", "", 1, "08:00", "09:00"))

	require.NoError(t, svc.Delete(context.Background(), "s1"))
	assert.Empty(t, store.slots)
	assert.Contains(t, cache.invalidated, "schedule-stats:inst-1")
}

func TestScheduleServiceListsByDimension(t *testing.T) {
	svc, _, _ := newScheduleFixture(
		newSlot("s1", "t1", "c1", "math", "Lab", 1, "08:00", "09:00"),
		newSlot("s2", "t1", "c2", "math", "R2", 2, "08:00", "09:00"),
		newSlot("s3", "t2", "c1", "bio", "lab", 2, "10:00", "11:00"),
	)
	ctx := context.Background()

	byTeacher, err := svc.ListByTeacher(ctx, "inst-1", "t1", nil)
	require.NoError(t, err)
	assert.Len(t, byTeacher, 2)

	byClassTuesday, err := svc.ListByClass(ctx, "inst-1", "c1", intPtr(2))
	require.NoError(t, err)
	require.Len(t, byClassTuesday, 1)
	assert.Equal(t, "s3", byClassTuesday[0].ID)

	byRoom, err := svc.ListByRoom(ctx, "inst-1", "LAB", nil)
	require.NoError(t, err)
	assert.Len(t, byRoom, 2)

	otherInstitute, err := svc.ListByTeacher(ctx, "inst-2", "t1", nil)
	require.NoError(t, err)
	assert.Empty(t, otherInstitute)

	_, err = svc.ListByInstitute(ctx, "inst-1", intPtr(9))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestScheduleServiceBulkCreateDetectsIntraBatchConflicts(t *testing.T) {
	svc, store, _ := newScheduleFixture()
	req := BulkCreateSchedulesRequest{Items: []CreateScheduleRequest{
		createRequest("t1", "c1", "", 1, "08:00", "09:00"),
		createRequest("t1", "c2", "", 1, "08:30", "09:30"),
		createRequest("t2", "c3", "", 1, "08:00", "09:00"),
	}}

	_, err := svc.BulkCreate(context.Background(), req)
	conflicts := conflictsOf(t, err)
	require.Len(t, conflicts, 1)
	assert.Empty(t, store.slots)

	req.PartialOnError = true
	result, err := svc.BulkCreate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, result.Created, 2)
	assert.Len(t, result.Conflicts, 1)
	assert.Len(t, store.slots, 2)
}

func TestScheduleServiceIsTeacherAvailable(t *testing.T) {
	svc, _, _ := newScheduleFixture(newSlot("s1", "t1", "c1", "math", "", 3, "10:00", "11:00"))
	ctx := context.Background()

	busy, err := svc.IsTeacherAvailable(ctx, "inst-1", "t1", 3, "10:30", "11:30")
	require.NoError(t, err)
	assert.False(t, busy.Available)
	assert.Len(t, busy.Conflicts, 1)

	free, err := svc.IsTeacherAvailable(ctx, "inst-1", "t1", 3, "11:00", "12:00")
	require.NoError(t, err)
	assert.True(t, free.Available)
	assert.NotNil(t, free.Conflicts)

	_, err = svc.IsTeacherAvailable(ctx, "inst-1", "t1", 3, "12:00", "11:00")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestScheduleServiceStatsIsCachedUntilWrite(t *testing.T) {
	svc, _, cache := newScheduleFixture(
		newSlot("s1", "t1", "c1", "math", "", 1, "08:00", "09:00"),
		newSlot("s2", "t1", "c2", "math", "", 2, "08:00", "09:00"),
	)
	ctx := context.Background()

	stats, err := svc.Stats(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSlots)
	assert.Equal(t, 1, stats.ByDay["Monday"])
	assert.Equal(t, 2, stats.ByTeacher["t1"])

	_, err = svc.Stats(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	_, err = svc.Create(ctx, createRequest("t2", "c3", "", 5, "08:00", "09:00"))
	require.NoError(t, err)

	stats, err = svc.Stats(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSlots)
	assert.Equal(t, 1, stats.ByDay["Friday"])
}
