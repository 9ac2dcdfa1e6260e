package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-guard-api/internal/middleware"
	"github.com/noah-isme/sma-guard-api/internal/models"
	"github.com/noah-isme/sma-guard-api/pkg/timeofday"
)

type memorySlotStore struct {
	slots []models.ScheduleSlot
}

func (m *memorySlotStore) ListForConflict(ctx context.Context, instituteID string, dayOfWeek int, dimension models.ConflictDimension, key, excludeID string) ([]models.ScheduleSlot, error) {
	var out []models.ScheduleSlot
	for _, s := range m.slots {
		if s.InstituteID != instituteID || s.DayOfWeek != dayOfWeek || s.ID == excludeID {
			continue
		}
		switch {
		case dimension == models.DimensionTeacher && s.TeacherID == key,
			dimension == models.DimensionClass && s.ClassID == key,
			dimension == models.DimensionRoom && strings.EqualFold(s.Room, key):
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memorySlotStore) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleSlot, error) {
	var out []models.ScheduleSlot
	for _, s := range m.slots {
		if filter.InstituteID != "" && s.InstituteID != filter.InstituteID {
			continue
		}
		if filter.TeacherID != "" && s.TeacherID != filter.TeacherID {
			continue
		}
		if filter.ClassID != "" && s.ClassID != filter.ClassID {
			continue
		}
		if filter.DayOfWeek != nil && s.DayOfWeek != *filter.DayOfWeek {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memorySlotStore) FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	for _, s := range m.slots {
		if s.ID == id {
			cp := s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memorySlotStore) ListTeacherIDsBySubject(ctx context.Context, instituteID, subjectID string) ([]string, error) {
	return nil, nil
}

func (m *memorySlotStore) Create(ctx context.Context, slot *models.ScheduleSlot) error {
	slot.ID = "slot-new"
	m.slots = append(m.slots, *slot)
	return nil
}

func (m *memorySlotStore) Update(ctx context.Context, slot *models.ScheduleSlot) error {
	for i := range m.slots {
		if m.slots[i].ID == slot.ID {
			m.slots[i] = *slot
		}
	}
	return nil
}

func (m *memorySlotStore) Delete(ctx context.Context, id string) error {
	return nil
}

func mathSlot(id, teacherID, classID string, day int, start, end string) models.ScheduleSlot {
	return models.ScheduleSlot{
		ID:          id,
		InstituteID: "inst-1",
		TeacherID:   teacherID,
		ClassID:     classID,
		SubjectID:   "math",
		DayOfWeek:   day,
		StartTime:   timeofday.MustParse(start),
		EndTime:     timeofday.MustParse(end),
	}
}

func newTestContext(method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func adminOf(instituteID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, InstituteID: instituteID}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	Meta map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}
