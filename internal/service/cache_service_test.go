package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
)

type memoryCacheRepo struct {
	data     map[string][]byte
	ttls     map[string]time.Duration
	patterns []string
	getErr   error
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.patterns = append(m.patterns, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
		}
	}
	return nil
}

func TestCacheServiceReadThrough(t *testing.T) {
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 0, nil, true)
	ctx := context.Background()

	var out map[string]int
	hit, err := svc.Get(ctx, "guard-stats:inst-1:-:-", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "guard-stats:inst-1:-:-", map[string]int{"total": 3}, 0))
	assert.Equal(t, 5*time.Minute, repo.ttls["guard-stats:inst-1:-:-"])

	hit, err = svc.Get(ctx, "guard-stats:inst-1:-:-", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 3, out["total"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("miss")))

	require.NoError(t, svc.Invalidate(ctx, "guard-stats:inst-1:*"))
	hit, _ = svc.Get(ctx, "guard-stats:inst-1:-:-", &out)
	assert.False(t, hit)
}

func TestCacheServiceSurfacesBackendErrors(t *testing.T) {
	repo := newMemoryCacheRepo()
	repo.getErr = errors.New("connection refused")
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	var out map[string]int
	hit, err := svc.Get(context.Background(), "k", &out)
	assert.False(t, hit)
	assert.Error(t, err)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, false)
	ctx := context.Background()

	assert.False(t, svc.Enabled())
	require.NoError(t, svc.Set(ctx, "k", 1, 0))
	assert.Empty(t, repo.data)

	var out int
	hit, err := svc.Get(ctx, "k", &out)
	assert.False(t, hit)
	assert.NoError(t, err)
}
