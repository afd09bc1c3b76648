package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cohort-recruitment-api/internal/dto"
	"github.com/noah-isme/cohort-recruitment-api/internal/repository"
	appErrors "github.com/noah-isme/cohort-recruitment-api/pkg/errors"
)

type memoryCacheRepo struct {
	entries map[string][]byte
	getErr  error
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: make(map[string][]byte)}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.entries[key]
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
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func TestCacheServiceDisabled(t *testing.T) {
	var nilSvc *CacheService
	hit, err := nilSvc.Get(context.Background(), "k", &struct{}{})
	assert.False(t, hit)
	assert.NoError(t, err)

	svc := NewCacheService(newMemoryCacheRepo(), nil, 0, nil, false)
	assert.False(t, svc.Enabled())
	assert.NoError(t, svc.Set(context.Background(), "k", 1, 0))
}

func TestCacheServiceHitMissAndErrors(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, time.Minute, nil, true)

	var out map[string]int
	hit, err := svc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "k", map[string]int{"a": 1}, 0))
	hit, err = svc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, out["a"])

	require.NoError(t, svc.Invalidate(ctx, "k"))
	hit, _ = svc.Get(ctx, "k", &out)
	assert.False(t, hit)

	repo.getErr = errors.New("redis down")
	_, err = svc.Get(ctx, "k", &out)
	assert.Error(t, err)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(3), snapshot.CacheMisses)
}

func TestStudyViewIsCachedAndInvalidated(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, nil, true)
	clock := newFakeClock()
	svc := NewRecruitmentService(repository.NewMemoryStudyRepository(), repository.NewMemoryShippingRepository(),
		repository.NewKeyedLocker(), nil, cache, nil, nil, nil, RecruitmentConfig{}).WithClock(clock.Now)

	_, err := svc.InitializeStudy(ctx, dto.InitializeStudyRequest{StudyID: "s1", TargetParticipants: 5, WaitlistCount: 20})
	require.NoError(t, err)

	view, err := svc.GetView(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, repo.entries, StudyViewKey("s1"))
	assert.Equal(t, 20, view.WaitlistCount)

	_, err = svc.RecordWaitlistGrowth(ctx, "s1", 5, 0)
	require.NoError(t, err)
	assert.NotContains(t, repo.entries, StudyViewKey("s1"))

	view, err = svc.GetView(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 25, view.WaitlistCount)
}
