package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/logging"
)

// fakeRepository は範囲内のレコードを返すインメモリの取得元
type fakeRepository struct {
	mu          sync.Mutex
	records     []model.Record[string]
	calls       []orb.Bound
	fail        func(orb.Bound) error
	gate        chan struct{}
	started     chan orb.Bound
	ignoreBound bool
}

func newFakeRepository(records ...model.Record[string]) *fakeRepository {
	return &fakeRepository{records: records}
}

func (f *fakeRepository) FetchByBoundingBox(ctx context.Context, bound orb.Bound, _ model.FetchFilter) ([]model.Record[string], error) {
	f.mu.Lock()
	f.calls = append(f.calls, bound)
	fail := f.fail
	gate := f.gate
	started := f.started
	records := append([]model.Record[string](nil), f.records...)
	ignoreBound := f.ignoreBound
	f.mu.Unlock()

	if started != nil {
		started <- bound
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(bound); err != nil {
			return nil, err
		}
	}

	var result []model.Record[string]
	for _, r := range records {
		if ignoreBound || bound.Contains(r.Coordinate.Point()) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (f *fakeRepository) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRepository) setFail(fail func(orb.Bound) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeRepository) set(records ...model.Record[string]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
}

// stepClock は呼ばれるたびに1秒進む時計
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func rec(id string, lat, lon float64) model.Record[string] {
	return model.Record[string]{ID: id, Coordinate: model.Coordinate{Lat: lat, Lon: lon}, Fields: id}
}

func newTestCache(repo *fakeRepository, cfg CacheConfig) *ImageCache[string] {
	cache, err := NewImageCache[string](repo, cfg,
		WithLogger(logging.NewTestLogger(io.Discard)),
		WithClock(newStepClock().Now),
	)
	if err != nil {
		panic(err)
	}
	return cache
}

func (c *ImageCache[T]) hasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *ImageCache[T]) recordIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, r := range c.store.All() {
		ids = append(ids, r.ID)
	}
	return ids
}
