package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geofence/model"
)

type fakeAreaMetrics struct {
	mu           sync.Mutex
	total, inert int
	calls        int
}

func (f *fakeAreaMetrics) SetAreaCounts(total, inert int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total, f.inert = total, inert
	f.calls++
}

func mustAdd(t *testing.T, r *AreaRegistry, name string, boundary []model.Coordinate) model.Area {
	t.Helper()
	a, err := r.Add(model.AreaSpec{Name: name, Boundary: boundary})
	require.NoError(t, err)
	return a
}

func TestAreaRegistry_AddAssignsIDs(t *testing.T) {
	r := NewAreaRegistry()

	first := mustAdd(t, r, "Warehouse", square(0, 0, 1, 1))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, uint64(1), first.Revision)
	assert.Equal(t, model.DefaultStrokeColor, first.StrokeColor)
	assert.Equal(t, model.DefaultFillColor, first.FillColor)

	second := mustAdd(t, r, "Offices", square(2, 2, 3, 3))
	third := mustAdd(t, r, "Lab", square(4, 4, 5, 5))
	require.Equal(t, int64(2), second.ID)
	require.Equal(t, int64(3), third.ID)

	// With ids {1,3} the next id is 4, never a reused 2.
	require.NoError(t, r.Remove(second.ID))
	fourth := mustAdd(t, r, "Annex", square(6, 6, 7, 7))
	assert.Equal(t, int64(4), fourth.ID)

	var names []string
	for _, a := range r.List() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"Warehouse", "Lab", "Annex"}, names)
}

func TestAreaRegistry_AddValidation(t *testing.T) {
	r := NewAreaRegistry()

	_, err := r.Add(model.AreaSpec{Name: "   ", Boundary: square(0, 0, 1, 1)})
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = r.Add(model.AreaSpec{Name: "Bad", Boundary: []model.Coordinate{{Lat: 0, Lng: 0}, {Lat: nanValue(), Lng: 1}}})
	assert.True(t, errors.Is(err, model.ErrInvalidCoordinate))

	assert.Empty(t, r.List())
	assert.Equal(t, uint64(0), r.Snapshot().Version)
}

func TestAreaRegistry_InertAreaIsKept(t *testing.T) {
	r := NewAreaRegistry()
	a := mustAdd(t, r, "Sketch", []model.Coordinate{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}})

	got, ok := r.Get(a.ID)
	require.True(t, ok)
	assert.False(t, got.HasValidBoundary())
}

func TestAreaRegistry_Update(t *testing.T) {
	r := NewAreaRegistry()
	a := mustAdd(t, r, "Warehouse", square(0, 0, 1, 1))

	name := "Cold storage"
	fill := ""
	updated, err := r.Update(a.ID, model.AreaPatch{Name: &name, FillColor: &fill})
	require.NoError(t, err)
	assert.Equal(t, "Cold storage", updated.Name)
	assert.Equal(t, model.DefaultFillColor, updated.FillColor)
	assert.Equal(t, uint64(2), updated.Revision)
	assert.Equal(t, a.Boundary, updated.Boundary)

	_, err = r.Update(99, model.AreaPatch{Name: &name})
	assert.True(t, errors.Is(err, model.ErrUnknownAreaID))

	blank := " "
	_, err = r.Update(a.ID, model.AreaPatch{Name: &blank})
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestAreaRegistry_RemoveUnknown(t *testing.T) {
	r := NewAreaRegistry()
	mustAdd(t, r, "Warehouse", square(0, 0, 1, 1))

	err := r.Remove(42)
	assert.True(t, errors.Is(err, model.ErrUnknownAreaID))
	assert.Len(t, r.List(), 1)
}

func TestAreaRegistry_SnapshotIsolation(t *testing.T) {
	r := NewAreaRegistry()
	a := mustAdd(t, r, "Warehouse", square(0, 0, 1, 1))

	before := r.Snapshot()
	boundary := square(5, 5, 6, 6)
	_, err := r.Update(a.ID, model.AreaPatch{Boundary: &boundary})
	require.NoError(t, err)

	old, ok := before.Find(a.ID)
	require.True(t, ok)
	assert.Equal(t, square(0, 0, 1, 1), old.Boundary, "old snapshot must not observe the update")
	assert.Greater(t, r.Snapshot().Version, before.Version)

	// Mutating a listed copy must not leak into the registry.
	listed := r.List()
	listed[0].Boundary[0].Lat = 99
	got, _ := r.Get(a.ID)
	assert.Equal(t, 5.0, got.Boundary[0].Lat)
}

func TestAreaRegistry_SubscribersSeeChangesInOrder(t *testing.T) {
	r := NewAreaRegistry()

	var (
		mu    sync.Mutex
		first []ChangeKind
		order []string
	)
	r.Subscribe(func(c AreaChange) {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, c.Kind)
		order = append(order, "a")
	})
	unsubscribe := r.Subscribe(func(c AreaChange) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "b")
	})

	a := mustAdd(t, r, "Warehouse", square(0, 0, 1, 1))
	unsubscribe()
	name := "Depot"
	_, err := r.Update(a.ID, model.AreaPatch{Name: &name})
	require.NoError(t, err)
	require.NoError(t, r.Remove(a.ID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ChangeKind{AreaAdded, AreaUpdated, AreaRemoved}, first)
	assert.Equal(t, []string{"a", "b", "a", "a"}, order)
}

func TestAreaRegistry_ChangeCarriesSnapshot(t *testing.T) {
	r := NewAreaRegistry()

	var got AreaChange
	r.Subscribe(func(c AreaChange) { got = c })

	a := mustAdd(t, r, "Warehouse", square(0, 0, 1, 1))
	require.NoError(t, r.Remove(a.ID))

	assert.Equal(t, AreaRemoved, got.Kind)
	assert.Equal(t, "Warehouse", got.Area.Name)
	require.NotNil(t, got.Snapshot)
	assert.Empty(t, got.Snapshot.Areas)
	assert.Equal(t, uint64(2), got.Snapshot.Version)
	assert.Equal(t, "removed", got.Kind.String())
}

func TestAreaRegistry_Metrics(t *testing.T) {
	m := &fakeAreaMetrics{}
	r := NewAreaRegistry(WithAreaMetrics(m))

	mustAdd(t, r, "Warehouse", square(0, 0, 1, 1))
	mustAdd(t, r, "Sketch", []model.Coordinate{{Lat: 0, Lng: 0}})

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 2, m.total)
	assert.Equal(t, 1, m.inert)
	assert.Equal(t, 3, m.calls)
}

func TestAreaRegistry_ConcurrentWritersAndReaders(t *testing.T) {
	r := NewAreaRegistry()

	var versions []uint64
	var mu sync.Mutex
	r.Subscribe(func(c AreaChange) {
		mu.Lock()
		versions = append(versions, c.Snapshot.Version)
		mu.Unlock()
	})

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := r.Add(model.AreaSpec{Name: "Area", Boundary: square(0, 0, 1, 1)})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := r.Snapshot()
			for _, a := range snap.Areas {
				assert.True(t, a.HasValidBoundary())
			}
		}
	}()
	wg.Wait()

	areas := r.List()
	require.Len(t, areas, writers*perWriter)
	seen := make(map[int64]bool, len(areas))
	for _, a := range areas {
		assert.False(t, seen[a.ID], "duplicate id %d", a.ID)
		seen[a.ID] = true
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, versions, writers*perWriter)
	for i := 1; i < len(versions); i++ {
		assert.Equal(t, versions[i-1]+1, versions[i], "notifications out of order")
	}
}
