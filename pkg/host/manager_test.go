package host

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/platinummonkey/axle/pkg/dependencies"
	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_OneMalformedInBatch(t *testing.T) {
	ctx := context.Background()
	src := plugins.NewStaticSource()
	for i := range 9 {
		src.Put(&plugins.Manifest{ID: fmt.Sprintf("plugin-%d", i), Version: "1.0.0"})
	}
	src.Put(&plugins.Manifest{ID: "", Version: "1.0.0"})

	f := newFixture(t, WithSources(src))
	for i := range 9 {
		require.NoError(t, f.m.Factories().Register(fmt.Sprintf("plugin-%d", i), f.factory))
	}

	report, err := f.m.Discover(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Accepted, 9)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, plugins.ErrMalformedDescriptor.Error(), report.Rejected[0].Kind)

	loaded := f.m.LoadAll(ctx)
	assert.Len(t, loaded.Loaded, 9)
	assert.True(t, loaded.OK())
}

func TestLoadAll_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithConcurrency(2))
	f.configure("x", func(p *testPlugin) { p.fail["load_plugin"] = errors.New("boom") })
	f.add(
		desc("a", "1.0.0"),
		desc("b", "1.0.0", "a"),
		desc("c", "1.0.0", "a"),
		desc("d", "1.0.0", "b", "c"),
		desc("x", "1.0.0"),
		desc("y", "1.0.0", "x"),
		desc("z", "1.0.0", "missing"),
		desc("cyc1", "1.0.0", "cyc2"),
		desc("cyc2", "1.0.0", "cyc1"),
	)

	report := f.m.LoadAll(ctx)
	assert.Equal(t, []string{"a", "b", "c", "d"}, report.Loaded)

	failed := make(map[string]string)
	for _, fl := range report.Failed {
		failed[fl.ID] = fl.Kind
	}
	assert.Equal(t, map[string]string{
		"x":    plugins.ErrHookFailure.Error(),
		"y":    plugins.ErrDependencyFailed.Error(),
		"z":    plugins.ErrMissingDependency.Error(),
		"cyc1": plugins.ErrCircularDependency.Error(),
		"cyc2": plugins.ErrCircularDependency.Error(),
	}, failed)

	for _, id := range []string{"x", "z", "cyc1", "cyc2"} {
		assert.Equal(t, StateInvalid, f.state(id), id)
	}
	assert.Equal(t, StateUnloaded, f.state("y"), "a failing dependency leaves its dependent UNLOADED")
	assert.Less(t, f.j.index("a.end_load_plugin"), f.j.index("b.load_plugin"))
	assert.Less(t, f.j.index("c.end_load_plugin"), f.j.index("d.load_plugin"))
}

func TestLoadAll_RunsLevelConcurrently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithConcurrency(3))

	gate := make(chan struct{})
	ids := []string{"p1", "p2", "p3"}
	for _, id := range ids {
		f.configure(id, func(p *testPlugin) { p.block = gate })
		f.add(desc(id, "1.0.0"))
	}

	done := make(chan *Report)
	go func() { done <- f.m.LoadAll(ctx) }()

	// Every hook blocks on the gate, so all three can only be in flight together.
	require.Eventually(t, func() bool {
		n := 0
		for _, id := range ids {
			n += f.j.count(id + ".load_plugin")
		}
		return n == len(ids)
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)

	report := <-done
	assert.Equal(t, ids, report.Loaded)
}

func TestManager_LoadRejectsCycle(t *testing.T) {
	f := newFixture(t)
	f.add(
		desc("a", "1.0.0", "b"),
		desc("b", "1.0.0", "a"),
		desc("c", "1.0.0"),
	)

	err := f.m.Load(context.Background(), "a")
	assert.ErrorIs(t, err, plugins.ErrCircularDependency)
	require.NoError(t, f.m.Load(context.Background(), "c"))

	err = f.m.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, plugins.ErrPluginNotFound)
}

func TestManager_MissingDependencyRecoversWhenAdded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(desc("app", "1.0.0", "lib@1.x.x"))

	err := f.m.Load(ctx, "app")
	assert.ErrorIs(t, err, plugins.ErrMissingDependency)
	assert.Equal(t, StateInvalid, f.state("app"))

	f.add(desc("lib", "1.4.0"))
	assert.Equal(t, StateUnloaded, f.state("app"))
	require.NoError(t, f.m.Load(ctx, "app"))
	assert.Equal(t, StateLoaded, f.state("lib"))
}

func TestManager_UnloadAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(
		desc("a", "1.0.0"),
		desc("b", "1.0.0", "a"),
		desc("c", "1.0.0"),
	)
	require.True(t, f.m.LoadAll(ctx).OK())

	report := f.m.UnloadAll(ctx)
	assert.True(t, report.OK())
	assert.Equal(t, []string{"a", "b", "c"}, report.Unloaded)
	assert.Less(t, f.j.index("b.unload_plugin"), f.j.index("a.unload_plugin"))
	for _, st := range f.m.List() {
		assert.Equal(t, StateUnloaded, st.State, st.ID)
	}
}

func TestManager_SyncFollowsSource(t *testing.T) {
	ctx := context.Background()
	src := plugins.NewStaticSource(&plugins.Manifest{
		ID:           "inventory",
		Version:      "1.0.0",
		Capabilities: []string{"store.inventory"},
	})
	f := newFixture(t, WithSources(src))
	require.NoError(t, f.m.Factories().Register("inventory", f.factory))

	report, err := f.m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory"}, report.Loaded)
	first, err := f.m.Get("inventory")
	require.NoError(t, err)

	src.Put(&plugins.Manifest{ID: "inventory", Version: "1.1.0", Capabilities: []string{"store.inventory"}})
	_, err = f.m.Sync(ctx)
	require.NoError(t, err)
	second, err := f.m.Get("inventory")
	require.NoError(t, err)
	assert.Equal(t, StateLoaded, second.State)
	assert.Equal(t, "1.1.0", second.Descriptor.Version.String())
	assert.NotEqual(t, first.InstanceID, second.InstanceID)
	assert.False(t, second.PendingUpdate)

	src.Remove("inventory")
	report, err = f.m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory"}, report.Unloaded)
	_, err = f.m.Get("inventory")
	assert.ErrorIs(t, err, plugins.ErrPluginNotFound)
}

func TestManager_ReloadRereadsSource(t *testing.T) {
	ctx := context.Background()
	src := plugins.NewStaticSource(&plugins.Manifest{ID: "svc", Version: "1.0.0"})
	f := newFixture(t, WithSources(src))
	require.NoError(t, f.m.Factories().Register("svc", f.factory))
	_, err := f.m.Discover(ctx)
	require.NoError(t, err)
	require.NoError(t, f.m.Load(ctx, "svc"))

	src.Put(&plugins.Manifest{ID: "svc", Version: "not-a-version"})
	err = f.m.Reload(ctx, "svc", UnloadOptions{})
	assert.ErrorIs(t, err, plugins.ErrMalformedDescriptor)
	assert.Equal(t, StateLoaded, f.state("svc"), "a bad manifest leaves the running plugin alone")

	src.Put(&plugins.Manifest{ID: "svc", Version: "2.0.0"})
	require.NoError(t, f.m.Reload(ctx, "svc", UnloadOptions{}))
	st, err := f.m.Get("svc")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", st.Descriptor.Version.String())
}

func TestManager_Remove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(desc("a", "1.0.0"), desc("b", "1.0.0", "a"))
	require.NoError(t, f.m.Load(ctx, "b"))

	err := f.m.Remove(ctx, "a")
	assert.ErrorIs(t, err, plugins.ErrUnloadBlocked)

	require.NoError(t, f.m.Remove(ctx, "b"))
	require.NoError(t, f.m.Remove(ctx, "a"))
	assert.Empty(t, f.m.List())
}

func TestManager_GraphIncludesCapabilityLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(
		withCaps(desc("store", "1.0.0"), "store.inventory"),
		withAllowed(desc("shop", "1.0.0", "store"), "store.inventory"),
	)
	require.NoError(t, f.m.Load(ctx, "shop"))

	g := f.m.Graph()
	var kinds []dependencies.EdgeKind
	for _, e := range g.Edges() {
		if e.Consumer == "shop" {
			kinds = append(kinds, e.Kind)
		}
	}
	assert.Equal(t, []dependencies.EdgeKind{dependencies.EdgeHard, dependencies.EdgeCapability}, kinds)
	assert.Equal(t, []ProvidedCapability{{Name: "store.inventory", Providers: []string{"store"}}}, f.m.Capabilities())
}

func TestManager_Metrics(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	f := newFixture(t, WithMetrics(metrics))
	f.add(desc("a", "1.0.0"), desc("b", "1.0.0", "missing"))

	f.m.LoadAll(ctx)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PluginsByState.WithLabelValues(string(StateLoaded))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PluginsByState.WithLabelValues(string(StateInvalid))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransitionsTotal.WithLabelValues("load", "success")))
}

func TestManager_WatchStopsWithContext(t *testing.T) {
	f := newFixture(t, WithRescanSchedule("@every 1h"))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- f.m.Watch(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestManager_WatchRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, WithRescanSchedule("every tuesday"))
	err := f.m.Watch(context.Background())
	assert.Error(t, err)
}
