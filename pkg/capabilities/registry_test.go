package capabilities

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct {
	id         string
	instanceID string
}

func (f *fakeInstance) ID() string                       { return f.id }
func (f *fakeInstance) InstanceID() string               { return f.instanceID }
func (f *fakeInstance) Descriptor() *plugins.Descriptor { return &plugins.Descriptor{ID: f.id} }
func (f *fakeInstance) Plugin() plugins.Plugin           { return nil }

var instanceSeq int

func newInstance(id string) *fakeInstance {
	instanceSeq++
	return &fakeInstance{id: id, instanceID: fmt.Sprintf("%s#%d", id, instanceSeq)}
}

type recorder struct {
	calls []string
}

func (r *recorder) callbacks(consumer string) (Callback, Callback) {
	onProvide := func(ctx context.Context, p plugins.Instance, c string) error {
		r.calls = append(r.calls, fmt.Sprintf("%s+%s:%s", consumer, p.ID(), c))
		return nil
	}
	onWithdraw := func(ctx context.Context, p plugins.Instance, c string) error {
		r.calls = append(r.calls, fmt.Sprintf("%s-%s:%s", consumer, p.ID(), c))
		return nil
	}
	return onProvide, onWithdraw
}

func newTestRegistry() *Registry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewRegistry(log, nil)
}

func TestRegistry_ProvideThenSubscribe(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()
	rec := &recorder{}

	a := newInstance("com.example.a")
	b := newInstance("com.example.b")

	assert.Empty(t, reg.Provide(ctx, a, "store.inventory"))

	onProvide, onWithdraw := rec.callbacks("b")
	assert.Empty(t, reg.Subscribe(ctx, b, "store.inventory", onProvide, onWithdraw))
	assert.Equal(t, []string{"b+com.example.a:store.inventory"}, rec.calls)

	// providing again is a no-op
	reg.Provide(ctx, a, "store.inventory")
	assert.Len(t, rec.calls, 1)

	reg.WithdrawAll(ctx, a)
	assert.Equal(t, []string{
		"b+com.example.a:store.inventory",
		"b-com.example.a:store.inventory",
	}, rec.calls)

	// a second withdraw does not fire again
	reg.Withdraw(ctx, a, "store.inventory")
	assert.Len(t, rec.calls, 2)
	assert.Empty(t, reg.Capabilities())
}

func TestRegistry_ConsumerOrder(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()
	rec := &recorder{}

	for _, id := range []string{"zeta", "alpha", "mid"} {
		onProvide, onWithdraw := rec.callbacks(id)
		reg.Subscribe(ctx, newInstance(id), "store", onProvide, onWithdraw)
	}

	p := newInstance("provider")
	reg.Provide(ctx, p, "store.orders")
	reg.Withdraw(ctx, p, "store.orders")

	assert.Equal(t, []string{
		"alpha+provider:store.orders",
		"mid+provider:store.orders",
		"zeta+provider:store.orders",
		"alpha-provider:store.orders",
		"mid-provider:store.orders",
		"zeta-provider:store.orders",
	}, rec.calls)
}

func TestRegistry_ProviderNeverReceivesOwnCapability(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()
	rec := &recorder{}

	self := newInstance("self")
	onProvide, onWithdraw := rec.callbacks("self")
	reg.Subscribe(ctx, self, "echo", onProvide, onWithdraw)
	reg.Provide(ctx, self, "echo")

	assert.Empty(t, rec.calls)
}

func TestRegistry_OverlappingPatternsDeliverOnce(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()
	rec := &recorder{}

	consumer := newInstance("consumer")
	onProvide, onWithdraw := rec.callbacks("consumer")
	reg.Subscribe(ctx, consumer, "store", onProvide, onWithdraw)
	reg.Subscribe(ctx, consumer, "store.inventory", onProvide, onWithdraw)

	p := newInstance("p")
	reg.Provide(ctx, p, "store.inventory.read")
	reg.WithdrawAll(ctx, p)

	assert.Equal(t, []string{
		"consumer+p:store.inventory.read",
		"consumer-p:store.inventory.read",
	}, rec.calls)
}

func TestRegistry_NewProviderInstanceDeliversAgain(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()
	rec := &recorder{}

	consumer := newInstance("consumer")
	onProvide, onWithdraw := rec.callbacks("consumer")
	reg.Subscribe(ctx, consumer, "cache", onProvide, onWithdraw)

	first := newInstance("p")
	reg.Provide(ctx, first, "cache")
	reg.WithdrawAll(ctx, first)

	// reloaded provider gets a fresh instance id
	second := newInstance("p")
	reg.Provide(ctx, second, "cache")

	assert.Equal(t, []string{"consumer+p:cache", "consumer-p:cache", "consumer+p:cache"}, rec.calls)
}

func TestRegistry_UnsubscribeFiresNothing(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()
	rec := &recorder{}

	consumer := newInstance("consumer")
	onProvide, onWithdraw := rec.callbacks("consumer")
	p := newInstance("p")
	reg.Provide(ctx, p, "cache")
	reg.Subscribe(ctx, consumer, "cache", onProvide, onWithdraw)
	assert.Len(t, reg.Links(), 1)

	reg.Unsubscribe(consumer)
	reg.WithdrawAll(ctx, p)

	assert.Equal(t, []string{"consumer+p:cache"}, rec.calls)
	assert.Empty(t, reg.Links())
}

func TestRegistry_CallbackFailuresAreBestEffort(t *testing.T) {
	ctx := context.Background()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	reg := NewRegistry(log, metrics)
	rec := &recorder{}

	failing := newInstance("a-failing")
	panicking := newInstance("b-panicking")
	good := newInstance("c-good")

	reg.Subscribe(ctx, failing, "svc",
		func(context.Context, plugins.Instance, string) error { return errors.New("nope") },
		func(context.Context, plugins.Instance, string) error { return errors.New("still nope") })
	reg.Subscribe(ctx, panicking, "svc",
		func(context.Context, plugins.Instance, string) error { panic("boom") },
		nil)
	onProvide, onWithdraw := rec.callbacks("good")
	reg.Subscribe(ctx, good, "svc", onProvide, onWithdraw)

	p := newInstance("provider")
	errs := reg.Provide(ctx, p, "svc")
	require.Len(t, errs, 2)
	assert.Equal(t, "a-failing", errs[0].Consumer)
	assert.False(t, errs[0].Withdraw)
	var pe *observability.PanicError
	assert.ErrorAs(t, errs[1], &pe)
	assert.Equal(t, []string{"good+provider:svc"}, rec.calls)

	errs = reg.WithdrawAll(ctx, p)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Withdraw)
	assert.Contains(t, errs[0].Error(), "unload_allowed of a-failing for svc from provider")
	assert.Equal(t, []string{"good+provider:svc", "good-provider:svc"}, rec.calls)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CapabilityCallbacks.WithLabelValues("load_allowed", "failure")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.CapabilitiesProvided))
}

func TestRegistry_Queries(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	a := newInstance("a")
	b := newInstance("b")
	reg.Provide(ctx, b, "store.orders")
	reg.Provide(ctx, a, "store.inventory")
	reg.Provide(ctx, a, "mail")

	assert.Equal(t, []string{"mail", "store.inventory", "store.orders"}, reg.Capabilities())
	assert.Equal(t, []string{"mail", "store.inventory"}, reg.ProvidedBy(a.InstanceID()))

	provs := reg.Providers("store")
	require.Len(t, provs, 2)
	assert.Equal(t, "a", provs[0].Provider.ID())
	assert.Equal(t, "store.inventory", provs[0].Capability)
	assert.Equal(t, "b", provs[1].Provider.ID())

	consumer := newInstance("consumer")
	reg.Subscribe(ctx, consumer, "store", nil, nil)
	assert.Equal(t, []Link{
		{Consumer: "consumer", Provider: "a", Capability: "store.inventory"},
		{Consumer: "consumer", Provider: "b", Capability: "store.orders"},
	}, reg.Links())
}
