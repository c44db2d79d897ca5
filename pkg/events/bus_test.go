package events

import (
	"context"
	"errors"
	"testing"

	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewBus(log, nil)
}

func TestBus_DeliveryOrder(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()

	var got []string
	record := func(name string) Handler {
		return func(ctx context.Context, event string, args ...any) error {
			got = append(got, name+":"+args[0].(string))
			return nil
		}
	}

	bus.Declare("z.plugin", []string{"order.created"})
	bus.Declare("a.plugin", []string{"order.created"})

	_, err := bus.Subscribe("z.plugin", "order.created", record("z"))
	require.NoError(t, err)
	_, err = bus.Subscribe("", "order.created", record("external"))
	require.NoError(t, err)
	_, err = bus.Subscribe("a.plugin", "order.created", record("a"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "order.created", "42"))
	assert.Equal(t, []string{"z:42", "external:42", "a:42"}, got)

	// unrelated events reach nobody
	require.NoError(t, bus.Publish(ctx, "order.deleted", "42"))
	assert.Len(t, got, 3)
}

func TestBus_UndeclaredEvent(t *testing.T) {
	bus := newTestBus()
	bus.Declare("p", []string{"a"})

	_, err := bus.Subscribe("p", "b", func(context.Context, string, ...any) error { return nil })
	assert.ErrorIs(t, err, ErrUndeclaredEvent)

	_, err = bus.Subscribe("never-declared", "a", func(context.Context, string, ...any) error { return nil })
	assert.ErrorIs(t, err, ErrUndeclaredEvent)

	_, err = bus.Subscribe("p", "", func(context.Context, string, ...any) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = bus.Subscribe("p", "a", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestBus_BestEffortFanOut(t *testing.T) {
	ctx := context.Background()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	bus := NewBus(log, metrics)

	delivered := 0
	boom := errors.New("boom")

	bus.Subscribe("", "e", func(context.Context, string, ...any) error { return boom })
	bus.Subscribe("", "e", func(context.Context, string, ...any) error { panic("bad handler") })
	bus.Subscribe("", "e", func(context.Context, string, ...any) error {
		delivered++
		return nil
	})

	err := bus.Publish(ctx, "e")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var pe *observability.PanicError
	assert.ErrorAs(t, err, &pe)
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "e", he.Event)
	assert.Equal(t, 1, delivered)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EventsPublishedTotal.WithLabelValues("e")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.EventHandlerErrors.WithLabelValues("e")))
}

func TestBus_UnsubscribeAndRemovePlugin(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()
	calls := 0
	h := func(context.Context, string, ...any) error {
		calls++
		return nil
	}

	bus.Declare("p", []string{"a", "b"})
	subA, _ := bus.Subscribe("p", "a", h)
	bus.Subscribe("p", "b", h)
	bus.Subscribe("", "b", h)

	require.NoError(t, bus.Unsubscribe(subA))
	assert.ErrorIs(t, bus.Unsubscribe(subA), ErrSubscriptionNotFound)

	bus.Publish(ctx, "a")
	assert.Equal(t, 0, calls)

	bus.RemovePlugin("p")
	bus.Publish(ctx, "b")
	assert.Equal(t, 1, calls, "only the external subscriber remains")
	assert.Len(t, bus.Subscriptions("b"), 1)

	// the declaration is gone too
	_, err := bus.Subscribe("p", "a", h)
	assert.ErrorIs(t, err, ErrUndeclaredEvent)
}

func TestBus_HandlerSeesArgs(t *testing.T) {
	bus := newTestBus()
	var gotEvent string
	var gotArgs []any
	bus.Subscribe("", PluginLoaded, func(ctx context.Context, event string, args ...any) error {
		gotEvent, gotArgs = event, args
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), PluginLoaded, "com.example.a", 3))
	assert.Equal(t, PluginLoaded, gotEvent)
	assert.Equal(t, []any{"com.example.a", 3}, gotArgs)
}
