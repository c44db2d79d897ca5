// Package events is the cross-plugin notification channel.
//
// Plugins declare the events they handle in their descriptor's
// events_handled list; the bus refuses plugin subscriptions to anything else.
// Delivery is synchronous and ordered by registration, and handler failures
// are logged and returned without stopping the fan-out:
//
//	bus := events.NewBus(log, metrics)
//	bus.Declare("com.example.audit", []string{"order.created"})
//	sub, err := bus.Subscribe("com.example.audit", "order.created", handler)
//	err = bus.Publish(ctx, "order.created", orderID)
package events
