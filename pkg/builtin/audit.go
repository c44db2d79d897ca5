package builtin

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
)

const defaultAuditCapacity = 100

// Audit records lifecycle events and capability deliveries it is allowed to
// see. It keeps the most recent entries, "capacity" attribute many.
type Audit struct {
	log      logrus.FieldLogger
	capacity int

	mu      sync.Mutex
	entries []string
}

// NewAudit creates an audit plugin.
func NewAudit(desc *plugins.Descriptor, log logrus.FieldLogger) *Audit {
	capacity := defaultAuditCapacity
	if n, err := strconv.Atoi(desc.Attributes["capacity"]); err == nil && n > 0 {
		capacity = n
	}
	return &Audit{
		log:      pluginLogger(log, desc),
		capacity: capacity,
	}
}

func (a *Audit) LoadPlugin(ctx context.Context) error      { return nil }
func (a *Audit) EndLoadPlugin(ctx context.Context) error   { return nil }
func (a *Audit) UnloadPlugin(ctx context.Context) error    { return nil }
func (a *Audit) EndUnloadPlugin(ctx context.Context) error { return nil }

func (a *Audit) LoadAllowed(ctx context.Context, provider plugins.Instance, capability string) error {
	a.record("capability %s provided by %s", capability, provider.ID())
	return nil
}

func (a *Audit) UnloadAllowed(ctx context.Context, provider plugins.Instance, capability string) error {
	a.record("capability %s withdrawn by %s", capability, provider.ID())
	return nil
}

func (a *Audit) HandleEvent(ctx context.Context, event string, args ...any) error {
	a.record("%s %v", event, args)
	return nil
}

// Entries returns the recorded entries, oldest first.
func (a *Audit) Entries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.entries)
}

func (a *Audit) record(format string, args ...any) {
	entry := fmt.Sprintf(format, args...)

	a.mu.Lock()
	a.entries = append(a.entries, entry)
	if over := len(a.entries) - a.capacity; over > 0 {
		a.entries = slices.Delete(a.entries, 0, over)
	}
	a.mu.Unlock()

	a.log.Info(entry)
}
