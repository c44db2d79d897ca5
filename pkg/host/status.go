package host

import (
	"slices"
	"strings"
	"time"

	"github.com/platinummonkey/axle/pkg/injection"
	"github.com/platinummonkey/axle/pkg/plugins"
)

// Status is a point-in-time view of one plugin.
type Status struct {
	ID         string              `json:"id"`
	Descriptor *plugins.Descriptor `json:"descriptor"`
	State      State               `json:"state"`
	// Reason explains an INVALID state, or the last aborted load.
	Reason    string   `json:"reason,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	Chain     []string `json:"chain,omitempty"`
	// InstanceID is set while an instance exists.
	InstanceID string   `json:"instance_id,omitempty"`
	Provides   []string `json:"provides,omitempty"`
	// Injected maps each hard dependency to the instance id bound to it, or
	// "" while the dependency is not LOADED.
	Injected       map[string]string `json:"injected,omitempty"`
	Bindings       []injection.Bound `json:"bindings,omitempty"`
	CallbackErrors []string          `json:"callback_errors,omitempty"`
	// PendingUpdate is set when a newer descriptor waits for the next reload.
	PendingUpdate bool      `json:"pending_update,omitempty"`
	LoadedAt      time.Time `json:"loaded_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at"`

	Err *plugins.PluginError `json:"-"`
}

// Status returns the status of id.
func (c *Controller) Status(id string) (Status, error) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return Status{}, notFound(id)
	}
	st := c.statusLocked(id, rec)
	c.mu.Unlock()

	return c.decorate(st), nil
}

// Statuses returns the status of every known plugin, sorted by id.
func (c *Controller) Statuses() []Status {
	c.mu.Lock()
	out := make([]Status, 0, len(c.records))
	for id, rec := range c.records {
		out = append(out, c.statusLocked(id, rec))
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.ID, b.ID) })
	for i := range out {
		out[i] = c.decorate(out[i])
	}
	return out
}

// States maps every known plugin id to its state name.
func (c *Controller) States() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.records))
	for id, rec := range c.records {
		out[id] = string(rec.state)
	}
	return out
}

// State returns the state of id, or false when it is unknown.
func (c *Controller) State(id string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return "", false
	}
	return rec.state, true
}

// Descriptors returns the current descriptor of every known plugin, sorted by id.
func (c *Controller) Descriptors() []*plugins.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.descriptorsLocked()
}

// Instance returns the live instance of id while it is LOADED.
func (c *Controller) Instance(id string) (plugins.Instance, bool) {
	inst := c.liveInstance(id)
	if inst == nil {
		return nil, false
	}
	return inst, true
}

// Injected returns the dependency references currently held by id. A nil
// value means the dependency is not LOADED.
func (c *Controller) Injected(id string) map[string]plugins.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok || rec.injected == nil {
		return nil
	}
	out := make(map[string]plugins.Instance, len(rec.injected))
	for dep, inst := range rec.injected {
		out[dep] = inst
	}
	return out
}

func (c *Controller) statusLocked(id string, rec *record) Status {
	st := Status{
		ID:             id,
		Descriptor:     rec.desc,
		State:          rec.state,
		PendingUpdate:  rec.pending != nil,
		CallbackErrors: slices.Clone(rec.cbErrs),
		LoadedAt:       rec.loadedAt,
		UpdatedAt:      rec.updatedAt,
		Err:            rec.err,
	}
	if rec.err != nil {
		st.Reason = rec.err.Error()
		st.Chain = slices.Clone(rec.err.Chain)
		if kind := plugins.Kind(rec.err); kind != nil {
			st.ErrorKind = kind.Error()
		}
	}
	if rec.inst != nil {
		st.InstanceID = rec.inst.InstanceID()
	}
	if rec.injected != nil {
		st.Injected = make(map[string]string, len(rec.injected))
		for dep, inst := range rec.injected {
			if inst != nil {
				st.Injected[dep] = inst.InstanceID()
			} else {
				st.Injected[dep] = ""
			}
		}
	}
	return st
}

// decorate fills in the parts owned by the registry and injector. It must be
// called without c.mu held.
func (c *Controller) decorate(st Status) Status {
	if st.InstanceID != "" {
		st.Provides = c.caps.ProvidedBy(st.InstanceID)
	}
	st.Bindings = c.injector.Current(st.ID)
	return st
}
