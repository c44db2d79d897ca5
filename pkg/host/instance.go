package host

import (
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/axle/pkg/plugins"
)

// Instance is one load cycle of a plugin. A reload creates a new Instance
// with a new InstanceID.
type Instance struct {
	descriptor *plugins.Descriptor
	instanceID string
	plugin     plugins.Plugin
	seq        uint64
	createdAt  time.Time
}

func newInstance(desc *plugins.Descriptor, p plugins.Plugin, seq uint64) *Instance {
	return &Instance{
		descriptor: desc,
		instanceID: uuid.NewString(),
		plugin:     p,
		seq:        seq,
		createdAt:  time.Now(),
	}
}

// ID returns the plugin id.
func (i *Instance) ID() string { return i.descriptor.ID }

// InstanceID returns the id of this load cycle.
func (i *Instance) InstanceID() string { return i.instanceID }

// Descriptor returns the descriptor the instance was loaded from.
func (i *Instance) Descriptor() *plugins.Descriptor { return i.descriptor }

// Plugin returns the plugin implementation.
func (i *Instance) Plugin() plugins.Plugin { return i.plugin }

// Seq is the global load sequence number of the instance.
func (i *Instance) Seq() uint64 { return i.seq }

var _ plugins.Instance = (*Instance)(nil)
