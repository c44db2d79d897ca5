package builtin

import (
	"fmt"

	"github.com/platinummonkey/axle/pkg/host"
	"github.com/platinummonkey/axle/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// Factory names referenced by entry_points in the bundled manifests.
const (
	InventoryFactory = "builtin.inventory"
	ShopFactory      = "builtin.shop"
	AuditFactory     = "builtin.audit"
)

// Register adds the builtin plugin constructors to reg.
func Register(reg *host.FactoryRegistry, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.New()
	}

	factories := map[string]host.Factory{
		InventoryFactory: func(desc *plugins.Descriptor) (plugins.Plugin, error) {
			return NewInventory(desc, log)
		},
		ShopFactory: func(desc *plugins.Descriptor) (plugins.Plugin, error) {
			return NewShop(desc, log), nil
		},
		AuditFactory: func(desc *plugins.Descriptor) (plugins.Plugin, error) {
			return NewAudit(desc, log), nil
		},
	}
	for name, f := range factories {
		if err := reg.Register(name, f); err != nil {
			return fmt.Errorf("failed to register builtin %s: %w", name, err)
		}
	}
	return nil
}

func pluginLogger(log logrus.FieldLogger, desc *plugins.Descriptor) logrus.FieldLogger {
	return log.WithFields(logrus.Fields{
		"plugin":  desc.ID,
		"version": desc.Version.String(),
	})
}
