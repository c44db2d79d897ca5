package capabilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern    string
		capability string
		want       bool
	}{
		{"gui_manager", "gui_manager", true},
		{"gui_manager", "gui_manager2", false},
		{"store.inventory", "store.inventory", true},
		{"store.inventory", "store.inventory.read", true},
		{"store.inventory", "store.inventorymgmt", false},
		{"store.inventory.read", "store.inventory", false},
		{"diamante.gui", "diamante.gui.widgets.button", true},
		{"store.*.read", "store.inventory.read", true},
		{"store.*.read", "store.orders.read.bulk", true},
		{"store.*.read", "store.inventory.write", false},
		{"store.*", "store", false},
		{"*", "anything", true},
		{"*", "anything.nested", true},
		{"", "store", false},
		{"store", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.capability, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.capability))
		})
	}
}
