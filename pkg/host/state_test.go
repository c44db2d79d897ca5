package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateUnloaded, StateResolving, true},
		{StateResolving, StateLoading, true},
		{StateResolving, StateInvalid, true},
		{StateLoading, StateLoaded, true},
		{StateLoading, StateUnloaded, true},
		{StateLoaded, StateUnloading, true},
		{StateUnloading, StateUnloaded, true},
		{StateUnloading, StateInvalid, true},
		{StateInvalid, StateUnloaded, true},
		{StateUnloaded, StateLoaded, false},
		{StateLoaded, StateUnloaded, false},
		{StateInvalid, StateLoading, false},
		{StateLoaded, StateInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestState_Pending(t *testing.T) {
	for _, s := range AllStates {
		want := s == StateResolving || s == StateLoading || s == StateUnloading
		assert.Equal(t, want, s.Pending(), s)
	}
}
