package pluginmodule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor(t *testing.T) {
	parser := NewDescriptorParser()

	desc, err := parser.Parse([]byte(`
plugin: {
	id:      "hello-cards"
	name:    "Hello Cards"
	version: "1.2.0"
	type:    "component"
	main:    "New"
	author:  "example"
	settings: {
		greeting: "hi"
	}
}
`))
	require.NoError(t, err)
	assert.Equal(t, "hello-cards", desc.ID)
	assert.Equal(t, "1.2.0", desc.Version)
	assert.Equal(t, "component", desc.Type)
	assert.Equal(t, "New", desc.Main)
	assert.Equal(t, "hi", desc.Settings["greeting"])
}

func TestParseDescriptorRejections(t *testing.T) {
	parser := NewDescriptorParser()

	tests := []struct {
		name string
		src  string
		kind ErrorKind
	}{
		{
			"missing required fields",
			`plugin: { id: "x", name: "X" }`,
			KindSchemaViolation,
		},
		{
			"bad id pattern",
			`plugin: { id: "Bad ID!", name: "X", version: "1.0.0", type: "component", main: "New" }`,
			KindSchemaViolation,
		},
		{
			"bad version",
			`plugin: { id: "x", name: "X", version: "one", type: "component", main: "New" }`,
			KindSchemaViolation,
		},
		{
			"unsupported type",
			`plugin: { id: "x", name: "X", version: "1.0.0", type: "cron", main: "New" }`,
			KindUnsupportedType,
		},
		{
			"not cue at all",
			`{{{{`,
			KindMalformedPackage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse([]byte(tt.src))
			require.Error(t, err)
			var lerr *LifecycleError
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, tt.kind, lerr.Kind)
		})
	}
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateDiscovered, StateLoaded))
	assert.True(t, CanTransition(StateLoaded, StateActive))
	assert.True(t, CanTransition(StateActive, StateInactive))
	assert.True(t, CanTransition(StateInactive, StateActive))
	assert.True(t, CanTransition(StateInactive, StateUninstalled))
	assert.True(t, CanTransition(StateError, StateLoaded))

	assert.False(t, CanTransition(StateDiscovered, StateActive))
	assert.False(t, CanTransition(StateActive, StateUninstalled), "active plugins deactivate first")
	assert.False(t, CanTransition(StateUninstalled, StateLoaded))
	assert.False(t, CanTransition(StateActive, StateLoaded))
}
