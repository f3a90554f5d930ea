package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	root := RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.Contains(t, execute(t, "version"), "ingen ")
}

func TestPluginsCommand(t *testing.T) {
	out := execute(t, "plugins")
	assert.Contains(t, out, "URI")
	assert.Contains(t, out, "urn:ingen:sine")

	out = execute(t, "plugins", "--json")
	assert.Contains(t, out, `"uri": "urn:ingen:gain"`)
}

func TestSubcommandsAreRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCommand().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "render", "plugins", "version"} {
		assert.True(t, names[want], want)
	}
}
