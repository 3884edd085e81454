package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOnly_BlocksMutations(t *testing.T) {
	const b = "cmd-readonly"

	_, err := memCLI(t, b, "keep", "put", "/kept.txt")
	require.NoError(t, err)

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{name: "put", stdin: "x", args: []string{"put", "/new.txt"}},
		{name: "mkdir", args: []string{"mkdir", "/dir"}},
		{name: "rm", args: []string{"rm", "/kept.txt"}},
		{name: "mv", args: []string{"mv", "/kept.txt", "/moved.txt"}},
		{name: "touch", args: []string{"touch", "/kept.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := memCLI(t, b, tt.stdin, append([]string{"--readonly"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "readonly")
			assert.Equal(t, ExitReadOnly, exitCodeFor(err))
		})
	}

	out, err := memCLI(t, b, "", "--readonly", "cat", "/kept.txt")
	require.NoError(t, err, "reads are allowed")
	assert.Equal(t, "keep", out)

	out, err = memCLI(t, b, "", "ls", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept.txt"}, lines(out))
}

func TestReadOnly_FromViper(t *testing.T) {
	resetFlags(t)
	defer resetFlags(t)

	viper.Set("readonly", true)
	assert.True(t, isReadOnly())
	viper.Set("readonly", false)
	assert.False(t, isReadOnly())
}
