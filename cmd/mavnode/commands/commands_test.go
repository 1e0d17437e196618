package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mosaicnetworks/mavnode/src/dialect/minimal"
	"github.com/mosaicnetworks/mavnode/src/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFlag(t *testing.T) {
	c := NewDefaultCLIConfig()

	d, err := c.dialect()
	require.NoError(t, err)
	assert.Equal(t, minimal.WithPing.Name(), d.Name())

	c.Dialect = "Minimal"
	d, err = c.dialect()
	require.NoError(t, err)
	assert.Equal(t, minimal.Dialect.Name(), d.Name())

	c.Dialect = "common"
	_, err = c.dialect()
	assert.Error(t, err)
}

func TestKeygenWritesOnce(t *testing.T) {
	keyFile = filepath.Join(t.TempDir(), "keys", "signing_key")
	printOnly = false
	defer func() { keyFile = "" }()

	require.NoError(t, keygen(nil, nil))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	b, err := os.ReadFile(keyFile)
	require.NoError(t, err)
	_, err = sign.ParseKey(strings.TrimSpace(string(b)))
	assert.NoError(t, err)

	assert.Error(t, keygen(nil, nil))
}

func TestRunRetryFlags(t *testing.T) {
	cmd := NewRunCmd()
	for _, name := range []string{"retry.mode", "retry.attempts", "retry.interval"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "never", cmd.Flags().Lookup("retry.mode").DefValue)
}
