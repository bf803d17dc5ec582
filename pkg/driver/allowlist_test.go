package driver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowlist(t *testing.T) {
	m := parseAllowlist(`
# solvers
/usr/local/bin/z3
/opt/cvc5/bin/cvc5   # pinned build
relative/path
   #
`)
	assert.Len(t, m, 2)
	assert.Contains(t, m, "/usr/local/bin/z3")
	assert.Contains(t, m, "/opt/cvc5/bin/cvc5")
}

func TestAllowlistDisabledWhenEmpty(t *testing.T) {
	a, err := NewAllowlist(nil, "", nil)
	require.NoError(t, err)
	defer a.Close()
	assert.False(t, a.Enabled())
}

func TestAllowlistStatic(t *testing.T) {
	a, err := NewAllowlist([]string{"/usr/local/bin/z3"}, "", nil)
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.Enabled())
	assert.True(t, a.Allowed("/usr/local/bin/z3"))
	assert.False(t, a.Allowed("/usr/local/bin/cvc5"))
}

func TestAllowlistFileReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "allow.txt")
	require.NoError(t, os.WriteFile(file, []byte("/opt/a/z3\n"), 0o644))

	a, err := NewAllowlist(nil, file, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Allowed("/opt/a/z3"))
	assert.False(t, a.Allowed("/opt/b/cvc5"))

	require.NoError(t, os.WriteFile(file, []byte("/opt/b/cvc5\n"), 0o644))
	require.Eventually(t, func() bool {
		return a.Allowed("/opt/b/cvc5") && !a.Allowed("/opt/a/z3")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAllowlistMissingFileKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "allow.txt")
	require.NoError(t, os.WriteFile(file, []byte("/opt/a/z3\n"), 0o644))

	a, err := NewAllowlist(nil, file, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, os.Remove(file))
	require.NoError(t, a.Reload())
	assert.True(t, a.Allowed("/opt/a/z3"))
}
