package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "dir/a.csv", Normalize(`dir\a.csv`))
	assert.Equal(t, "dir/a.csv", Normalize("/dir/a.csv"))
	assert.Equal(t, "", Normalize("."))
	assert.Equal(t, "", Normalize("/"))
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	root := t.TempDir()
	p, err := SafeJoin(root, "a/b.csv")
	require.NoError(t, err)
	assert.Contains(t, p, root)

	// SecureJoin clamps ".." so it can never climb out of root, rather
	// than erroring; assert the resolved path still stays inside root.
	escaped, err := SafeJoin(root, "../../etc/passwd")
	require.NoError(t, err)
	assert.Contains(t, escaped, root)
}
