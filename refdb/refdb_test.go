package refdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/tabvcerr"
)

func TestUpdateBranchCreateThenConflict(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)

	c1 := hash.Sum([]byte("commit-1"))
	require.NoError(t, db.UpdateBranch("main", hash.Zero, c1))

	got, err := db.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, c1, got)

	// creating again with old=Zero must fail, branch already exists.
	err = db.UpdateBranch("main", hash.Zero, hash.Sum([]byte("other")))
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.RevisionConflict))
}

func TestUpdateBranchAdvance(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)

	c1 := hash.Sum([]byte("c1"))
	c2 := hash.Sum([]byte("c2"))
	require.NoError(t, db.UpdateBranch("main", hash.Zero, c1))
	require.NoError(t, db.UpdateBranch("main", c1, c2))

	got, err := db.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, c2, got)
}

func TestUpdateBranchStaleOldRejected(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)

	c1 := hash.Sum([]byte("c1"))
	c2 := hash.Sum([]byte("c2"))
	require.NoError(t, db.UpdateBranch("main", hash.Zero, c1))

	err = db.UpdateBranch("main", hash.Sum([]byte("wrong-expectation")), c2)
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.RevisionConflict))
}

func TestUpdateBranchMissingBranchRejected(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)

	err = db.UpdateBranch("ghost", hash.Sum([]byte("c1")), hash.Sum([]byte("c2")))
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.RevisionConflict))
}

func TestListBranchesSorted(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, db.UpdateBranch("feature/z", hash.Zero, hash.Sum([]byte("z"))))
	require.NoError(t, db.UpdateBranch("main", hash.Zero, hash.Sum([]byte("m"))))
	require.NoError(t, db.UpdateBranch("feature/a", hash.Zero, hash.Sum([]byte("a"))))

	names, err := db.ListBranches()
	require.NoError(t, err)
	assert.Equal(t, []string{"feature/a", "feature/z", "main"}, names)
}

func TestDeleteBranch(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.UpdateBranch("main", hash.Zero, hash.Sum([]byte("c"))))
	require.NoError(t, db.DeleteBranch("main"))
	assert.False(t, db.BranchExists("main"))

	err = db.DeleteBranch("main")
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.NotFound))
}

func TestHeadAttachedAndDetached(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)

	c1 := hash.Sum([]byte("c1"))
	require.NoError(t, db.UpdateBranch("main", hash.Zero, c1))
	require.NoError(t, db.SetHead("main"))

	branch, h, detached, err := db.Head()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.Equal(t, c1, h)
	assert.False(t, detached)

	current, attached, err := db.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", current)
	assert.True(t, attached)

	require.NoError(t, db.DetachHead(c1))
	branch, h, detached, err = db.Head()
	require.NoError(t, err)
	assert.Equal(t, "", branch)
	assert.Equal(t, c1, h)
	assert.True(t, detached)

	_, attached, err = db.CurrentBranch()
	require.NoError(t, err)
	assert.False(t, attached)
}

func TestHeadMissing(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	_, _, _, err = db.Head()
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.NotFound))
}
