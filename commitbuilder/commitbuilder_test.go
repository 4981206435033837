package commitbuilder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/refdb"
	"github.com/tabvc/tabvc/stager"
	"github.com/tabvc/tabvc/storage/cas"
	"github.com/tabvc/tabvc/storage/mns"
)

type testEnv struct {
	builder *Builder
	stager  *stager.Stager
	dir     string
	cas     cas.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	workingDir := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(workingDir, 0o755))

	store := cas.NewFSStore(filepath.Join(root, "cas"))
	require.NoError(t, store.Init(context.Background()))

	nodes, err := mns.Open(filepath.Join(root, "nodes"))
	require.NoError(t, err)

	refs, err := refdb.Open(filepath.Join(root, "refs"))
	require.NoError(t, err)
	require.NoError(t, refs.SetHead("main"))

	st, err := stager.Open(filepath.Join(workingDir, stager.RepoDirName), workingDir, store)
	require.NoError(t, err)

	return &testEnv{
		builder: New(nodes, refs, store),
		stager:  st,
		dir:     workingDir,
		cas:     store,
	}
}

func (e *testEnv) writeFile(t *testing.T, path, content string) {
	t.Helper()
	abs := filepath.Join(e.dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (e *testEnv) stageAll(t *testing.T) {
	t.Helper()
	head, err := e.builder.HeadLookup()
	require.NoError(t, err)
	require.NoError(t, e.stager.Add(context.Background(), ".", head))
}

func TestInitialCommitTwoFiles(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "hello.txt", "Hello")
	env.writeFile(t, "dir/a.csv", "a,b\n1,2")
	env.stageAll(t)

	commit, err := env.builder.Commit(context.Background(), env.stager, Request{
		Branch:    "main",
		Message:   "initial",
		Author:    "tester",
		Email:     "tester@example.com",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, commit.IsRoot())
	assert.False(t, commit.Root.IsZero())

	root, err := env.builder.nodes.Get(commit.Root)
	require.NoError(t, err)
	rootDir := root.(*objects.DirectoryNode)
	assert.Len(t, rootDir.Children, 2)

	head, err := env.builder.HeadLookup()
	require.NoError(t, err)
	h, ok := head.Hash("hello.txt")
	require.True(t, ok)
	assert.Equal(t, hash.Sum([]byte("Hello")), h)

	assert.Empty(t, env.stager.Entries(), "commit must clear the stage")

	branchHash, err := env.builder.refs.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, commit.Hash, branchHash)
}

func TestNothingToCommitRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.builder.Commit(context.Background(), env.stager, Request{Branch: "main", Message: "empty"})
	require.Error(t, err)
}

func TestSecondCommitSharesUnchangedSibling(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "a.txt", "A")
	env.writeFile(t, "keep/b.txt", "B")
	env.stageAll(t)
	c1, err := env.builder.Commit(context.Background(), env.stager, Request{
		Branch: "main", Message: "first", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	root1, err := env.builder.nodes.Get(c1.Root)
	require.NoError(t, err)
	keepHash1 := childHash(t, root1.(*objects.DirectoryNode), "keep")

	env.writeFile(t, "a.txt", "A2")
	env.stageAll(t)
	c2, err := env.builder.Commit(context.Background(), env.stager, Request{
		Branch: "main", Message: "second", Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, c1.Hash, c2.Parents[0])

	root2, err := env.builder.nodes.Get(c2.Root)
	require.NoError(t, err)
	keepHash2 := childHash(t, root2.(*objects.DirectoryNode), "keep")
	assert.Equal(t, keepHash1, keepHash2, "unchanged sibling directory must keep its hash")
}

func TestRemoveFile(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "a.txt", "A")
	env.stageAll(t)
	_, err := env.builder.Commit(context.Background(), env.stager, Request{
		Branch: "main", Message: "first", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	head, err := env.builder.HeadLookup()
	require.NoError(t, err)
	require.NoError(t, env.stager.Remove("a.txt", false, false, head))

	c2, err := env.builder.Commit(context.Background(), env.stager, Request{
		Branch: "main", Message: "remove", Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	root, err := env.builder.nodes.Get(c2.Root)
	require.NoError(t, err)
	assert.Empty(t, root.(*objects.DirectoryNode).Children)
}

func TestDetachedHeadAdvancesWithoutMovingBranch(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "a.txt", "A")
	env.stageAll(t)
	c1, err := env.builder.Commit(context.Background(), env.stager, Request{
		Branch: "main", Message: "first", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, env.builder.refs.DetachHead(c1.Hash))
	env.writeFile(t, "b.txt", "B")
	env.stageAll(t)
	c2, err := env.builder.Commit(context.Background(), env.stager, Request{
		Message: "detached", Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	branchHash, err := env.builder.refs.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, c1.Hash, branchHash, "detached commit must not move main")

	_, h, detached, err := env.builder.refs.Head()
	require.NoError(t, err)
	assert.True(t, detached)
	assert.Equal(t, c2.Hash, h)
}

func TestDirectoryShardsPastThreshold(t *testing.T) {
	old := ShardThreshold
	ShardThreshold = 4
	defer func() { ShardThreshold = old }()

	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		env.writeFile(t, filepath.Join("many", letterName(i)+".txt"), letterName(i))
	}
	env.stageAll(t)
	c, err := env.builder.Commit(context.Background(), env.stager, Request{
		Branch: "main", Message: "many files", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	root, err := env.builder.nodes.Get(c.Root)
	require.NoError(t, err)
	manyHash := childHash(t, root.(*objects.DirectoryNode), "many")
	manyNode, err := env.builder.nodes.Get(manyHash)
	require.NoError(t, err)
	manyDir := manyNode.(*objects.DirectoryNode)
	assert.True(t, manyDir.Sharded())

	head, err := env.builder.HeadLookup()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		name := letterName(i)
		h, ok := head.Hash("many/" + name + ".txt")
		require.True(t, ok, "file %s must resolve through sharded directory", name)
		assert.Equal(t, hash.Sum([]byte(name)), h)
	}
}

func letterName(i int) string {
	return string(rune('a' + i))
}

func childHash(t *testing.T, dir *objects.DirectoryNode, name string) hash.Hash {
	t.Helper()
	for _, c := range dir.Children {
		if c.Name == name {
			return c.Hash
		}
	}
	t.Fatalf("child %q not found", name)
	return hash.Zero
}
