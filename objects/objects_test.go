package objects

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/hash"
)

func TestCommitRoundTrip(t *testing.T) {
	c := &CommitNode{
		Message:   "initial commit",
		Author:    "Ada",
		Email:     "ada@example.com",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Parents:   nil,
		Root:      hash.Sum([]byte("root")),
	}
	c.Finalize()

	decoded, err := DecodeCommit(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c.Message, decoded.Message)
	assert.Equal(t, c.Root, decoded.Root)
	assert.Equal(t, c.Hash, decoded.Hash)
	assert.True(t, decoded.IsRoot())
	assert.False(t, decoded.IsMerge())
}

func TestCommitHashIsPureFunctionOfPayload(t *testing.T) {
	mk := func(msg string) *CommitNode {
		c := &CommitNode{Message: msg, Author: "a", Email: "a@b.c", Timestamp: time.Unix(0, 0).UTC()}
		c.Finalize()
		return c
	}
	a := mk("x")
	b := mk("x")
	c := mk("y")
	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestMergeCommitHasTwoParents(t *testing.T) {
	c := &CommitNode{Parents: []hash.Hash{hash.Sum([]byte("p1")), hash.Sum([]byte("p2"))}}
	assert.True(t, c.IsMerge())
}

func TestDirectoryRoundTrip(t *testing.T) {
	d := &DirectoryNode{
		Name:         "dir",
		Size:         42,
		LastCommitID: hash.Sum([]byte("commit")),
		Children: []ChildRef{
			{Name: "a.csv", Kind: KindFile, Hash: hash.Sum([]byte("a"))},
		},
	}
	d.Finalize()

	decoded, err := DecodeDirectory(d.Encode())
	require.NoError(t, err)
	assert.Equal(t, d.Hash, decoded.Hash)
	assert.Len(t, decoded.Children, 1)
	assert.False(t, decoded.Sharded())
}

func TestDirectorySharded(t *testing.T) {
	d := &DirectoryNode{Children: []ChildRef{{Kind: KindVNode}}}
	assert.True(t, d.Sharded())
}

func TestVNodeBucketStable(t *testing.T) {
	b1 := BucketFor("a.csv")
	b2 := BucketFor("a.csv")
	assert.Equal(t, b1, b2)
	assert.Less(t, b1, uint32(BucketCount))
}

func TestFileRoundTrip(t *testing.T) {
	f := &FileNode{
		Name:        "a.csv",
		PayloadHash: hash.Sum([]byte("a,b\n1,2")),
		Length:      7,
		DataType:    DataTabular,
		MimeType:    "text/csv",
		Extension:   "csv",
		Metadata:    Metadata{SchemaHash: hash.Sum([]byte("schema")), Extra: map[string]string{"k": "v"}},
		Layout:      LayoutSingleFile,
		Backend:     BackendDisk,
	}
	f.Finalize()

	decoded, err := DecodeFile(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, f.Hash, decoded.Hash)
	assert.Equal(t, f.Metadata.Extra, decoded.Metadata.Extra)
}

func TestFileChunkedLayout(t *testing.T) {
	f := &FileNode{
		Layout:      LayoutChunked,
		ChunkHashes: []hash.Hash{hash.Sum([]byte("c0")), hash.Sum([]byte("c1"))},
	}
	f.Finalize()
	decoded, err := DecodeFile(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, f.ChunkHashes, decoded.ChunkHashes)
}

func TestSchemaRoundTrip(t *testing.T) {
	s := &SchemaNode{Fields: []SchemaField{
		{Name: "id", DataType: "i64"},
		{Name: "label", DataType: "str", Metadata: map[string]string{"nullable": "false"}},
	}}
	s.Finalize()
	decoded, err := DecodeSchema(s.Encode())
	require.NoError(t, err)
	assert.Equal(t, s.Hash, decoded.Hash)
	assert.Equal(t, s.Fields, decoded.Fields)
}

func TestDecodeDispatch(t *testing.T) {
	f := &FileNode{Name: "x"}
	f.Finalize()
	n, err := Decode(KindFile, f.Encode())
	require.NoError(t, err)
	fn, ok := n.(*FileNode)
	require.True(t, ok)
	assert.Equal(t, f.Hash, fn.Hash)

	_, err = Decode(Kind(99), nil)
	assert.Error(t, err)
}
