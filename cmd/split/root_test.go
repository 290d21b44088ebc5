package split

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/dSearch/rpc/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBuildsServableLayout(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "all.lson")
	var lines []string
	for i := 0; i < 7; i++ {
		lines = append(lines, fmt.Sprintf(`{"Author %d":{"2020":%d}}`, i, i+1))
	}
	require.NoError(t, os.WriteFile(src, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	out := filepath.Join(dir, "cluster")
	var buf bytes.Buffer
	SplitCmd.SetOut(&buf)
	SplitCmd.SetArgs([]string{"--out", out, "--chunks", "3", "--replicas", "1", src})
	require.NoError(t, SplitCmd.Execute())

	assert.Contains(t, buf.String(), "distributed 7 lines over 6 files")
	assert.Contains(t, buf.String(), "chunk assignment: chunk_1.lson=1:2,chunk_2.lson=2:3,chunk_3.lson=3:1\n")
	assert.FileExists(t, filepath.Join(out, "server1", "chunk_1.btree"))
	assert.FileExists(t, filepath.Join(out, "server2", "chunk_1_replica1.btree"))
	assert.FileExists(t, filepath.Join(out, "server1", "chunk_3_replica1.btree"))

	// server1 holds chunk_1 (authors 0..2) and a replica of chunk_3 (author 6)
	node, err := server.OpenNode(filepath.Join(out, "server1"))
	require.NoError(t, err)
	defer node.Close()

	line, err := node.Lookup("Author 1")
	require.NoError(t, err)
	assert.Equal(t, `{"Author 1":{"2020":2}}`, string(line))

	line, err = node.Lookup("Author 6")
	require.NoError(t, err)
	assert.Equal(t, `{"Author 6":{"2020":7}}`, string(line))
	assert.True(t, node.ReplicasLoaded())

	_, err = node.Lookup("Author 4")
	assert.ErrorIs(t, err, server.ErrNotFound)
}

func TestBucket(t *testing.T) {
	var buf bytes.Buffer
	BucketCmd.SetOut(&buf)
	BucketCmd.SetArgs([]string{"--buckets", "3", "abc"})
	require.NoError(t, BucketCmd.Execute())
	// 'a'+'b'+'c' = 294, 294 mod 3 = 0
	assert.Equal(t, "abc\t0\n", buf.String())
}
