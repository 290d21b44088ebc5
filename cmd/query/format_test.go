package query

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dSearch/lib/directory"
	"github.com/ValentinKolb/dSearch/rpc/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatResult(t *testing.T) {
	result := client.Result{
		Author:      "Jane",
		Counts:      map[int]int{2019: 1, 2020: 3, 2021: 2},
		Contributed: []string{"chunk_1.lson"},
		Elapsed:     1500 * time.Microsecond,
	}

	assert.Equal(t, "Jane: 6 papers in total\n"+
		"  2019   1\n"+
		"  2020   3\n"+
		"  2021   2\n"+
		"  query took 1.5ms\n", FormatResult(result, -1, -1))

	out := FormatResult(result, 2020, -1)
	assert.Contains(t, out, "Jane: 5 papers since 2020\n")
	assert.NotContains(t, out, "2019")

	assert.Contains(t, FormatResult(result, -1, 2019), "Jane: 1 papers up to 2019\n")
	assert.Contains(t, FormatResult(result, 2020, 2020), "Jane: 3 papers from 2020 to 2020\n")
}

func TestFormatResultPartial(t *testing.T) {
	out := FormatResult(client.Result{
		Author:  "Nobody",
		Counts:  map[int]int{},
		Omitted: []string{"chunk_2.lson", "chunk_3.lson"},
	}, -1, -1)

	assert.Contains(t, out, "no papers found for Nobody\n")
	assert.Contains(t, out, "skipped chunks (no server available): chunk_2.lson, chunk_3.lson\n")
}

func TestFormatStatus(t *testing.T) {
	dir, err := directory.New(directory.Topology{
		Servers: map[directory.ServerID]string{1: "a:1", 2: "b:2"},
		Chunks:  map[string][]directory.ServerID{"chunk_1.lson": {1, 2}},
	})
	require.NoError(t, err)
	dir.MarkDown(2)

	out := FormatStatus(dir, dir.StatusSnapshot())
	assert.Contains(t, out, "alive: 1, down: 1\n")
	assert.Regexp(t, `1\s+a:1\s+alive`, out)
	assert.Regexp(t, `2\s+b:2\s+down`, out)
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("1, 3")
	require.NoError(t, err)
	assert.Equal(t, []directory.ServerID{1, 3}, ids)

	ids, err = parseIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = parseIDs("one")
	assert.Error(t, err)
}
